package gate

// Request identifies one proposed update in a batch evaluation.
type Request struct {
	ID      string
	Current string
	New     string
}

// Summary tallies batch decisions. The counts always sum to Total.
type Summary struct {
	Total          int `json:"total"`
	Approved       int `json:"approved"`
	ReviewRequired int `json:"review_required"`
	ManualApproval int `json:"manual_approval"`
	Rejected       int `json:"rejected"`
}

// BatchResult holds per-request evaluations plus aggregate tallies.
type BatchResult struct {
	Evaluations map[string]Evaluation `json:"evaluations"`
	Summary     Summary               `json:"summary"`
}

// BatchEvaluate gates each request independently. The fan-out shares no
// mutable state, so results do not depend on input order.
func (g *Gate) BatchEvaluate(requests []Request) BatchResult {
	result := BatchResult{
		Evaluations: make(map[string]Evaluation, len(requests)),
		Summary:     Summary{Total: len(requests)},
	}

	for _, req := range requests {
		evaluation := g.Evaluate(req.Current, req.New)
		result.Evaluations[req.ID] = evaluation

		switch evaluation.Decision {
		case Approve:
			result.Summary.Approved++
		case ReviewRequired:
			result.Summary.ReviewRequired++
		case ManualApproval:
			result.Summary.ManualApproval++
		default:
			result.Summary.Rejected++
		}
	}

	return result
}
