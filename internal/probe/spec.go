package probe

import (
	"fmt"

	"github.com/rs/zerolog"
	"k8s.io/client-go/kubernetes"
)

// Type selects the probe variant. The set is closed: adding a variant
// means adding a Checker implementation, not a new string case at call
// sites.
type Type string

const (
	TypeHTTP       Type = "http"
	TypeTCP        Type = "tcp"
	TypeKubernetes Type = "kubernetes"
)

// Spec is the serialized form of one health check definition.
type Spec struct {
	Type Type        `yaml:"type"`
	HTTP *HTTPConfig `yaml:"http,omitempty"`
	TCP  *TCPConfig  `yaml:"tcp,omitempty"`
}

// Build materializes the checker for a spec. The Kubernetes variant
// carries no per-check config; it reads everything from the asset.
func Build(spec Spec, kubeClient kubernetes.Interface, logger zerolog.Logger) (Checker, error) {
	switch spec.Type {
	case TypeHTTP:
		if spec.HTTP == nil {
			return nil, fmt.Errorf("http health check requires an http section")
		}
		return NewHTTPChecker(*spec.HTTP, logger), nil
	case TypeTCP:
		if spec.TCP == nil {
			return nil, fmt.Errorf("tcp health check requires a tcp section")
		}
		return NewTCPChecker(*spec.TCP, logger), nil
	case TypeKubernetes:
		return NewKubeChecker(kubeClient, logger), nil
	default:
		return nil, fmt.Errorf("unsupported health check type %q", spec.Type)
	}
}
