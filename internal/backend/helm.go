package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultHelmTimeout = 300 * time.Second

// commandRunner executes one CLI invocation. Injected so tests never need
// a helm binary.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Helm is an ExecutionBackend adapter around the helm CLI. The core never
// sees the subprocess; it only sees UpdateResults.
type Helm struct {
	bin    string
	logger zerolog.Logger
	run    commandRunner
}

// HelmOption customizes the Helm adapter.
type HelmOption func(*Helm)

// WithRunner overrides subprocess execution (for tests).
func WithRunner(run commandRunner) HelmOption {
	return func(h *Helm) {
		h.run = run
	}
}

// NewHelm constructs a Helm adapter. bin defaults to "helm" on PATH.
func NewHelm(bin string, logger zerolog.Logger, opts ...HelmOption) *Helm {
	if bin == "" {
		bin = "helm"
	}
	h := &Helm{bin: bin, logger: logger, run: execRunner}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Verify checks that the helm binary is present and functional.
func (h *Helm) Verify(ctx context.Context) error {
	_, stderr, err := h.run(ctx, h.bin, "version", "--short")
	if err != nil {
		return fmt.Errorf("helm not found or not functional: %v (%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Upgrade implements ExecutionBackend.
func (h *Helm) Upgrade(ctx context.Context, req UpgradeRequest) UpdateResult {
	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = defaultHelmTimeout
	}

	args := []string{
		"upgrade", "--install",
		req.Release, req.ChartRef,
		"--version", req.Version,
		"--namespace", h.namespace(req.Namespace),
		"--timeout", fmt.Sprintf("%ds", int(timeout.Seconds())),
	}
	if req.Options.DryRun {
		args = append(args, "--dry-run")
	} else {
		if req.Options.Atomic {
			args = append(args, "--atomic")
		}
		if req.Options.Wait {
			args = append(args, "--wait")
		}
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	_, stderr, err := h.run(runCtx, h.bin, args...)
	duration := time.Since(start)

	if err != nil {
		message := strings.TrimSpace(string(stderr))
		h.logger.Error().Str("release", req.Release).Str("version", req.Version).Str("stderr", message).Msg("helm upgrade failed")
		return UpdateResult{
			Success:  false,
			Status:   StatusFailed,
			Duration: duration,
			Message:  fmt.Sprintf("upgrade failed: %s", message),
			Err:      err,
		}
	}

	revision, _ := h.currentRevision(ctx, req.Release, req.Namespace)
	h.logger.Info().Str("release", req.Release).Str("version", req.Version).Int("revision", revision).Msg("helm upgrade complete")
	return UpdateResult{
		Success:  true,
		Status:   StatusSuccess,
		Revision: revision,
		Duration: duration,
		Message:  fmt.Sprintf("successfully upgraded %s to %s", req.Release, req.Version),
	}
}

// Rollback implements ExecutionBackend.
func (h *Helm) Rollback(ctx context.Context, req RollbackRequest) UpdateResult {
	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = defaultHelmTimeout
	}

	args := []string{"rollback", req.Release}
	if req.Revision > 0 {
		args = append(args, strconv.Itoa(req.Revision))
	}
	args = append(args,
		"--namespace", h.namespace(req.Namespace),
		"--timeout", fmt.Sprintf("%ds", int(timeout.Seconds())),
		"--wait",
	)

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	_, stderr, err := h.run(runCtx, h.bin, args...)
	duration := time.Since(start)

	if err != nil {
		message := strings.TrimSpace(string(stderr))
		h.logger.Error().Str("release", req.Release).Str("stderr", message).Msg("helm rollback failed")
		return UpdateResult{
			Success:  false,
			Status:   StatusFailed,
			Duration: duration,
			Message:  fmt.Sprintf("rollback failed: %s", message),
			Err:      err,
		}
	}

	revision, _ := h.currentRevision(ctx, req.Release, req.Namespace)
	h.logger.Info().Str("release", req.Release).Int("revision", revision).Msg("helm rollback complete")
	return UpdateResult{
		Success:  true,
		Status:   StatusRolledBack,
		Revision: revision,
		Duration: duration,
		Message:  fmt.Sprintf("rolled back %s", req.Release),
	}
}

// History implements ExecutionBackend.
func (h *Helm) History(ctx context.Context, release, namespace string, max int) ([]Revision, error) {
	if max <= 0 {
		max = 10
	}
	args := []string{
		"history", release,
		"--namespace", h.namespace(namespace),
		"--output", "json",
		"--max", strconv.Itoa(max),
	}

	stdout, stderr, err := h.run(ctx, h.bin, args...)
	if err != nil {
		return nil, fmt.Errorf("helm history: %v (%s)", err, strings.TrimSpace(string(stderr)))
	}

	var revisions []Revision
	if err := json.Unmarshal(stdout, &revisions); err != nil {
		return nil, fmt.Errorf("parse helm history: %w", err)
	}
	return revisions, nil
}

// CurrentVersion returns the deployed chart version of a release, or ""
// when the release is unknown.
func (h *Helm) CurrentVersion(ctx context.Context, release, namespace string) (string, error) {
	stdout, stderr, err := h.run(ctx, h.bin,
		"list", "--filter", fmt.Sprintf("^%s$", release),
		"--namespace", h.namespace(namespace),
		"--output", "json",
	)
	if err != nil {
		return "", fmt.Errorf("helm list: %v (%s)", err, strings.TrimSpace(string(stderr)))
	}

	var releases []struct {
		Name  string `json:"name"`
		Chart string `json:"chart"`
	}
	if err := json.Unmarshal(stdout, &releases); err != nil {
		return "", fmt.Errorf("parse helm list: %w", err)
	}
	for _, r := range releases {
		if r.Name != release {
			continue
		}
		// chart is "name-1.2.3"; the version starts after the last dash.
		if idx := strings.LastIndex(r.Chart, "-"); idx != -1 {
			return r.Chart[idx+1:], nil
		}
	}
	return "", nil
}

func (h *Helm) currentRevision(ctx context.Context, release, namespace string) (int, error) {
	history, err := h.History(ctx, release, namespace, 1)
	if err != nil || len(history) == 0 {
		return 0, err
	}
	return history[len(history)-1].Revision, nil
}

func (h *Helm) namespace(namespace string) string {
	if namespace == "" {
		return "default"
	}
	return namespace
}
