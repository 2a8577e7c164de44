package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/updatewatch/update-sentinel/internal/gate"
	"github.com/updatewatch/update-sentinel/internal/probe"
	"github.com/updatewatch/update-sentinel/internal/rollback"
)

// Source maps one manifest location to a name used in logs and alerts.
type Source struct {
	Name         string        `yaml:"name"`
	ManifestURL  string        `yaml:"manifest_url,omitempty"`
	ManifestPath string        `yaml:"manifest_path,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	Probe        *probe.Spec   `yaml:"probe,omitempty"`
}

// RollbackSection mirrors rollback.Policy with auto_rollback as a pointer,
// so a partial section leaves the default (enabled) in place instead of
// silently reading the zero value.
type RollbackSection struct {
	AutoRollback        *bool         `yaml:"auto_rollback"`
	FailureThreshold    float64       `yaml:"failure_threshold"`
	MonitoringDuration  time.Duration `yaml:"monitoring_duration"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaxRollbackAttempts int           `yaml:"max_rollback_attempts"`
}

// PolicyFile is the parsed YAML structure for full engine configuration:
// gate and rollback policies, a default probe, and manifest sources.
type PolicyFile struct {
	Gate     *gate.Policy     `yaml:"gate,omitempty"`
	Rollback *RollbackSection `yaml:"rollback,omitempty"`
	Probe    *probe.Spec      `yaml:"probe,omitempty"`
	Sources  []Source         `yaml:"sources"`
}

// LoadPolicyFile parses a YAML policy file from the given path.
// Returns nil if path is empty (no policy file).
func LoadPolicyFile(path string) (*PolicyFile, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if err := validateSources(pf.Sources); err != nil {
		return nil, err
	}

	return &pf, nil
}

// GatePolicy returns the file's gate policy with unset actions filled
// from the defaults.
func (pf *PolicyFile) GatePolicy() gate.Policy {
	policy := gate.DefaultPolicy()
	if pf == nil || pf.Gate == nil {
		return policy
	}
	if pf.Gate.Patch != "" {
		policy.Patch = pf.Gate.Patch
	}
	if pf.Gate.Minor != "" {
		policy.Minor = pf.Gate.Minor
	}
	if pf.Gate.Major != "" {
		policy.Major = pf.Gate.Major
	}
	if pf.Gate.Prerelease != "" {
		policy.Prerelease = pf.Gate.Prerelease
	}
	return policy
}

// RollbackPolicy returns the file's rollback policy with unset fields
// filled from the defaults.
func (pf *PolicyFile) RollbackPolicy() rollback.Policy {
	policy := rollback.DefaultPolicy()
	if pf == nil || pf.Rollback == nil {
		return policy
	}
	if pf.Rollback.AutoRollback != nil {
		policy.AutoRollback = *pf.Rollback.AutoRollback
	}
	if pf.Rollback.FailureThreshold > 0 {
		policy.FailureThreshold = pf.Rollback.FailureThreshold
	}
	if pf.Rollback.MonitoringDuration > 0 {
		policy.MonitoringDuration = pf.Rollback.MonitoringDuration
	}
	if pf.Rollback.PollInterval > 0 {
		policy.PollInterval = pf.Rollback.PollInterval
	}
	if pf.Rollback.MaxRollbackAttempts > 0 {
		policy.MaxRollbackAttempts = pf.Rollback.MaxRollbackAttempts
	}
	return policy
}

func validateSources(sources []Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("policy file contains no sources")
	}

	seen := make(map[string]bool)

	for i, s := range sources {
		if s.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}

		if s.ManifestURL == "" && s.ManifestPath == "" {
			return fmt.Errorf("source %q: manifest_url or manifest_path is required", s.Name)
		}
		if s.ManifestURL != "" {
			if err := validateURL(s.ManifestURL, "manifest_url"); err != nil {
				return fmt.Errorf("source %q: %w", s.Name, err)
			}
		}

		if seen[s.Name] {
			return fmt.Errorf("source %q: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.Timeout < 0 {
			return fmt.Errorf("source %q: timeout cannot be negative", s.Name)
		}
	}

	return nil
}
