package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envLogLevel        = "US_LOG_LEVEL"
	envPollInterval    = "US_POLL_INTERVAL"
	envManifestURL     = "US_MANIFEST_URL"
	envManifestPath    = "US_MANIFEST_PATH"
	envPolicyFile      = "US_POLICY_FILE"
	envSlackWebhookURL = "US_SLACK_WEBHOOK_URL"
	envWebhookURL      = "US_WEBHOOK_URL"
	envDockerHost      = "US_DOCKER_HOST"
	envHelmBin         = "US_HELM_BIN"
	envKubeconfig      = "US_KUBECONFIG"
	envStateDir        = "US_STATE_DIR"
	envListenAddr      = "US_LISTEN_ADDR"
	envDryRun          = "US_DRY_RUN"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultStateDir     = "/var/lib/update-sentinel"
	defaultListenAddr   = ":8080"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	LogLevel        string
	PollInterval    time.Duration
	ManifestURL     string
	ManifestPath    string
	PolicyFile      string
	SlackWebhookURL string
	WebhookURL      string
	DockerHost      string
	HelmBin         string
	Kubeconfig      string
	StateDir        string
	ListenAddr      string
	DryRun          bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		PollInterval: defaultPollInterval,
		StateDir:     defaultStateDir,
		ListenAddr:   defaultListenAddr,
	}

	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envPollInterval); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPollInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envPollInterval)
		}
		cfg.PollInterval = interval
	}

	if value, ok := lookupTrimmed(envManifestURL); ok {
		cfg.ManifestURL = value
	}
	if value, ok := lookupTrimmed(envManifestPath); ok {
		cfg.ManifestPath = value
	}
	if value, ok := lookupTrimmed(envPolicyFile); ok {
		cfg.PolicyFile = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}
	if value, ok := lookupTrimmed(envHelmBin); ok {
		cfg.HelmBin = value
	}
	if value, ok := lookupTrimmed(envKubeconfig); ok {
		cfg.Kubeconfig = value
	}
	if value, ok := lookupTrimmed(envStateDir); ok {
		cfg.StateDir = value
	}
	if value, ok := lookupTrimmed(envListenAddr); ok {
		cfg.ListenAddr = value
	}
	if value, ok := lookupTrimmed(envDryRun); ok {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	if cfg.ManifestURL == "" && cfg.ManifestPath == "" && cfg.PolicyFile == "" {
		return Config{}, errors.New("one of US_MANIFEST_URL, US_MANIFEST_PATH, or US_POLICY_FILE is required")
	}

	if cfg.ManifestURL != "" {
		if err := validateURL(cfg.ManifestURL, envManifestURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
