package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/updatewatch/update-sentinel/internal/audit"
	"github.com/updatewatch/update-sentinel/internal/backend"
	"github.com/updatewatch/update-sentinel/internal/config"
	"github.com/updatewatch/update-sentinel/internal/gate"
	"github.com/updatewatch/update-sentinel/internal/healthcheck"
	"github.com/updatewatch/update-sentinel/internal/inventory"
	"github.com/updatewatch/update-sentinel/internal/logging"
	"github.com/updatewatch/update-sentinel/internal/metrics"
	"github.com/updatewatch/update-sentinel/internal/notify"
	"github.com/updatewatch/update-sentinel/internal/probe"
	"github.com/updatewatch/update-sentinel/internal/rollback"
	"github.com/updatewatch/update-sentinel/internal/server"
	"github.com/updatewatch/update-sentinel/internal/updater"
)

const dockerTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "update-sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewWithLevel(cfg.LogLevel)
	logger.Info().Msg("update-sentinel starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	store := inventory.NewFileStore(filepath.Join(cfg.StateDir, "inventory.json"), logger)
	auditLog := audit.NewLog(ctx, audit.NewFileStore(filepath.Join(cfg.StateDir, "rollbacks.json"), logger), logger)

	policyFile, err := config.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return err
	}

	exec, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	kubeClient := buildKubeClient(cfg.Kubeconfig, logger)

	approvalGate := gate.New(policyFile.GatePolicy())
	rollbackManager := rollback.NewManager(policyFile.RollbackPolicy(), exec, auditLog, logger)
	notifier := buildNotifier(cfg, logger)
	collector := metrics.New()
	tracker := healthcheck.NewTracker()

	defaultProbe := probe.Spec{Type: probe.TypeKubernetes}
	if policyFile != nil && policyFile.Probe != nil {
		defaultProbe = *policyFile.Probe
	}

	newChecker := func(spec *probe.Spec) (probe.Checker, error) {
		resolved := defaultProbe
		if spec != nil {
			resolved = *spec
		}
		if resolved.Type == probe.TypeKubernetes && kubeClient == nil {
			return nil, errors.New("kubernetes health checks require a reachable cluster")
		}
		return probe.Build(resolved, kubeClient, logger)
	}

	newPipeline := func(source config.Source, checker probe.Checker) *updater.Pipeline {
		return updater.NewPipeline(updater.PipelineConfig{
			Gate:     approvalGate,
			Store:    store,
			Backend:  exec,
			Checker:  checker,
			Rollback: rollbackManager,
			Notifier: notifier,
			Metrics:  collector,
			Logger:   logger,
			Source:   source.Name,
			DryRun:   cfg.DryRun,
		})
	}

	sources, err := resolveSources(cfg, policyFile)
	if err != nil {
		return err
	}

	server.Start(ctx, logger, cfg.ListenAddr, server.Deps{
		Tracker:      tracker,
		Metrics:      collector,
		Store:        store,
		Rollback:     rollbackManager,
		PollInterval: cfg.PollInterval,
	})

	coordinator := updater.NewCoordinator(logger, cfg.PollInterval, sources, newChecker, newPipeline)
	coordinator.Track(tracker)

	if err := coordinator.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("update-sentinel stopped")
	return nil
}

func buildBackend(cfg config.Config, logger zerolog.Logger) (backend.ExecutionBackend, error) {
	if cfg.DockerHost != "" {
		return backend.NewDocker(cfg.DockerHost, dockerTimeout, logger)
	}
	return backend.NewHelm(cfg.HelmBin, logger), nil
}

func resolveSources(cfg config.Config, policyFile *config.PolicyFile) ([]config.Source, error) {
	if policyFile != nil && len(policyFile.Sources) > 0 {
		return policyFile.Sources, nil
	}
	if cfg.ManifestURL == "" && cfg.ManifestPath == "" {
		return nil, errors.New("no manifest sources configured")
	}
	return []config.Source{{
		Name:         "default",
		ManifestURL:  cfg.ManifestURL,
		ManifestPath: cfg.ManifestPath,
	}}, nil
}

func buildNotifier(cfg config.Config, logger zerolog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, "")
		if err != nil {
			logger.Error().Err(err).Msg("webhook notifier misconfigured, skipping")
		} else {
			notifiers = append(notifiers, webhook)
		}
	}

	var notifier notify.Notifier
	switch len(notifiers) {
	case 0:
		notifier = notify.NewNoop(logger, "no notification channels configured")
	case 1:
		notifier = notifiers[0]
	default:
		notifier = notify.NewMultiNotifier(notifiers...)
	}

	if cfg.DryRun {
		return notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier
}

// buildKubeClient tries, in order, an explicit kubeconfig, the in-cluster
// service account, and the default kubeconfig path. A nil return is fine
// when no source uses kubernetes health checks.
func buildKubeClient(kubeconfig string, logger zerolog.Logger) kubernetes.Interface {
	restConfig, err := resolveKubeConfig(kubeconfig)
	if err != nil {
		logger.Warn().Err(err).Msg("no kubernetes cluster access")
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("kubernetes client init failed")
		return nil
	}
	return client
}

func resolveKubeConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if restConfig, err := rest.InClusterConfig(); err == nil {
		return restConfig, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not locate a kubeconfig: %w", err)
	}
	return clientcmd.BuildConfigFromFlags("", filepath.Join(home, ".kube", "config"))
}
