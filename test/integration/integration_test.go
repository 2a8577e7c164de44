//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/updatewatch/update-sentinel/internal/backend"
	"github.com/updatewatch/update-sentinel/internal/logging"
	"github.com/updatewatch/update-sentinel/internal/manifest"
)

// TestIntegrationManifestAndBackends verifies manifest fetching against a
// real HTTP server and backend access against real helm and Docker.
//
// Prerequisites:
//   - a manifest served at TEST_MANIFEST_URL
//   - optionally a Docker daemon at TEST_DOCKER_HOST
//   - optionally helm on PATH
//
// Run with: go test -tags=integration -v ./test/integration/...
func TestIntegrationManifestAndBackends(t *testing.T) {
	manifestURL := getEnv("TEST_MANIFEST_URL", "http://localhost:8888/manifest.yml")
	dockerHost := getEnv("TEST_DOCKER_HOST", "tcp://localhost:2375")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := checkEndpoint(ctx, manifestURL); err != nil {
		t.Skipf("manifest server not reachable: %v", err)
	}

	t.Run("ManifestFetch", func(t *testing.T) {
		fetcher, err := manifest.NewHTTPFetcher(manifestURL, 10*time.Second, 0)
		if err != nil {
			t.Fatalf("create fetcher: %v", err)
		}

		result, err := fetcher.Fetch(context.Background(), "")
		if err != nil {
			t.Fatalf("fetch manifest: %v", err)
		}
		if len(result.Body) == 0 {
			t.Fatal("expected non-empty manifest body")
		}

		parsed, err := manifest.Parse(context.Background(), result.Body)
		if err != nil {
			t.Fatalf("parse manifest: %v", err)
		}
		if len(parsed.Targets) == 0 {
			t.Fatal("expected at least one target in the manifest")
		}

		t.Logf("Parsed %d targets from the manifest", len(parsed.Targets))
	})

	t.Run("HelmVerify", func(t *testing.T) {
		logger := logging.New()
		helm := backend.NewHelm("", logger)
		if err := helm.Verify(context.Background()); err != nil {
			t.Skipf("helm not available: %v", err)
		}
	})

	t.Run("DockerHistory", func(t *testing.T) {
		logger := logging.New()
		docker, err := backend.NewDocker(dockerHost, 10*time.Second, logger)
		if err != nil {
			t.Skipf("docker daemon not reachable: %v", err)
		}

		revisions, err := docker.History(context.Background(), "nonexistent-release", "", 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(revisions) != 0 {
			t.Fatalf("expected no recorded revisions for a fresh adapter, got %d", len(revisions))
		}
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func checkEndpoint(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
