package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

// HTTPConfig describes an HTTP health probe.
type HTTPConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Timeout        time.Duration     `yaml:"timeout"`
	Retries        int               `yaml:"retries"`
	ExpectedStatus int               `yaml:"expected_status"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.ExpectedStatus == 0 {
		c.ExpectedStatus = http.StatusOK
	}
}

// HTTPChecker probes an HTTP endpoint. A response status inside
// [expected, expected+100) passes; anything else, including transport
// errors, is retried with exponential backoff until the retry budget is
// spent.
type HTTPChecker struct {
	config HTTPConfig
	logger zerolog.Logger
	client *retryablehttp.Client
	sleep  func(ctx context.Context, d time.Duration) bool
}

// HTTPOption customizes HTTPChecker behavior.
type HTTPOption func(*HTTPChecker)

// WithHTTPSleep overrides the inter-attempt sleep (for tests).
func WithHTTPSleep(sleep func(ctx context.Context, d time.Duration) bool) HTTPOption {
	return func(c *HTTPChecker) {
		c.sleep = sleep
	}
}

// NewHTTPChecker constructs an HTTP checker from the given config.
func NewHTTPChecker(config HTTPConfig, logger zerolog.Logger, opts ...HTTPOption) *HTTPChecker {
	config.applyDefaults()

	// Retries are driven by our own backoff schedule, not the client's.
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: config.Timeout}

	checker := &HTTPChecker{
		config: config,
		logger: logger,
		client: client,
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		opt(checker)
	}
	return checker
}

// Check implements Checker.
func (c *HTTPChecker) Check(ctx context.Context, _ inventory.Asset) Result {
	var passed, failed []string

	schedule := attemptBackoff()

	for attempt := 0; attempt < c.config.Retries; attempt++ {
		statusCode, err := c.attempt(ctx)
		switch {
		case err != nil:
			failed = append(failed, fmt.Sprintf("%v (attempt %d)", err, attempt+1))
		case c.accepted(statusCode):
			passed = append(passed, fmt.Sprintf("HTTP %d (attempt %d)", statusCode, attempt+1))
			return Result{
				Status:           StatusHealthy,
				Healthy:          true,
				ReadyReplicas:    1,
				TotalReplicas:    1,
				HealthPercentage: 100.0,
				ChecksPassed:     passed,
				ChecksFailed:     failed,
				Message:          fmt.Sprintf("HTTP health check passed: %d", statusCode),
				Details:          map[string]any{"status_code": statusCode, "url": c.config.Endpoint},
			}
		default:
			failed = append(failed, fmt.Sprintf("unexpected status %d (attempt %d)", statusCode, attempt+1))
		}

		if attempt < c.config.Retries-1 {
			if !c.sleep(ctx, schedule.NextBackOff()) {
				break
			}
		}
	}

	return Result{
		Status:           StatusUnhealthy,
		Healthy:          false,
		ReadyReplicas:    0,
		TotalReplicas:    1,
		HealthPercentage: 0.0,
		ChecksPassed:     passed,
		ChecksFailed:     failed,
		Message:          fmt.Sprintf("HTTP health check failed after %d attempts", c.config.Retries),
		Details:          map[string]any{"url": c.config.Endpoint},
	}
}

func (c *HTTPChecker) attempt(ctx context.Context) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, c.config.Method, c.config.Endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (c *HTTPChecker) accepted(statusCode int) bool {
	return statusCode >= c.config.ExpectedStatus && statusCode < c.config.ExpectedStatus+100
}

// attemptBackoff yields 1s, 2s, 4s, ... between attempts (2^attempt seconds).
func attemptBackoff() backoff.BackOff {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = 1 * time.Second
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxInterval = 5 * time.Minute
	schedule.MaxElapsedTime = 0
	schedule.Reset()
	return schedule
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
