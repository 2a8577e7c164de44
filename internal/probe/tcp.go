package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

// TCPConfig describes a TCP connect probe.
type TCPConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

func (c *TCPConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
}

// TCPChecker probes a TCP port with the same retry schedule as the HTTP
// checker. A successful connect is immediately closed.
type TCPChecker struct {
	config TCPConfig
	logger zerolog.Logger
	dial   func(network, address string, timeout time.Duration) (net.Conn, error)
	sleep  func(ctx context.Context, d time.Duration) bool
}

// TCPOption customizes TCPChecker behavior.
type TCPOption func(*TCPChecker)

// WithTCPDialer overrides the dial function (for tests).
func WithTCPDialer(dial func(network, address string, timeout time.Duration) (net.Conn, error)) TCPOption {
	return func(c *TCPChecker) {
		c.dial = dial
	}
}

// WithTCPSleep overrides the inter-attempt sleep (for tests).
func WithTCPSleep(sleep func(ctx context.Context, d time.Duration) bool) TCPOption {
	return func(c *TCPChecker) {
		c.sleep = sleep
	}
}

// NewTCPChecker constructs a TCP checker from the given config.
func NewTCPChecker(config TCPConfig, logger zerolog.Logger, opts ...TCPOption) *TCPChecker {
	config.applyDefaults()

	checker := &TCPChecker{
		config: config,
		logger: logger,
		dial:   net.DialTimeout,
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		opt(checker)
	}
	return checker
}

// Check implements Checker.
func (c *TCPChecker) Check(ctx context.Context, _ inventory.Asset) Result {
	address := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	var passed, failed []string
	schedule := attemptBackoff()

	for attempt := 0; attempt < c.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			failed = append(failed, fmt.Sprintf("%v (attempt %d)", err, attempt+1))
			break
		}

		conn, err := c.dial("tcp", address, c.config.Timeout)
		if err == nil {
			_ = conn.Close()
			passed = append(passed, fmt.Sprintf("TCP port %d open (attempt %d)", c.config.Port, attempt+1))
			return Result{
				Status:           StatusHealthy,
				Healthy:          true,
				ReadyReplicas:    1,
				TotalReplicas:    1,
				HealthPercentage: 100.0,
				ChecksPassed:     passed,
				ChecksFailed:     failed,
				Message:          fmt.Sprintf("TCP port %d is accessible", c.config.Port),
				Details:          map[string]any{"host": c.config.Host, "port": c.config.Port},
			}
		}
		failed = append(failed, fmt.Sprintf("TCP port %d closed: %v (attempt %d)", c.config.Port, err, attempt+1))

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
		Message:          fmt.Sprintf("TCP health check failed after %d attempts", c.config.Retries),
		Details:          map[string]any{"host": c.config.Host, "port": c.config.Port},
	}
}
