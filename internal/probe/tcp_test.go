package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

func TestTCPChecker_Healthy(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	checker := NewTCPChecker(TCPConfig{Host: "127.0.0.1", Port: port, Retries: 2}, zerolog.Nop(), WithTCPSleep(instantSleep))

	result := checker.Check(context.Background(), inventory.Asset{})
	if !result.Healthy || result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", result)
	}
	if result.HealthPercentage != 100.0 {
		t.Fatalf("expected 100%%, got %.1f", result.HealthPercentage)
	}
}

func TestTCPChecker_RefusedThenOpen(t *testing.T) {
	attempts := 0
	dial := func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		go func() { _ = server.Close() }()
		return client, nil
	}

	checker := NewTCPChecker(TCPConfig{Port: 5432, Retries: 3}, zerolog.Nop(), WithTCPDialer(dial), WithTCPSleep(instantSleep))
	result := checker.Check(context.Background(), inventory.Asset{})

	if !result.Healthy {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 dial attempts, got %d", attempts)
	}
	if len(result.ChecksFailed) != 1 {
		t.Fatalf("expected one recorded failure, got %v", result.ChecksFailed)
	}
}

func TestTCPChecker_ExhaustsRetries(t *testing.T) {
	attempts := 0
	dial := func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	checker := NewTCPChecker(TCPConfig{Port: 5432, Retries: 3}, zerolog.Nop(), WithTCPDialer(dial), WithTCPSleep(instantSleep))
	result := checker.Check(context.Background(), inventory.Asset{})

	if result.Healthy || result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", attempts)
	}
}

func TestTCPChecker_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dial := func(network, address string, timeout time.Duration) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	checker := NewTCPChecker(TCPConfig{Port: 5432, Retries: 5}, zerolog.Nop(), WithTCPDialer(dial), WithTCPSleep(instantSleep))

	result := checker.Check(ctx, inventory.Asset{})
	if result.Healthy {
		t.Fatalf("expected failure under canceled context")
	}
}
