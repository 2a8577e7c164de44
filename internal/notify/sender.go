package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const responseExcerptLimit = 1024

// sendPolicy bounds a single notification delivery: one request timeout, a
// token bucket per rate key, and an exponential backoff budget across
// attempts.
type sendPolicy struct {
	requestTimeout time.Duration
	throttleEvery  time.Duration
	throttleBurst  int
	retryBase      time.Duration
	retryCap       time.Duration
	retryBudget    time.Duration
}

func defaultSendPolicy() sendPolicy {
	return sendPolicy{
		requestTimeout: 10 * time.Second,
		throttleEvery:  time.Second,
		throttleBurst:  1,
		retryBase:      time.Second,
		retryCap:       10 * time.Second,
		retryBudget:    30 * time.Second,
	}
}

// verdict classifies a single delivery attempt.
type verdict int

const (
	verdictDelivered verdict = iota
	// verdictRetry covers transport failures and endpoint errors worth
	// another attempt on the backoff schedule.
	verdictRetry
	// verdictThrottled means the endpoint returned a Retry-After hint that
	// overrides the backoff step.
	verdictThrottled
	verdictFatal
)

type attemptOutcome struct {
	verdict verdict
	wait    time.Duration
	err     error
}

// sender posts notification payloads to a single endpoint with per-key rate
// gating and bounded retries. Slack and webhook notifiers share it.
type sender struct {
	log         zerolog.Logger
	channel     string
	endpoint    string
	contentType string
	http        *retryablehttp.Client
	policy      sendPolicy

	mu    sync.Mutex
	gates map[string]*rate.Limiter
}

func newSender(log zerolog.Logger, channel, endpoint, contentType string, policy sendPolicy) *sender {
	client := retryablehttp.NewClient()
	// Retries are scheduled in deliver, where throttle hints are visible.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: policy.requestTimeout}

	return &sender{
		log:         log,
		channel:     channel,
		endpoint:    endpoint,
		contentType: contentType,
		http:        client,
		policy:      policy,
		gates:       make(map[string]*rate.Limiter),
	}
}

// rateKey buckets deliveries so failure alerts keep their own token bucket
// and are not starved by a burst of routine confirmations from the same
// source.
func rateKey(source string, events []Event) string {
	for _, ev := range events {
		switch ev.Phase {
		case PhaseUpdateFailed, PhaseRolledBack, PhaseRollbackBlocked:
			return source + "/alert"
		}
	}
	return source + "/info"
}

// acquire blocks until the rate gate for key allows another delivery.
func (s *sender) acquire(ctx context.Context, key string) error {
	s.mu.Lock()
	gate, ok := s.gates[key]
	if !ok {
		gate = rate.NewLimiter(rate.Every(s.policy.throttleEvery), s.policy.throttleBurst)
		s.gates[key] = gate
	}
	s.mu.Unlock()
	return gate.Wait(ctx)
}

// deliver posts payload, retrying transient failures until the retry budget
// runs out.
func (s *sender) deliver(ctx context.Context, payload []byte) error {
	plan := backoff.NewExponentialBackOff()
	plan.InitialInterval = s.policy.retryBase
	plan.MaxInterval = s.policy.retryCap
	plan.MaxElapsedTime = s.policy.retryBudget
	plan.Reset()

	for {
		out := s.attempt(ctx, payload)
		switch out.verdict {
		case verdictDelivered:
			return nil
		case verdictFatal:
			return out.err
		case verdictThrottled:
			s.log.Debug().
				Str("channel", s.channel).
				Dur("wait", out.wait).
				Msg("endpoint throttled delivery")
			if err := pause(ctx, out.wait); err != nil {
				return err
			}
		default:
			wait := plan.NextBackOff()
			if wait == backoff.Stop {
				return out.err
			}
			if err := pause(ctx, wait); err != nil {
				return err
			}
		}
	}
}

// attempt performs one POST and classifies the response.
func (s *sender) attempt(ctx context.Context, payload []byte) attemptOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, s.policy.requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return attemptOutcome{verdict: verdictFatal, err: fmt.Errorf("build %s request: %w", s.channel, err)}
	}
	req.Header.Set("Content-Type", s.contentType)

	resp, err := s.http.Do(req)
	if err != nil {
		return attemptOutcome{verdict: verdictRetry, err: fmt.Errorf("%s request: %w", s.channel, err)}
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerptLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return attemptOutcome{verdict: verdictDelivered}
	case resp.StatusCode == http.StatusTooManyRequests:
		throttled := fmt.Errorf("%s throttled upstream: %s", s.channel, resp.Status)
		if wait, ok := retryAfterHint(resp.Header.Get("Retry-After")); ok {
			return attemptOutcome{verdict: verdictThrottled, wait: wait, err: throttled}
		}
		return attemptOutcome{verdict: verdictRetry, err: throttled}
	case resp.StatusCode >= http.StatusInternalServerError:
		return attemptOutcome{verdict: verdictRetry, err: fmt.Errorf("%s endpoint error: %s", s.channel, resp.Status)}
	}

	if text := strings.TrimSpace(string(excerpt)); text != "" {
		return attemptOutcome{verdict: verdictFatal, err: fmt.Errorf("%s rejected delivery: %s (%s)", s.channel, resp.Status, text)}
	}
	return attemptOutcome{verdict: verdictFatal, err: fmt.Errorf("%s rejected delivery: %s", s.channel, resp.Status)}
}

// retryAfterHint parses a Retry-After header, either delta-seconds or an
// HTTP date. Hints in the past are discarded.
func retryAfterHint(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(header); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func pause(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
