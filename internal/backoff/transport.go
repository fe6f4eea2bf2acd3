package backoff

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// State is a step of the retry state machine
type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport retries rate-limited requests according to Policy.
// The zero value is usable and behaves like DefaultPolicy over
// http.DefaultTransport.
type Transport struct {
	Base    http.RoundTripper
	Policy  Policy
	Limiter *rate.Limiter // optional client-side pacing
	Logger  *slog.Logger

	// Hooks for tests
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Jitter func(max time.Duration) time.Duration
}

// NewTransport creates a transport over base with the given policy
func NewTransport(base http.RoundTripper, policy Policy, limiter *rate.Limiter, logger *slog.Logger) *Transport {
	return &Transport{
		Base:    base,
		Policy:  policy,
		Limiter: limiter,
		Logger:  logger,
	}
}

// retryRun carries the mutable state of one RoundTrip
type retryRun struct {
	state    State
	attempt  int // retries performed so far
	delay    time.Duration
	wait     time.Duration
	source   WaitSource
	resp     *http.Response
	body     []byte
	limit    RateLimit
	attempts int
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	policy := t.Policy
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	policy = policy.withDefaults()

	reqBody, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	run := &retryRun{state: StateAttempting, delay: policy.BaseDelay}

	for {
		switch run.state {
		case StateAttempting:
			if err := t.attempt(ctx, req, reqBody, run, policy); err != nil {
				return nil, err
			}

		case StateBackoff:
			t.logRetry(req, run, policy)
			if err := t.sleep(ctx, run.wait); err != nil {
				return nil, err
			}
			run.attempt++
			run.state = StateAttempting

		case StateSucceeded:
			return run.resp, nil

		case StateExhausted:
			return nil, &ExhaustedError{
				Attempts: run.attempts,
				Status: &StatusError{
					Method:     req.Method,
					URL:        req.URL.String(),
					StatusCode: run.resp.StatusCode,
					Body:       string(run.body),
				},
			}
		}
	}
}

// attempt sends one request and moves run to the next state
func (t *Transport) attempt(ctx context.Context, req *http.Request, reqBody []byte, run *retryRun, policy Policy) error {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp, err := t.base().RoundTrip(cloneRequest(ctx, req, reqBody))
	if err != nil {
		return err
	}
	run.attempts++
	run.resp = resp

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		run.state = StateSucceeded
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	run.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))

	limited, info := detectRateLimit(resp.StatusCode, resp.Header, body)
	switch {
	case !limited:
		run.state = StateSucceeded
	case run.attempt >= policy.MaxRetries:
		run.state = StateExhausted
	default:
		run.limit = info
		run.wait, run.delay, run.source = policy.nextWait(info, run.delay, t.now(), t.jitter)
		run.state = StateBackoff
	}
	return nil
}

func (t *Transport) logRetry(req *http.Request, run *retryRun, policy Policy) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	remaining, total := "?", "?"
	if run.limit.Remaining != nil {
		remaining = fmt.Sprint(*run.limit.Remaining)
	}
	if run.limit.Total != nil {
		total = fmt.Sprint(*run.limit.Total)
	}

	logger.Warn(fmt.Sprintf("Rate limited (status %d). Attempt %d/%d. Waiting ~%ds (remaining=%s/%s).",
		run.resp.StatusCode, run.attempt+1, policy.MaxRetries, int(run.wait.Round(time.Second)/time.Second), remaining, total),
		"method", req.Method,
		"host", req.URL.Host,
		"source", run.source)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Transport) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if t.Jitter != nil {
		return t.Jitter(max)
	}
	return rand.N(max)
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// bufferBody reads the request body once so it can be replayed on retries
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body == nil {
		clone.Body = http.NoBody
		clone.GetBody = nil
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	clone.ContentLength = int64(len(body))
	return clone
}
