package backoff

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 8

	// DefaultBaseDelay is the first exponential backoff interval
	DefaultBaseDelay = 1500 * time.Millisecond

	// DefaultMaxDelay caps the exponential backoff interval
	DefaultMaxDelay = 30 * time.Second

	// DefaultResetJitter is added on top of a payload reset wait
	DefaultResetJitter = 500 * time.Millisecond

	// DefaultBackoffJitter is added on top of an exponential wait
	DefaultBackoffJitter = 400 * time.Millisecond

	// MaxWait caps any single wait, whatever the server asks for
	MaxWait = time.Hour

	// RateLimitedCode is the error code providers embed in rate-limit payloads
	RateLimitedCode = "rate_limited"
)

// Policy controls how rate-limited requests are retried
type Policy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	ResetJitter   time.Duration
	BackoffJitter time.Duration
}

// DefaultPolicy returns the retry policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		ResetJitter:   DefaultResetJitter,
		BackoffJitter: DefaultBackoffJitter,
	}
}

// withDefaults fills zero fields from DefaultPolicy. Jitter fields are left
// alone so tests can disable jitter by leaving them at zero.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// WaitSource identifies which signal produced a backoff interval
type WaitSource string

const (
	WaitFromReset       WaitSource = "reset"
	WaitFromRetryAfter  WaitSource = "retry-after"
	WaitFromExponential WaitSource = "exponential"
)

// RateLimit is what a rate-limited response told us about the limit
type RateLimit struct {
	Reset      int64 // unix seconds, zero when absent
	Remaining  *int
	Total      *int
	RetryAfter string
}

// errorPayload matches provider error bodies such as
// {"error":{"code":"rate_limited","limit":{"remaining":0,"reset":1700000000,"total":100}}}
type errorPayload struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Limit   *struct {
			Remaining *int  `json:"remaining"`
			Reset     int64 `json:"reset"`
			Total     *int  `json:"total"`
		} `json:"limit"`
	} `json:"error"`
}

// detectRateLimit reports whether a response is rate limited and extracts
// the limit details from its payload and headers.
func detectRateLimit(status int, header http.Header, body []byte) (bool, RateLimit) {
	var info RateLimit
	info.RetryAfter = strings.TrimSpace(header.Get("Retry-After"))

	var payload errorPayload
	codeLimited := false
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.Error != nil {
		codeLimited = payload.Error.Code == RateLimitedCode
		if l := payload.Error.Limit; l != nil {
			info.Reset = l.Reset
			info.Remaining = l.Remaining
			info.Total = l.Total
		}
	}

	return status == http.StatusTooManyRequests || codeLimited, info
}

// nextWait computes the interval before the next attempt. delay is the
// current exponential interval; the returned nextDelay replaces it.
func (p Policy) nextWait(info RateLimit, delay time.Duration, now time.Time, jitter func(time.Duration) time.Duration) (wait, nextDelay time.Duration, source WaitSource) {
	if info.Reset > 0 {
		until := time.Unix(info.Reset, 0).Sub(now)
		if until < 0 {
			until = 0
		}
		return capWait(capWait(until) + jitter(p.ResetJitter)), delay, WaitFromReset
	}

	if info.RetryAfter != "" {
		if secs, err := strconv.ParseFloat(info.RetryAfter, 64); err == nil && secs >= 0 {
			if secs >= MaxWait.Seconds() {
				return MaxWait, delay, WaitFromRetryAfter
			}
			return time.Duration(secs * float64(time.Second)), delay, WaitFromRetryAfter
		}
		if at, err := http.ParseTime(info.RetryAfter); err == nil {
			until := at.Sub(now)
			if until < 0 {
				until = 0
			}
			return capWait(until), delay, WaitFromRetryAfter
		}
		return delay, delay, WaitFromRetryAfter
	}

	nextDelay = delay * 2
	if nextDelay > p.MaxDelay {
		nextDelay = p.MaxDelay
	}
	return delay + jitter(p.BackoffJitter), nextDelay, WaitFromExponential
}

func capWait(d time.Duration) time.Duration {
	if d > MaxWait {
		return MaxWait
	}
	return d
}
