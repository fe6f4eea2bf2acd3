// Package backoff implements the rate-limit aware HTTP layer shared by the
// provider and source-control clients.
//
// This package provides:
//   - Transport: an http.RoundTripper that retries rate-limited responses
//     through a bounded state machine (Attempting, Backoff, Succeeded, Exhausted)
//   - Client: a JSON request helper returning typed errors for non-2xx responses
//   - NewBearerClient: bearer-token authentication layered over the transport
//
// Wait intervals are chosen in priority order:
//   - the reset epoch embedded in the error payload, plus jitter
//   - the Retry-After response header
//   - exponential backoff from Policy.BaseDelay, doubling up to Policy.MaxDelay, plus jitter
//
// Only HTTP 429 and payloads carrying the "rate_limited" error code are retried.
// Every other status is handed back to the caller on the first attempt.
package backoff
