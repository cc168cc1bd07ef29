package webpush

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a push attempt.
type Outcome string

const (
	// OutcomeDelivered means the push service accepted the message.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeBadRequest means the request was malformed. Do not retry.
	OutcomeBadRequest Outcome = "bad-request"
	// OutcomeUnauthorized means the VAPID token was rejected, most likely a
	// key mismatch. Do not retry automatically.
	OutcomeUnauthorized Outcome = "unauthorized"
	// OutcomeExpired means the subscription is gone. Drop or renew it.
	OutcomeExpired Outcome = "expired"
	// OutcomeRateLimited means the push service asked us to slow down.
	OutcomeRateLimited Outcome = "rate-limited"
	// OutcomeFailed covers network errors and unexpected statuses.
	OutcomeFailed Outcome = "failed"
	// OutcomeInvalid means nothing was sent because the subscription, keys
	// or payload could not be used.
	OutcomeInvalid Outcome = "invalid"
)

// Result is the outcome of a single push attempt.
type Result struct {
	ID         uuid.UUID     // Attempt id, for correlating logs.
	Outcome    Outcome       // Classified outcome.
	StatusCode int           // HTTP status, 0 when no response was received.
	Location   string        // Message resource returned by the push service.
	RetryAfter time.Duration // Hint from Retry-After, if any.
	Err        error         // Nil only when delivered.
}

// OK reports whether the message was accepted.
func (r *Result) OK() bool {
	return r.Outcome == OutcomeDelivered
}

// Expired reports whether the subscription should be removed.
func (r *Result) Expired() bool {
	return r.Outcome == OutcomeExpired
}

// Retryable reports whether sending again later may succeed.
func (r *Result) Retryable() bool {
	return r.Outcome == OutcomeRateLimited || r.Outcome == OutcomeFailed
}

// Fatal reports whether the failure points at a configuration problem that
// retrying will not fix.
func (r *Result) Fatal() bool {
	switch r.Outcome {
	case OutcomeBadRequest, OutcomeUnauthorized, OutcomeInvalid:
		return true
	}
	return false
}

func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeDelivered
	case status == http.StatusBadRequest:
		return OutcomeBadRequest
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return OutcomeUnauthorized
	case status == http.StatusNotFound, status == http.StatusGone:
		return OutcomeExpired
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	}
	return OutcomeFailed
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
