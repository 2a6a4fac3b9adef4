package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrUnavailable means the backend could not be reached or answered
	// with a server error. Transient; callers retry.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRateLimited means the backend throttled the request. Transient;
	// callers retry with backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrInvalidResponse means the backend answered but the payload could
	// not be turned into an AIResponse. Not retried within an attempt chain.
	ErrInvalidResponse = errors.New("provider returned invalid response")

	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrInvalidConfig     = errors.New("invalid provider configuration")
)

// RateLimitError carries the backend's retry-after hint when one was given.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited (retry after %s)", e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// classifyHTTPStatus maps an HTTP status from any backend SDK onto the
// error taxonomy. Zero return means the status is not ours to classify.
func classifyHTTPStatus(status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: %v", &RateLimitError{}, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return nil
	}
}

// classifyTransportError maps connection and deadline failures onto
// ErrUnavailable. Returns nil when the error is not transport-level.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
