package errors

import (
	"errors"
	"fmt"
)

// Classified errors propagate a Code through the pipeline so the
// dispatcher can decide retry-vs-fail-permanent without re-inspecting
// the original HTTP status.
type ClassifiedError struct {
	Code Code
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient wraps err as an upstream.transient classification.
func Transient(err error) error {
	return &ClassifiedError{Code: UpstreamTransient, Err: err}
}

// Permanent wraps err as an upstream.permanent classification.
func Permanent(err error) error {
	return &ClassifiedError{Code: UpstreamPermanent, Err: err}
}

// Gone wraps err as an upstream.gone classification (404 on a known entity).
func Gone(err error) error {
	return &ClassifiedError{Code: UpstreamGone, Err: err}
}

// RateLimited wraps err as an upstream.rate_limited classification.
func RateLimited(err error) error {
	return &ClassifiedError{Code: UpstreamRateLimited, Err: err}
}

// Wrap attaches an arbitrary code to err.
func Wrap(code Code, err error) error {
	return &ClassifiedError{Code: code, Err: err}
}

// CodeOf extracts the Code from err, walking the unwrap chain. Returns
// (Internal, false) if err carries no classification.
func CodeOf(err error) (Code, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return Internal, false
}

// IsTransient reports whether err (or anything it wraps) carries a code
// whose registry metadata marks it retryable — upstream.transient,
// upstream.rate_limited, sink.unavailable and dependency.down among them,
// as well as the queue-empty and internal codes.
func IsTransient(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	meta, known := Meta(code)
	return known && meta.Retryable
}

// IsGone reports whether err is classified upstream.gone.
func IsGone(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == UpstreamGone
}

// IsPermanent reports whether err is classified as a non-retryable
// dependency/client failure (the complement of IsTransient for errors that
// did carry a classification).
func IsPermanent(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	meta, known := Meta(code)
	return known && !meta.Retryable
}
