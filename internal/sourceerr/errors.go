// Package sourceerr classifies failures talking to an upstream legal source.
package sourceerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// Kind is the failure category.
type Kind string

const (
	// SourceUnavailable covers transport errors and 5xx; callers may retry later.
	SourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	// RateLimited means upstream throttled us; back off before retrying.
	RateLimited Kind = "RATE_LIMITED"
	// SourceBlocked means upstream refused us; review identification headers.
	SourceBlocked Kind = "SOURCE_BLOCKED"
	// NotFound is a single-document lookup that matched nothing.
	NotFound Kind = "NOT_FOUND"
	// Timeout is a caller deadline or cancellation.
	Timeout Kind = "TIMEOUT"
)

// Error is the typed error every adapter returns.
type Error struct {
	Kind   Kind
	Source models.Source
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether retrying later can succeed without operator action.
func (e *Error) Retryable() bool {
	return e.Kind == SourceUnavailable || e.Kind == Timeout || e.Kind == RateLimited
}

// New builds a typed error.
func New(src models.Source, kind Kind, err error) *Error {
	return &Error{Kind: kind, Source: src, Err: err}
}

// FromStatus maps a non-2xx HTTP status to a typed error, or nil for 2xx.
func FromStatus(src models.Source, code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
	switch {
	case code == http.StatusTooManyRequests:
		return New(src, RateLimited, err)
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return New(src, SourceBlocked, err)
	case code == http.StatusNotFound:
		return New(src, NotFound, err)
	default:
		return New(src, SourceUnavailable, err)
	}
}

// FromTransport classifies an error returned by the HTTP client. Only the
// caller's own deadline or cancellation is a Timeout; client-side timeouts
// such as http.Client.Timeout mean the upstream is slow, so they count as
// SourceUnavailable.
func FromTransport(ctx context.Context, src models.Source, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if ctx.Err() != nil {
		return New(src, Timeout, err)
	}
	return New(src, SourceUnavailable, err)
}

// KindOf extracts the kind of a typed error, or "" when err is not one.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// Is reports whether err is a typed error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
