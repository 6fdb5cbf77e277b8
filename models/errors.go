package models

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry and user-messaging decisions.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindConfiguration marks a missing or invalid required setting.
	KindConfiguration
	// KindUpstreamAuth marks 401/403 from an external service.
	KindUpstreamAuth
	// KindUpstreamTransient marks 5xx, 429 and network failures; retryable.
	KindUpstreamTransient
	// KindUpstreamFatal marks non-auth, non-rate 4xx; never retried.
	KindUpstreamFatal
	// KindParse marks JSON that stayed unrepairable after all passes.
	KindParse
	// KindTimeout marks a request- or stage-level deadline overrun.
	KindTimeout
	// KindLogic marks an invariant violation caught at validation.
	KindLogic
	// KindNotFound marks an absent resource, e.g. a geocoder miss.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindUpstreamFatal:
		return "upstream_fatal"
	case KindParse:
		return "parse"
	case KindTimeout:
		return "timeout"
	case KindLogic:
		return "logic"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the typed error carried across package boundaries. Op names the
// failing operation ("llm.complete", "websearch.search"), Message is safe to
// show to a user, Err holds the wrapped cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error. Usage: models.E(models.KindTimeout, "mapping", "geocode batch deadline", err).
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf walks the wrap chain and returns the first classified kind,
// mapping context deadline errors to KindTimeout on the way.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if isDeadline(err) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether the error kind is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err) == KindUpstreamTransient
}

// ErrNotFound is the sentinel for lookups that legitimately found nothing.
var ErrNotFound = errors.New("not found")

// ClassifyHTTPStatus maps an upstream HTTP status to the error kind it
// signals and whether a retry can help. 2xx maps to KindUnknown.
func ClassifyHTTPStatus(status int) (Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return KindUnknown, false
	case status == 401 || status == 403:
		return KindUpstreamAuth, false
	case status == 429:
		return KindUpstreamTransient, true
	case status >= 500:
		return KindUpstreamTransient, true
	default:
		return KindUpstreamFatal, false
	}
}

func isDeadline(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
