package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthFailed       = "MIGRATION_AUTH_FAILED"
	ErrorResolutionFailed = "MIGRATION_RESOLUTION_FAILED"
	ErrorTransportFailed  = "MIGRATION_TRANSPORT_FAILED"
	ErrorBadInput         = "MIGRATION_BAD_INPUT"
	ErrorStoreFailed      = "MIGRATION_STORE_FAILED"
	ErrorRateLimited      = "MIGRATION_RATE_LIMITED"
	ErrorInternal         = "MIGRATION_INTERNAL_ERROR"
)

type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureAuth       FailureKind = "auth"
	FailureResolution FailureKind = "resolution"
	FailureTransport  FailureKind = "transport"
)

// ProviderFailure is the failure outcome of a provider call. StatusCode and
// Body are set when the provider answered.
type ProviderFailure struct {
	Kind       FailureKind
	StatusCode int
	Body       string
	Err        error
}

func (f *ProviderFailure) Error() string {
	if f == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("provider ")
	b.WriteString(string(f.Kind))
	b.WriteString(" failure")
	if f.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", f.StatusCode)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *ProviderFailure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Retryable reports whether repeating the same call may succeed.
func (f *ProviderFailure) Retryable() bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case FailureTransport:
		return true
	case FailureResolution:
		return f.StatusCode == http.StatusTooManyRequests || f.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

func NewAuthFailure(statusCode int, body string, cause error) *ProviderFailure {
	return &ProviderFailure{
		Kind:       FailureAuth,
		StatusCode: statusCode,
		Body:       body,
		Err:        envelope(cause, "core: access token issuance failed", goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthFailed),
	}
}

func NewResolutionFailure(statusCode int, body string, cause error) *ProviderFailure {
	return &ProviderFailure{
		Kind:       FailureResolution,
		StatusCode: statusCode,
		Body:       body,
		Err:        envelope(cause, "core: provider rejected migration request", goerrors.CategoryExternal, http.StatusBadGateway, ErrorResolutionFailed),
	}
}

func NewTransportFailure(cause error) *ProviderFailure {
	return &ProviderFailure{
		Kind: FailureTransport,
		Err:  envelope(cause, "core: provider transport failed", goerrors.CategoryExternal, http.StatusBadGateway, ErrorTransportFailed),
	}
}

// FailureKindOf classifies err; FailureNone means it did not come from a provider call.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var failure *ProviderFailure
	if errors.As(err, &failure) && failure != nil {
		return failure.Kind
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.TextCode {
		case ErrorAuthFailed:
			return FailureAuth
		case ErrorResolutionFailed:
			return FailureResolution
		case ErrorTransportFailed:
			return FailureTransport
		}
	}
	return FailureNone
}

// IsRecordLevel reports whether err only concerns the record being processed.
func IsRecordLevel(err error) bool {
	switch FailureKindOf(err) {
	case FailureResolution, FailureTransport:
		return true
	default:
		return false
	}
}

func isRetryable(err error) bool {
	var failure *ProviderFailure
	if errors.As(err, &failure) {
		return failure.Retryable()
	}
	return false
}

func failureDetails(err error) (int, string) {
	var failure *ProviderFailure
	if errors.As(err, &failure) && failure != nil {
		return failure.StatusCode, failure.Body
	}
	return 0, ""
}

func authFailure(message string, cause error) error {
	return &ProviderFailure{
		Kind: FailureAuth,
		Err:  envelope(cause, message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthFailed),
	}
}

func badInputError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

func wrapBadInput(err error, message string) error {
	return envelope(err, message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput)
}

func storeError(err error, message string) error {
	return envelope(err, message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorStoreFailed)
}

func dependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

func envelope(cause error, message string, category goerrors.Category, code int, textCode string) error {
	if cause == nil {
		return goerrors.New(message, category).
			WithCode(code).
			WithTextCode(textCode)
	}
	var richErr *goerrors.Error
	if goerrors.As(cause, &richErr) && richErr.TextCode == textCode {
		return cause
	}
	return goerrors.Wrap(cause, category, message).
		WithCode(code).
		WithTextCode(textCode)
}
