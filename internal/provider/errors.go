package provider

import (
	"errors"
	"net/http"
)

// Sentinel errors for completion calls. Backends wrap them so the chain and
// the gateway can act on the class of a failure without knowing the backend.
var (
	ErrRateLimit      = errors.New("provider rate limited")
	ErrContextLength  = errors.New("context length exceeded")
	ErrProviderDown   = errors.New("provider unavailable")
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrAllProviders is returned by Chain once every member has failed.
	ErrAllProviders = errors.New("all providers failed")

	ErrNoProvider = errors.New("no provider configured")
)

// statusOverloaded is the Anthropic API's "overloaded" status.
const statusOverloaded = 529

// ClassifyStatus maps an HTTP status from a completion backend to its
// sentinel. contextLength reports whether a 400 body complained about the
// prompt size. It returns nil for statuses with no class, which the caller
// reports as a plain error.
func ClassifyStatus(code int, contextLength bool) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code == statusOverloaded || code >= 500:
		return ErrProviderDown
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthentication
	case code == http.StatusBadRequest && contextLength:
		return ErrContextLength
	default:
		return nil
	}
}

// IsRetryable reports whether the next provider in a chain should be tried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}
