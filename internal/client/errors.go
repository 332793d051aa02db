package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/makeasinger/musicgen/internal/model"
)

// ErrorKind classifies provider failures
type ErrorKind string

const (
	KindAuth               ErrorKind = "PROVIDER_AUTH"
	KindNoCredits          ErrorKind = "NO_CREDITS"
	KindRateLimited        ErrorKind = "RATE_LIMITED"
	KindUnavailable        ErrorKind = "PROVIDER_UNAVAILABLE"
	KindUnexpectedResponse ErrorKind = "UNEXPECTED_RESPONSE"
)

// ProviderError is returned for every failed provider call.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Body       string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("suno %s: %s: %v", strings.ToLower(string(e.Kind)), e.Message, e.Cause)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("suno %s (status %d): %s", strings.ToLower(string(e.Kind)), e.StatusCode, e.Message)
	}
	return fmt.Sprintf("suno %s: %s", strings.ToLower(string(e.Kind)), e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Code is the error code persisted on the job.
func (e *ProviderError) Code() string {
	switch e.Kind {
	case KindAuth:
		return model.ErrorCodeProviderAuth
	case KindNoCredits:
		return model.ErrorCodeNoCredits
	case KindRateLimited:
		return model.ErrorCodeRateLimited
	case KindUnavailable:
		return model.ErrorCodeProviderDown
	default:
		return model.ErrorCodeUnexpectedResponse
	}
}

// AsProviderError unwraps err into a ProviderError, classifying anything
// that isn't one already.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	// transport failures (dial, timeout, reset) are transient from our side
	return &ProviderError{Kind: KindUnavailable, Message: "request failed", Cause: err}
}

// IsKind reports whether err is a ProviderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}

// classifyStatus maps an HTTP status or the provider's envelope code onto
// an ErrorKind. The provider reports most failures as HTTP 200 with a
// non-200 "code" field, so both are run through here.
func classifyStatus(code int, msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusPaymentRequired:
		return KindNoCredits
	case code == http.StatusTooManyRequests && strings.Contains(lower, "credit"):
		return KindNoCredits
	case code == http.StatusTooManyRequests || code == 430 || code == 405:
		return KindRateLimited
	case code == 455 || code >= 500:
		return KindUnavailable
	default:
		return KindUnexpectedResponse
	}
}
