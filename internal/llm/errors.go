package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// APICallError represents a generation call that failed for a reason other than rate or quota limits
type APICallError struct {
	Message string
	Cause   error
}

func (e *APICallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation call failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("generation call failed: %s", e.Message)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}

// RateLimitedError indicates the generation service throttled the caller
type RateLimitedError struct {
	Cause error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("generation service rate limited: %v", e.Cause)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Cause
}

// QuotaExceededError indicates the generation quota or billing allowance is exhausted
type QuotaExceededError struct {
	Cause error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("generation quota exceeded: %v", e.Cause)
}

func (e *QuotaExceededError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError indicates the generation service returned content that failed JSON or schema parsing.
// Raw holds the offending payload for logging; it is never shown to API callers.
type MalformedResponseError struct {
	Message string
	Raw     string
	Cause   error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed generation response: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("malformed generation response: %s", e.Message)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

// Classify converts a raw transport error from the generation service into one of the typed errors.
// Errors that are already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		rateLimited *RateLimitedError
		quota       *QuotaExceededError
		malformed   *MalformedResponseError
		apiErr      *APICallError
	)
	if errors.As(err, &rateLimited) || errors.As(err, &quota) || errors.As(err, &malformed) || errors.As(err, &apiErr) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			if isQuotaMessage(gerr.Message) {
				return &QuotaExceededError{Cause: err}
			}
			return &RateLimitedError{Cause: err}
		case http.StatusPaymentRequired:
			return &QuotaExceededError{Cause: err}
		}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			if isQuotaMessage(st.Message()) {
				return &QuotaExceededError{Cause: err}
			}
			return &RateLimitedError{Cause: err}
		case codes.PermissionDenied:
			if isQuotaMessage(st.Message()) {
				return &QuotaExceededError{Cause: err}
			}
		}
	}

	return &APICallError{Message: "request failed", Cause: err}
}

// isQuotaMessage distinguishes billing/quota exhaustion from short-term throttling.
func isQuotaMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "billing") ||
		strings.Contains(msg, "exceeded your current quota") ||
		strings.Contains(msg, "insufficient quota") ||
		strings.Contains(msg, "credit")
}
