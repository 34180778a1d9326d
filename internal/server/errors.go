// Package server provides the HTTP REST API for role definitions and
// audition scaffolds.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/role-audition/internal/extraction"
	"github.com/jonathan/role-audition/internal/llm"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrPayloadTooLarge indicates the request body exceeded the size limit.
type ErrPayloadTooLarge struct {
	Limit int64
}

func (e *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

const genericRetryMessage = "The generation service returned an unusable response. Please try again."

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// errorKind classifies err into a response kind, status and message.
func errorKind(err error) (ErrorBody, int) {
	var (
		validation  *ErrValidation
		tooLarge    *ErrPayloadTooLarge
		input       *extraction.InputError
		rateLimited *llm.RateLimitedError
		quota       *llm.QuotaExceededError
		failed      *extraction.ExtractionFailedError
		invalid     *scaffold.InvalidResponseError
		malformed   *llm.MalformedResponseError
		persistence *tracker.PersistenceError
	)

	switch {
	case errors.As(err, &validation):
		return ErrorBody{"validation_error", validation.Error(), false}, http.StatusBadRequest
	case errors.Is(err, scaffold.ErrDefinitionNotObject):
		return ErrorBody{"validation_error", err.Error(), false}, http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return ErrorBody{"payload_too_large", tooLarge.Error(), false}, http.StatusRequestEntityTooLarge
	case errors.As(err, &input):
		if input.Kind == extraction.InputTooLarge {
			return ErrorBody{"payload_too_large", input.Error(), false}, http.StatusRequestEntityTooLarge
		}
		return ErrorBody{"invalid_input", input.Error(), false}, http.StatusBadRequest
	case errors.As(err, &rateLimited):
		return ErrorBody{"rate_limited", "The generation service is busy. Please try again shortly.", true}, http.StatusTooManyRequests
	case errors.As(err, &quota):
		return ErrorBody{"quota_exceeded", "The generation quota is exhausted.", false}, http.StatusPaymentRequired
	case errors.As(err, &failed):
		return ErrorBody{"extraction_failed", "Role extraction failed. Please try again.", true}, http.StatusInternalServerError
	case errors.As(err, &invalid), errors.As(err, &malformed):
		return ErrorBody{"upstream_malformed", genericRetryMessage, true}, http.StatusInternalServerError
	case errors.As(err, &persistence):
		return ErrorBody{"persistence_error", "Saving failed. Please try again.", true}, http.StatusInternalServerError
	case errors.Is(err, types.ErrProjectNotFound):
		return ErrorBody{"not_found", "project not found", false}, http.StatusNotFound
	case errors.Is(err, types.ErrRoleDefinitionNotFound):
		return ErrorBody{"not_found", "project has no role definition", false}, http.StatusNotFound
	case errors.Is(err, tracker.ErrNotFound):
		return ErrorBody{"not_found", "audition scaffold not found", false}, http.StatusNotFound
	case errors.Is(err, tracker.ErrNotReady):
		return ErrorBody{"not_ready", "only a READY audition scaffold can be approved", false}, http.StatusConflict
	default:
		return ErrorBody{"internal_error", "An internal error occurred.", false}, http.StatusInternalServerError
	}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	_, status := errorKind(err)
	return status
}
