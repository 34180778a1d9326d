package scaffold

import (
	"errors"
	"fmt"
)

// ErrDefinitionNotObject is returned when definition_data is not a JSON object.
var ErrDefinitionNotObject = errors.New("definition_data must be a JSON object")

// InvalidResponseError means the generation response could not be used as a
// scaffold. Nothing is persisted for such a response.
type InvalidResponseError struct {
	Reason string
	Cause  error
}

func (e *InvalidResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid scaffold response: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid scaffold response: %s", e.Reason)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Cause
}
