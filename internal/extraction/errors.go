package extraction

import "fmt"

// InputKind names why a job description was rejected before extraction.
type InputKind string

const (
	InputEmpty    InputKind = "empty"
	InputTooShort InputKind = "too_short"
	InputTooLarge InputKind = "too_large"
)

// InputError rejects job description text that is empty, too short or too large.
// It is raised before any generation call is made.
type InputError struct {
	Kind   InputKind
	Length int
	Limit  int
}

func (e *InputError) Error() string {
	switch e.Kind {
	case InputEmpty:
		return "job description is empty"
	case InputTooShort:
		return fmt.Sprintf("job description is too short to extract anything useful (%d characters, minimum %d)", e.Length, e.Limit)
	case InputTooLarge:
		return fmt.Sprintf("job description is too large (%d characters, maximum %d)", e.Length, e.Limit)
	default:
		return fmt.Sprintf("invalid job description: %s", e.Kind)
	}
}

// ExtractionFailedError means the generation call failed or returned content
// that could not be turned into a usable role definition. Callers may retry.
type ExtractionFailedError struct {
	Reason string
	Cause  error
}

func (e *ExtractionFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("role extraction failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("role extraction failed: %s", e.Reason)
}

func (e *ExtractionFailedError) Unwrap() error {
	return e.Cause
}
