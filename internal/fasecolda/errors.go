package fasecolda

import "fmt"

// LookupError represents a failure talking to the vehicle guide site.
type LookupError struct {
	Message string
	Cause   error
}

func (e *LookupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fasecolda lookup error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("fasecolda lookup error: %s", e.Message)
}

func (e *LookupError) Unwrap() error {
	return e.Cause
}

// NotFoundError means the guide returned no candidate close enough to the
// requested reference.
type NotFoundError struct {
	Reference string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no vehicle code found for reference %q", e.Reference)
}
