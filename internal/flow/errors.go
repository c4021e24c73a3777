// Package flow executes one provider's quote flow as an ordered sequence of
// declarative browser interaction steps.
package flow

import (
	"fmt"
	"time"
)

// AuthenticationError represents rejected credentials or a rejected session
type AuthenticationError struct {
	Provider string
	Message  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error (%s): %s", e.Provider, e.Message)
}

// VerificationTimeoutError represents an MFA code not supplied within the wait window
type VerificationTimeoutError struct {
	Provider string
	Wait     time.Duration
}

func (e *VerificationTimeoutError) Error() string {
	return fmt.Sprintf("verification code for %s not supplied within %s", e.Provider, e.Wait)
}

// StepTimeoutError represents a step that exhausted its retry budget
type StepTimeoutError struct {
	Step     string
	Attempts int
	Cause    error
}

func (e *StepTimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %q failed after %d attempts: %v", e.Step, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("step %q failed after %d attempts", e.Step, e.Attempts)
}

func (e *StepTimeoutError) Unwrap() error {
	return e.Cause
}

// UnrecoverablePageError represents page content that indicates a permanent
// failure; the step is not retried.
type UnrecoverablePageError struct {
	Step      string
	Indicator string
}

func (e *UnrecoverablePageError) Error() string {
	return fmt.Sprintf("step %q hit unrecoverable page state: %q", e.Step, e.Indicator)
}

// ArtifactError represents a flow that reported a download which is missing
// or empty on disk.
type ArtifactError struct {
	Path    string
	Message string
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact error for %s: %s", e.Path, e.Message)
}
