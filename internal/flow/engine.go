package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sergio/cotizador/internal/session"
	"github.com/sergio/cotizador/internal/types"
)

// VerificationPrompt supplies an out-of-band MFA code. Implementations block
// until the operator provides one or the context ends.
type VerificationPrompt func(ctx context.Context, providerID string) (string, error)

// Options configures an Engine. Defaults apply to steps that do not declare
// their own timeout or retry budget.
type Options struct {
	Headless         bool
	Verbose          bool
	DownloadsDir     string
	DefaultTimeout   time.Duration
	DefaultAttempts  int
	VerificationWait time.Duration
	Prompt           VerificationPrompt
	Sessions         *session.Store
}

// Engine interprets flow definitions. One Engine serves any number of
// executions; per-execution state lives in the runner.
type Engine struct {
	opts Options
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.DefaultAttempts <= 0 {
		opts.DefaultAttempts = 3
	}
	if opts.VerificationWait <= 0 {
		opts.VerificationWait = 10 * time.Minute
	}
	return &Engine{opts: opts}
}

// Execute runs one provider's flow to a terminal outcome. A valid session
// lets the flow skip its login steps; the browser profile, page and Chrome
// process are always released before returning.
func (e *Engine) Execute(ctx context.Context, def *Definition, sess *session.Session, data StepData) types.Outcome {
	runner, err := newBrowserRunner(ctx, e.opts, def.ProviderID, sess)
	if err != nil {
		return types.Outcome{ProviderID: def.ProviderID, Status: types.StatusFailed, Err: err}
	}
	defer runner.Close()

	return e.run(ctx, runner, def, sess, data)
}

// ExecuteSteps runs a definition without expecting a downloaded artifact and
// without skipping login steps. Used to warm a session up ahead of quoting.
func (e *Engine) ExecuteSteps(ctx context.Context, def *Definition, sess *session.Session, data StepData) types.Outcome {
	runner, err := newBrowserRunner(ctx, e.opts, def.ProviderID, sess)
	if err != nil {
		return types.Outcome{ProviderID: def.ProviderID, Status: types.StatusFailed, Err: err}
	}
	defer runner.Close()

	return e.runSteps(ctx, runner, def, data)
}

func (e *Engine) runSteps(ctx context.Context, runner stepRunner, def *Definition, data StepData) types.Outcome {
	outcome := types.Outcome{ProviderID: def.ProviderID, Status: types.StatusRunning}

	for i := range def.Steps {
		step := &def.Steps[i]

		if ctx.Err() != nil {
			outcome.Status = types.StatusCancelled
			outcome.Err = ctx.Err()
			return outcome
		}
		if err := e.runStep(ctx, runner, def.ProviderID, step, data); err != nil {
			if ctx.Err() != nil {
				outcome.Status = types.StatusCancelled
				outcome.Err = ctx.Err()
				return outcome
			}
			outcome.Status = types.StatusFailed
			outcome.FailedStep = step.Name
			outcome.Err = err
			return outcome
		}
		if step.Action == ActionAwaitVerification && e.opts.Sessions != nil {
			if err := e.opts.Sessions.Refresh(def.ProviderID); err != nil {
				log.Printf("[%s] warning: failed to refresh session after verification: %v", def.ProviderID, err)
			}
		}
	}

	outcome.Status = types.StatusSucceeded
	return outcome
}

func (e *Engine) run(ctx context.Context, runner stepRunner, def *Definition, sess *session.Session, data StepData) types.Outcome {
	outcome := types.Outcome{ProviderID: def.ProviderID, Status: types.StatusRunning}

	skipLogin := false
	if e.opts.Sessions != nil && sess.Valid(e.opts.Sessions.Validity(), time.Now()) {
		skipLogin = true
		log.Printf("[%s] session still valid, skipping login steps", def.ProviderID)
	}

	for i := range def.Steps {
		step := &def.Steps[i]

		// Cancellation is cooperative and observed at step boundaries.
		if ctx.Err() != nil {
			outcome.Status = types.StatusCancelled
			outcome.Err = ctx.Err()
			return outcome
		}
		if step.Login && skipLogin {
			if e.opts.Verbose {
				log.Printf("[%s] skipping login step %q", def.ProviderID, step.Name)
			}
			continue
		}

		if err := e.runStep(ctx, runner, def.ProviderID, step, data); err != nil {
			if ctx.Err() != nil {
				outcome.Status = types.StatusCancelled
				outcome.Err = ctx.Err()
				return outcome
			}
			outcome.Status = types.StatusFailed
			outcome.FailedStep = step.Name
			outcome.Err = err
			return outcome
		}

		// A completed verification re-anchors the session window at now.
		if step.Action == ActionAwaitVerification && e.opts.Sessions != nil {
			if err := e.opts.Sessions.Refresh(def.ProviderID); err != nil {
				log.Printf("[%s] warning: failed to refresh session after verification: %v", def.ProviderID, err)
			}
		}
	}

	path := runner.ArtifactPath()
	if path == "" {
		outcome.Status = types.StatusFailed
		outcome.Err = &ArtifactError{Path: "", Message: "flow finished without a downloaded artifact"}
		return outcome
	}
	if err := verifyArtifact(path); err != nil {
		outcome.Status = types.StatusFailed
		outcome.Err = err
		return outcome
	}

	// A run that went through its login steps anchors the session window.
	if !skipLogin && e.opts.Sessions != nil {
		if err := e.opts.Sessions.Refresh(def.ProviderID); err != nil {
			log.Printf("[%s] warning: failed to anchor session after login: %v", def.ProviderID, err)
		}
	}

	outcome.Status = types.StatusSucceeded
	outcome.ArtifactPath = path
	return outcome
}

// runStep executes one step with its retry budget. Exhaustion yields exactly
// one StepTimeoutError wrapping the last underlying error; authentication,
// verification-timeout and unrecoverable-page errors abort without retrying.
func (e *Engine) runStep(ctx context.Context, runner stepRunner, providerID string, step *Step, data StepData) error {
	attempts := step.Attempts(e.opts.DefaultAttempts)
	timeout := step.Timeout(e.opts.DefaultTimeout)
	if step.Action == ActionAwaitVerification && step.TimeoutSeconds == 0 {
		timeout = e.opts.VerificationWait
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.opts.Verbose {
			log.Printf("[%s] step %q attempt %d/%d", providerID, step.Name, attempt, attempts)
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err := runner.RunStep(stepCtx, step, data)
		cancel()
		if err == nil {
			return nil
		}
		if isFatalStepError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err

		if attempt < attempts {
			delay := step.BackoffDelay(attempt)
			log.Printf("[%s] step %q attempt %d failed (%v), retrying in %s", providerID, step.Name, attempt, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return &StepTimeoutError{Step: step.Name, Attempts: attempts, Cause: last}
}

func isFatalStepError(err error) bool {
	var authErr *AuthenticationError
	var verErr *VerificationTimeoutError
	var pageErr *UnrecoverablePageError
	return errors.As(err, &authErr) || errors.As(err, &verErr) || errors.As(err, &pageErr)
}

func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ArtifactError{Path: path, Message: fmt.Sprintf("not found on disk: %v", err)}
	}
	if info.Size() == 0 {
		return &ArtifactError{Path: path, Message: "file is empty"}
	}
	return nil
}
