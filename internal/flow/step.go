package flow

import (
	"fmt"
	"strings"
	"time"
)

// Action identifies what a step does against the page.
type Action string

const (
	ActionNavigate          Action = "navigate"
	ActionClick             Action = "click"
	ActionFill              Action = "fill"
	ActionSelect            Action = "select"
	ActionWaitVisible       Action = "wait_visible"
	ActionWaitText          Action = "wait_text"
	ActionWaitDownload      Action = "wait_download"
	ActionAwaitVerification Action = "await_verification"
	// ActionAssertAbsent fails the flow without retrying when the given text
	// is on the page (an error banner marking an unquotable risk).
	ActionAssertAbsent Action = "assert_absent"
	ActionSleep        Action = "sleep"
)

var knownActions = map[Action]bool{
	ActionNavigate:          true,
	ActionClick:             true,
	ActionFill:              true,
	ActionSelect:            true,
	ActionWaitVisible:       true,
	ActionWaitText:          true,
	ActionWaitDownload:      true,
	ActionAwaitVerification: true,
	ActionAssertAbsent:      true,
	ActionSleep:             true,
}

// Backoff strategies between step attempts.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Step is one declarative browser interaction. Steps are authored in the
// provider YAML flow definitions and interpreted by the engine; no provider
// ships executable step code.
type Step struct {
	Name     string `yaml:"name"`
	Action   Action `yaml:"action"`
	URL      string `yaml:"url,omitempty"`
	Selector string `yaml:"selector,omitempty"`
	// Alternative selectors tried in order; the first one present wins.
	// Provider portals render the same control under different selectors
	// depending on page state.
	Selectors []string `yaml:"selectors,omitempty"`
	Value     string   `yaml:"value,omitempty"`
	Text      string   `yaml:"text,omitempty"`
	// Frame names the iframe the target lives in. The engine probes the
	// iframe first and falls back to the main document.
	Frame string `yaml:"frame,omitempty"`

	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
	MaxAttempts    int     `yaml:"max_attempts,omitempty"`
	Backoff        string  `yaml:"backoff,omitempty"`
	DelaySeconds   float64 `yaml:"delay_seconds,omitempty"`

	// Login marks steps skipped when a valid session exists.
	Login bool `yaml:"login,omitempty"`
	// FailureText aborts the flow without retrying when found on the page
	// (e.g. an "account locked" banner).
	FailureText string `yaml:"failure_text,omitempty"`
	// FailureIsAuth classifies a FailureText hit as an authentication
	// failure rather than a generic unrecoverable state.
	FailureIsAuth bool `yaml:"failure_is_auth,omitempty"`
}

// CandidateSelectors returns the selectors to try for this step, in order.
func (s *Step) CandidateSelectors() []string {
	if len(s.Selectors) > 0 {
		return s.Selectors
	}
	if s.Selector != "" {
		return []string{s.Selector}
	}
	return nil
}

// Timeout returns the step timeout, falling back to the given default.
func (s *Step) Timeout(def time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return def
}

// Attempts returns the retry budget, falling back to the given default.
// Wait-style steps already bound their own duration, so they default to one
// attempt unless the definition says otherwise.
func (s *Step) Attempts(def int) int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	switch s.Action {
	case ActionWaitDownload, ActionAwaitVerification, ActionAssertAbsent, ActionSleep:
		return 1
	}
	if def > 0 {
		return def
	}
	return 1
}

// BackoffDelay returns the wait before the given attempt (1-based).
func (s *Step) BackoffDelay(attempt int) time.Duration {
	base := time.Duration(s.DelaySeconds * float64(time.Second))
	if base <= 0 {
		base = time.Second
	}
	if s.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			base *= 2
		}
	}
	return base
}

// Validate checks the step is structurally sound at load time so that bad
// definitions fail before a browser is ever launched.
func (s *Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step has no name")
	}
	if !knownActions[s.Action] {
		return fmt.Errorf("step %q: unknown action %q", s.Name, s.Action)
	}
	switch s.Action {
	case ActionNavigate:
		if s.URL == "" {
			return fmt.Errorf("step %q: navigate requires url", s.Name)
		}
	case ActionClick, ActionWaitVisible:
		if len(s.CandidateSelectors()) == 0 {
			return fmt.Errorf("step %q: %s requires a selector", s.Name, s.Action)
		}
	case ActionFill, ActionSelect:
		if len(s.CandidateSelectors()) == 0 {
			return fmt.Errorf("step %q: %s requires a selector", s.Name, s.Action)
		}
		if s.Value == "" {
			return fmt.Errorf("step %q: %s requires a value", s.Name, s.Action)
		}
	case ActionWaitText:
		if s.Text == "" {
			return fmt.Errorf("step %q: wait_text requires text", s.Name)
		}
	case ActionAssertAbsent:
		if s.Text == "" {
			return fmt.Errorf("step %q: assert_absent requires text", s.Name)
		}
	case ActionAwaitVerification:
		if len(s.CandidateSelectors()) == 0 {
			return fmt.Errorf("step %q: await_verification requires the code input selector", s.Name)
		}
	}
	return nil
}

// Definition is one provider's ordered flow.
type Definition struct {
	ProviderID string `yaml:"provider"`
	Steps      []Step `yaml:"steps"`
}

// Validate checks the whole definition.
func (d *Definition) Validate() error {
	if d.ProviderID == "" {
		return fmt.Errorf("flow definition has no provider id")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("flow definition for %s has no steps", d.ProviderID)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		if err := d.Steps[i].Validate(); err != nil {
			return err
		}
		if seen[d.Steps[i].Name] {
			return fmt.Errorf("duplicate step name %q in %s flow", d.Steps[i].Name, d.ProviderID)
		}
		seen[d.Steps[i].Name] = true
	}
	return nil
}

// StepData carries the values interpolated into step fields. Placeholders use
// the form {key}, e.g. selector-independent values like {client.document_number}.
type StepData map[string]string

// Expand replaces {key} placeholders in s with values from the data map.
// Unknown placeholders are left as-is so a misauthored definition is visible
// in the failure message instead of silently submitting an empty field.
func (d StepData) Expand(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	out := s
	for key, val := range d {
		out = strings.ReplaceAll(out, "{"+key+"}", val)
	}
	return out
}
