package types

import "sort"

// NotFound is the marker used for plan values that could not be extracted.
// It is rendered verbatim in the consolidated report, matching what the
// operators expect to read.
const NotFound = "No encontrado"

// FlowStatus is the lifecycle state of one flow execution.
type FlowStatus string

const (
	StatusPending   FlowStatus = "pending"
	StatusRunning   FlowStatus = "running"
	StatusSucceeded FlowStatus = "succeeded"
	StatusFailed    FlowStatus = "failed"
	StatusCancelled FlowStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s FlowStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Outcome is the terminal result of one (request, provider) flow execution.
type Outcome struct {
	ProviderID   string     `json:"provider_id"`
	Status       FlowStatus `json:"status"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	FailedStep   string     `json:"failed_step,omitempty"`
	Err          error      `json:"-"`
}

// Succeeded reports whether the flow produced a verified artifact.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// QuoteResult is the structured output extracted for one provider: a mapping
// from plan name to formatted premium value. Plans whose anchor was not
// located carry the NotFound marker. Immutable once produced.
type QuoteResult struct {
	ProviderID string            `json:"provider_id"`
	Plans      map[string]string `json:"plans"`
	PlanOrder  []string          `json:"plan_order,omitempty"`
	SourcePath string            `json:"source_path,omitempty"`
}

// Usable reports whether at least one plan carries an extracted value.
func (q *QuoteResult) Usable() bool {
	if q == nil {
		return false
	}
	for _, v := range q.Plans {
		if v != NotFound && v != "" {
			return true
		}
	}
	return false
}

// OrderedPlans returns the plan names in declaration order, falling back to
// sorted order when the rule set did not record one.
func (q *QuoteResult) OrderedPlans() []string {
	if len(q.PlanOrder) > 0 {
		return q.PlanOrder
	}
	names := make([]string, 0, len(q.Plans))
	for name := range q.Plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FasecoldaCodes holds the vehicle classification codes required by some
// provider forms.
type FasecoldaCodes struct {
	CF string `json:"cf"`
	CH string `json:"ch"`
}
