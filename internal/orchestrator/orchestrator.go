// Package orchestrator coordinates quote flows across providers for one
// request. Providers run independently: one failing portal never prevents the
// others from quoting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/sergio/cotizador/internal/config"
	"github.com/sergio/cotizador/internal/extraction"
	"github.com/sergio/cotizador/internal/flow"
	"github.com/sergio/cotizador/internal/formulas"
	"github.com/sergio/cotizador/internal/providers"
	"github.com/sergio/cotizador/internal/session"
	"github.com/sergio/cotizador/internal/types"
)

// Mode selects how the providers of one request are scheduled.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// FlowExecutor runs one provider's browser flow to a terminal outcome.
type FlowExecutor interface {
	Execute(ctx context.Context, def *flow.Definition, sess *session.Session, data flow.StepData) types.Outcome
}

// ExtractFunc pulls plan values out of a downloaded quote document.
type ExtractFunc func(rules *extraction.RuleSet, path string) (*types.QuoteResult, error)

// Options wires an Orchestrator. Engine and Sessions are required for
// browser-driven providers; Formulas is required for rate-table providers.
type Options struct {
	Engine   FlowExecutor
	Sessions *session.Store
	Formulas *formulas.Config
	Config   *config.Config
	Extract  ExtractFunc
	Verbose  bool
}

// Orchestrator fans a quote request out to the requested providers and
// collects their outcomes and extracted results.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Extract == nil {
		opts.Extract = extraction.Extract
	}
	if opts.Formulas == nil {
		opts.Formulas = formulas.Default()
	}
	return &Orchestrator{opts: opts}
}

// Report aggregates the per-provider terminal outcomes and whatever quote
// results were produced. Both maps are keyed by provider id and cover every
// requested provider; Results entries may be nil when a flow failed.
type Report struct {
	Outcomes map[string]types.Outcome
	Results  map[string]*types.QuoteResult
}

// Usable reports whether at least one provider produced a usable result.
func (r *Report) Usable() bool {
	for _, res := range r.Results {
		if res.Usable() {
			return true
		}
	}
	return false
}

// Run executes the request against every provider in providerIDs under the
// given mode. Failures are isolated per provider; cancellation of ctx stops
// flows cooperatively at their next step boundary. Run itself never returns
// an error: per-provider errors live in the outcomes.
func (o *Orchestrator) Run(ctx context.Context, req *types.QuoteRequest, providerIDs []string, mode Mode) *Report {
	report := &Report{
		Outcomes: make(map[string]types.Outcome, len(providerIDs)),
		Results:  make(map[string]*types.QuoteResult, len(providerIDs)),
	}

	if mode == ModeParallel {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, id := range providerIDs {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				outcome, result := o.runOne(ctx, req, id)
				mu.Lock()
				report.Outcomes[id] = outcome
				report.Results[id] = result
				mu.Unlock()
			}(id)
		}
		wg.Wait()
		return report
	}

	for _, id := range providerIDs {
		outcome, result := o.runOne(ctx, req, id)
		report.Outcomes[id] = outcome
		report.Results[id] = result
	}
	return report
}

// runOne resolves the provider and dispatches to the browser flow or the
// formula calculation. Panics in a provider run are contained so a parallel
// sibling still completes.
func (o *Orchestrator) runOne(ctx context.Context, req *types.QuoteRequest, id string) (outcome types.Outcome, result *types.QuoteResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] flow panicked: %v", id, r)
			outcome = types.Outcome{
				ProviderID: id,
				Status:     types.StatusFailed,
				Err:        fmt.Errorf("provider flow panicked: %v", r),
			}
			result = nil
		}
	}()

	provider, err := providers.Get(id)
	if err != nil {
		return types.Outcome{ProviderID: id, Status: types.StatusFailed, Err: err}, nil
	}

	start := time.Now()
	if o.opts.Verbose {
		log.Printf("[%s] starting quote (%s)", id, provider.Method)
	}

	if provider.Method == providers.QuoteByFormula {
		outcome, result = o.runFormula(req, provider)
	} else {
		outcome, result = o.runFlow(ctx, req, provider)
	}

	if o.opts.Verbose {
		log.Printf("[%s] finished with status %s in %s", id, outcome.Status, time.Since(start).Round(time.Millisecond))
	}
	return outcome, result
}

func (o *Orchestrator) runFormula(req *types.QuoteRequest, provider providers.Provider) (types.Outcome, *types.QuoteResult) {
	result, err := o.opts.Formulas.QuoteResult(provider.ID, req, vehicleAge(req))
	if err != nil {
		return types.Outcome{ProviderID: provider.ID, Status: types.StatusFailed, Err: err}, nil
	}
	return types.Outcome{ProviderID: provider.ID, Status: types.StatusSucceeded}, result
}

func (o *Orchestrator) runFlow(ctx context.Context, req *types.QuoteRequest, provider providers.Provider) (types.Outcome, *types.QuoteResult) {
	id := provider.ID
	fail := func(err error) (types.Outcome, *types.QuoteResult) {
		return types.Outcome{ProviderID: id, Status: types.StatusFailed, Err: err}, nil
	}

	def, err := providers.LoadFlow(id, o.flowsDir())
	if err != nil {
		return fail(err)
	}
	rules, err := providers.LoadRules(id, o.flowsDir())
	if err != nil {
		return fail(err)
	}

	var sess *session.Session
	if o.opts.Sessions != nil {
		// The browser profile is exclusive per provider; a second flow for
		// the same portal waits here.
		if err := o.opts.Sessions.Acquire(ctx, id); err != nil {
			return types.Outcome{ProviderID: id, Status: types.StatusCancelled, Err: err}, nil
		}
		defer o.opts.Sessions.Release(id)

		sess, err = o.opts.Sessions.Ensure(id)
		if err != nil {
			return fail(err)
		}
	}

	data := BuildStepData(req, o.credentials(id), id)
	outcome := o.opts.Engine.Execute(ctx, def, sess, data)

	var authErr *flow.AuthenticationError
	if errors.As(outcome.Err, &authErr) && o.opts.Sessions != nil {
		// A rejected login means the stored profile is stale.
		if err := o.opts.Sessions.Invalidate(id); err != nil {
			log.Printf("[%s] warning: failed to invalidate session: %v", id, err)
		}
	}

	if !outcome.Succeeded() {
		return outcome, nil
	}

	result, err := o.opts.Extract(rules, outcome.ArtifactPath)
	if err != nil {
		log.Printf("[%s] warning: artifact downloaded but not extractable: %v", id, err)
		return outcome, nil
	}
	return outcome, result
}

func (o *Orchestrator) flowsDir() string {
	if o.opts.Config == nil {
		return ""
	}
	return o.opts.Config.FlowsDir
}

func (o *Orchestrator) credentials(id string) config.Credentials {
	if o.opts.Config == nil {
		return config.Credentials{}
	}
	return o.opts.Config.ProviderCredentials(id)
}

// vehicleAge derives the vehicle's age in years from its model year. Unknown
// or future model years count as zero.
func vehicleAge(req *types.QuoteRequest) int {
	year, err := strconv.Atoi(req.Vehicle.ModelYear)
	if err != nil {
		return 0
	}
	age := time.Now().Year() - year
	if age < 0 {
		return 0
	}
	return age
}
