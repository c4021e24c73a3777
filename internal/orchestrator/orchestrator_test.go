package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergio/cotizador/internal/config"
	"github.com/sergio/cotizador/internal/extraction"
	"github.com/sergio/cotizador/internal/flow"
	"github.com/sergio/cotizador/internal/session"
	"github.com/sergio/cotizador/internal/types"
)

type fakeExecutor struct {
	mu       sync.Mutex
	outcomes map[string]types.Outcome
	calls    []string
	data     map[string]flow.StepData
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outcomes: make(map[string]types.Outcome),
		data:     make(map[string]flow.StepData),
	}
}

func (f *fakeExecutor) Execute(_ context.Context, def *flow.Definition, _ *session.Session, data flow.StepData) types.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, def.ProviderID)
	f.data[def.ProviderID] = data

	outcome, ok := f.outcomes[def.ProviderID]
	if !ok {
		outcome = types.Outcome{Status: types.StatusSucceeded, ArtifactPath: "quote.pdf"}
	}
	outcome.ProviderID = def.ProviderID
	return outcome
}

func fakeExtract(rules *extraction.RuleSet, _ string) (*types.QuoteResult, error) {
	return &types.QuoteResult{
		ProviderID: rules.ProviderID,
		Plans:      map[string]string{"Plan Autos Global": "1,234,567"},
		PlanOrder:  []string{"Plan Autos Global"},
	}, nil
}

func testRequest() *types.QuoteRequest {
	return &types.QuoteRequest{
		Vehicle: types.Vehicle{
			Plate:        "IOS190",
			ModelYear:    "2023",
			InsuredValue: 80_000_000,
		},
		Client: types.Client{
			DocumentType:   "CC",
			DocumentNumber: "1020304050",
			Department:     "ANTIOQUIA",
		},
	}
}

func testOrchestrator(t *testing.T, engine FlowExecutor) (*Orchestrator, *session.Store) {
	t.Helper()
	store := session.NewStore(t.TempDir(), 8*24*time.Hour)
	cfg := &config.Config{
		Credentials: map[string]config.Credentials{
			"sura":    {Username: "advisor", Password: "secret"},
			"allianz": {Username: "advisor", Password: "secret"},
		},
	}
	o := New(Options{
		Engine:   engine,
		Sessions: store,
		Config:   cfg,
		Extract:  fakeExtract,
	})
	return o, store
}

func TestRunFormulaProvidersWithoutBrowser(t *testing.T) {
	engine := newFakeExecutor()
	o, _ := testOrchestrator(t, engine)

	report := o.Run(context.Background(), testRequest(), []string{"bolivar", "solidaria"}, ModeSequential)

	assert.Empty(t, engine.calls, "formula providers must not open a browser")
	for _, id := range []string{"bolivar", "solidaria"} {
		assert.Equal(t, types.StatusSucceeded, report.Outcomes[id].Status, id)
		require.NotNil(t, report.Results[id], id)
		assert.True(t, report.Results[id].Usable(), id)
	}
}

func TestRunExtractsAfterSuccessfulFlow(t *testing.T) {
	engine := newFakeExecutor()
	o, _ := testOrchestrator(t, engine)

	report := o.Run(context.Background(), testRequest(), []string{"sura"}, ModeSequential)

	require.Equal(t, types.StatusSucceeded, report.Outcomes["sura"].Status)
	require.NotNil(t, report.Results["sura"])
	assert.Equal(t, "1,234,567", report.Results["sura"].Plans["Plan Autos Global"])

	data := engine.data["sura"]
	assert.Equal(t, "advisor", data["credentials.username"])
	assert.Equal(t, "IOS190", data["vehicle.plate"])
}

func TestRunIsolatesFailuresSequential(t *testing.T) {
	engine := newFakeExecutor()
	engine.outcomes["sura"] = types.Outcome{
		Status:     types.StatusFailed,
		FailedStep: "generate_quote",
		Err:        errors.New("portal timeout"),
	}
	o, _ := testOrchestrator(t, engine)

	report := o.Run(context.Background(), testRequest(), []string{"sura", "allianz", "bolivar"}, ModeSequential)

	assert.Equal(t, types.StatusFailed, report.Outcomes["sura"].Status)
	assert.Nil(t, report.Results["sura"])
	assert.Equal(t, types.StatusSucceeded, report.Outcomes["allianz"].Status)
	assert.Equal(t, types.StatusSucceeded, report.Outcomes["bolivar"].Status)
	assert.True(t, report.Usable())
}

func TestRunIsolatesFailuresParallel(t *testing.T) {
	engine := newFakeExecutor()
	engine.outcomes["allianz"] = types.Outcome{
		Status: types.StatusFailed,
		Err:    errors.New("portal down"),
	}
	o, _ := testOrchestrator(t, engine)

	report := o.Run(context.Background(), testRequest(), []string{"sura", "allianz", "bolivar", "solidaria"}, ModeParallel)

	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, types.StatusFailed, report.Outcomes["allianz"].Status)
	assert.Equal(t, types.StatusSucceeded, report.Outcomes["sura"].Status)
	assert.Equal(t, types.StatusSucceeded, report.Outcomes["bolivar"].Status)
	assert.Equal(t, types.StatusSucceeded, report.Outcomes["solidaria"].Status)
}

func TestRunUnknownProviderFails(t *testing.T) {
	o, _ := testOrchestrator(t, newFakeExecutor())

	report := o.Run(context.Background(), testRequest(), []string{"mapfre"}, ModeSequential)

	assert.Equal(t, types.StatusFailed, report.Outcomes["mapfre"].Status)
	assert.Error(t, report.Outcomes["mapfre"].Err)
}

func TestRunCancelledContextYieldsCancelled(t *testing.T) {
	o, _ := testOrchestrator(t, newFakeExecutor())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := o.Run(ctx, testRequest(), []string{"sura"}, ModeSequential)

	assert.Equal(t, types.StatusCancelled, report.Outcomes["sura"].Status)
}

func TestRunInvalidatesSessionOnAuthFailure(t *testing.T) {
	engine := newFakeExecutor()
	engine.outcomes["sura"] = types.Outcome{
		Status:     types.StatusFailed,
		FailedStep: "submit_login",
		Err:        &flow.AuthenticationError{Provider: "sura", Message: "rejected"},
	}
	o, store := testOrchestrator(t, engine)

	_, err := store.Put("sura")
	require.NoError(t, err)

	o.Run(context.Background(), testRequest(), []string{"sura"}, ModeSequential)

	sess, err := store.Get("sura")
	require.NoError(t, err)
	assert.Nil(t, sess, "stale profile must be dropped after a rejected login")
}

func TestRunKeepsOutcomeWhenExtractionFails(t *testing.T) {
	engine := newFakeExecutor()
	store := session.NewStore(t.TempDir(), 8*24*time.Hour)
	o := New(Options{
		Engine:   engine,
		Sessions: store,
		Config:   &config.Config{},
		Extract: func(_ *extraction.RuleSet, path string) (*types.QuoteResult, error) {
			return nil, &extraction.ReadError{Path: path, Cause: errors.New("garbled")}
		},
	})

	report := o.Run(context.Background(), testRequest(), []string{"allianz"}, ModeSequential)

	assert.Equal(t, types.StatusSucceeded, report.Outcomes["allianz"].Status)
	assert.Nil(t, report.Results["allianz"])
	assert.False(t, report.Usable())
}

func TestBuildStepData(t *testing.T) {
	req := testRequest()
	req.Vehicle.CFCode = "08102097"
	req.PolicyNumbers = map[string]string{"sura": "040001234"}

	data := BuildStepData(req, config.Credentials{Username: "u", Password: "p"}, "sura")

	assert.Equal(t, "u", data["credentials.username"])
	assert.Equal(t, "p", data["credentials.password"])
	assert.Equal(t, "C", data["credentials.document_type"], "document type defaults to cédula")
	assert.Equal(t, "1020304050", data["client.document_number"])
	assert.Equal(t, "08102097", data["fasecolda.cf"])
	assert.Equal(t, "040001234", data["policy_number"])

	data = BuildStepData(req, config.Credentials{DocumentType: "E"}, "allianz")
	assert.Equal(t, "E", data["credentials.document_type"])
	assert.Equal(t, "", data["policy_number"], "policy numbers are per provider")
}

func TestVehicleAge(t *testing.T) {
	req := testRequest()
	req.Vehicle.ModelYear = "2020"
	assert.Equal(t, time.Now().Year()-2020, vehicleAge(req))

	req.Vehicle.ModelYear = "3000"
	assert.Equal(t, 0, vehicleAge(req), "future model years clamp to zero")

	req.Vehicle.ModelYear = "unknown"
	assert.Equal(t, 0, vehicleAge(req))
}
