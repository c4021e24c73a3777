package flow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergio/cotizador/internal/session"
	"github.com/sergio/cotizador/internal/types"
)

// fakeRunner scripts per-step behavior so engine semantics can be tested
// without a browser.
type fakeRunner struct {
	failures map[string]int // step name -> number of failing attempts before success
	fatal    map[string]error
	calls    map[string]int
	executed []string
	artifact string
	block    chan struct{} // when set, RunStep blocks until context is done
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		failures: make(map[string]int),
		fatal:    make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeRunner) RunStep(ctx context.Context, step *Step, data StepData) error {
	f.calls[step.Name]++
	f.executed = append(f.executed, step.Name)
	if f.block != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if err, ok := f.fatal[step.Name]; ok {
		return err
	}
	if n := f.failures[step.Name]; f.calls[step.Name] <= n {
		return errors.New("transient failure")
	}
	return nil
}

func (f *fakeRunner) ArtifactPath() string { return f.artifact }
func (f *fakeRunner) Close()               {}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Cotizacion_Sura_123.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))
	return path
}

func testDefinition() *Definition {
	return &Definition{
		ProviderID: "sura",
		Steps: []Step{
			{Name: "open_portal", Action: ActionNavigate, URL: "https://portal.example.com"},
			{Name: "enter_user", Action: ActionFill, Selector: "#user", Value: "{credentials.username}", Login: true},
			{Name: "generate_quote", Action: ActionClick, Selector: "#quote"},
			{Name: "download_pdf", Action: ActionWaitDownload},
		},
	}
}

func testEngine(sessions *session.Store) *Engine {
	return New(Options{
		DefaultTimeout:  2 * time.Second,
		DefaultAttempts: 3,
		Sessions:        sessions,
	})
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	runner := newFakeRunner()
	runner.artifact = writeArtifact(t)

	outcome := testEngine(nil).run(context.Background(), runner, testDefinition(), nil, StepData{})

	require.Equal(t, types.StatusSucceeded, outcome.Status)
	assert.Equal(t, runner.artifact, outcome.ArtifactPath)
	assert.Equal(t, []string{"open_portal", "enter_user", "generate_quote", "download_pdf"}, runner.executed)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.artifact = writeArtifact(t)
	runner.failures["generate_quote"] = 2 // succeeds on third attempt

	def := testDefinition()
	def.Steps[2].DelaySeconds = 0.01

	outcome := testEngine(nil).run(context.Background(), runner, def, nil, StepData{})

	require.Equal(t, types.StatusSucceeded, outcome.Status)
	assert.Equal(t, 3, runner.calls["generate_quote"])
}

func TestRunStopsAtRetryBudget(t *testing.T) {
	runner := newFakeRunner()
	runner.failures["generate_quote"] = 10

	def := testDefinition()
	def.Steps[2].MaxAttempts = 2
	def.Steps[2].DelaySeconds = 0.01

	outcome := testEngine(nil).run(context.Background(), runner, def, nil, StepData{})

	require.Equal(t, types.StatusFailed, outcome.Status)
	assert.Equal(t, "generate_quote", outcome.FailedStep)
	assert.Equal(t, 2, runner.calls["generate_quote"])

	var stepErr *StepTimeoutError
	require.ErrorAs(t, outcome.Err, &stepErr)
	assert.Equal(t, 2, stepErr.Attempts)
}

func TestRunDoesNotRetryUnrecoverableErrors(t *testing.T) {
	runner := newFakeRunner()
	runner.fatal["enter_user"] = &UnrecoverablePageError{Step: "enter_user", Indicator: "Cuenta bloqueada"}

	outcome := testEngine(nil).run(context.Background(), runner, testDefinition(), nil, StepData{})

	require.Equal(t, types.StatusFailed, outcome.Status)
	assert.Equal(t, 1, runner.calls["enter_user"])

	var pageErr *UnrecoverablePageError
	require.ErrorAs(t, outcome.Err, &pageErr)
	assert.NotContains(t, runner.executed, "generate_quote")
}

func TestRunDoesNotRetryAuthenticationErrors(t *testing.T) {
	runner := newFakeRunner()
	runner.fatal["enter_user"] = &AuthenticationError{Provider: "sura", Message: "credenciales invalidas"}

	outcome := testEngine(nil).run(context.Background(), runner, testDefinition(), nil, StepData{})

	require.Equal(t, types.StatusFailed, outcome.Status)
	assert.Equal(t, 1, runner.calls["enter_user"])
}

func TestRunCancelledAtStepBoundary(t *testing.T) {
	runner := newFakeRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := testEngine(nil).run(ctx, runner, testDefinition(), nil, StepData{})

	require.Equal(t, types.StatusCancelled, outcome.Status)
	assert.Empty(t, runner.executed)
}

func TestRunCancelledMidStep(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	outcome := testEngine(nil).run(ctx, runner, testDefinition(), nil, StepData{})
	require.Equal(t, types.StatusCancelled, outcome.Status)
}

func TestRunSkipsLoginStepsWithValidSession(t *testing.T) {
	store := session.NewStore(t.TempDir(), 8*24*time.Hour)
	sess, err := store.Put("sura")
	require.NoError(t, err)

	runner := newFakeRunner()
	runner.artifact = writeArtifact(t)

	outcome := testEngine(store).run(context.Background(), runner, testDefinition(), sess, StepData{})

	require.Equal(t, types.StatusSucceeded, outcome.Status)
	assert.NotContains(t, runner.executed, "enter_user")
}

func TestRunExecutesLoginStepsWithExpiredSession(t *testing.T) {
	store := session.NewStore(t.TempDir(), 1*time.Nanosecond)
	sess, err := store.Put("sura")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	runner := newFakeRunner()
	runner.artifact = writeArtifact(t)

	outcome := testEngine(store).run(context.Background(), runner, testDefinition(), sess, StepData{})

	require.Equal(t, types.StatusSucceeded, outcome.Status)
	assert.Contains(t, runner.executed, "enter_user")
}

func TestRunFailsWithoutArtifact(t *testing.T) {
	runner := newFakeRunner()

	outcome := testEngine(nil).run(context.Background(), runner, testDefinition(), nil, StepData{})

	require.Equal(t, types.StatusFailed, outcome.Status)
	var artErr *ArtifactError
	require.ErrorAs(t, outcome.Err, &artErr)
}

func TestRunFailsOnEmptyArtifact(t *testing.T) {
	runner := newFakeRunner()
	path := filepath.Join(t.TempDir(), "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	runner.artifact = path

	outcome := testEngine(nil).run(context.Background(), runner, testDefinition(), nil, StepData{})

	require.Equal(t, types.StatusFailed, outcome.Status)
}

func TestRunAnchorsSessionAfterLogin(t *testing.T) {
	store := session.NewStore(t.TempDir(), 8*24*time.Hour)

	runner := newFakeRunner()
	runner.artifact = writeArtifact(t)

	outcome := testEngine(store).run(context.Background(), runner, testDefinition(), nil, StepData{})
	require.Equal(t, types.StatusSucceeded, outcome.Status)

	sess, err := store.Get("sura")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.Valid(store.Validity(), time.Now()))
}

func TestRunStepsSucceedsWithoutArtifact(t *testing.T) {
	runner := newFakeRunner()
	engine := testEngine(nil)

	outcome := engine.runSteps(context.Background(), runner, testDefinition(), StepData{})

	assert.Equal(t, types.StatusSucceeded, outcome.Status)
	assert.Empty(t, outcome.ArtifactPath)
	assert.Equal(t, []string{"open_portal", "enter_user", "generate_quote", "download_pdf"}, runner.executed)
}

func TestRunStepsNeverSkipsLogin(t *testing.T) {
	store := session.NewStore(t.TempDir(), 8*24*time.Hour)
	_, err := store.Put("sura")
	require.NoError(t, err)

	runner := newFakeRunner()
	engine := testEngine(store)

	outcome := engine.runSteps(context.Background(), runner, testDefinition(), StepData{})

	assert.Equal(t, types.StatusSucceeded, outcome.Status)
	assert.Contains(t, runner.executed, "enter_user")
}

func TestStepDataExpand(t *testing.T) {
	data := StepData{
		"client.document_number": "1020422674",
		"credentials.username":   "asesor1",
	}

	assert.Equal(t, "1020422674", data.Expand("{client.document_number}"))
	assert.Equal(t, "user asesor1", data.Expand("user {credentials.username}"))
	// Unknown placeholders stay visible instead of submitting empty fields.
	assert.Equal(t, "{vehicle.plate}", data.Expand("{vehicle.plate}"))
	assert.Equal(t, "plain", data.Expand("plain"))
}

func TestStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"valid navigate", Step{Name: "go", Action: ActionNavigate, URL: "https://x"}, false},
		{"navigate without url", Step{Name: "go", Action: ActionNavigate}, true},
		{"unknown action", Step{Name: "go", Action: "teleport"}, true},
		{"fill without value", Step{Name: "f", Action: ActionFill, Selector: "#a"}, true},
		{"click without selector", Step{Name: "c", Action: ActionClick}, true},
		{"wait_text without text", Step{Name: "w", Action: ActionWaitText}, true},
		{"valid select", Step{Name: "s", Action: ActionSelect, Selector: "#s", Value: "1"}, false},
		{"valid assert_absent", Step{Name: "a", Action: ActionAssertAbsent, Text: "rejected"}, false},
		{"assert_absent without text", Step{Name: "a", Action: ActionAssertAbsent}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefinitionValidateRejectsDuplicateSteps(t *testing.T) {
	def := &Definition{
		ProviderID: "sura",
		Steps: []Step{
			{Name: "open", Action: ActionNavigate, URL: "https://x"},
			{Name: "open", Action: ActionNavigate, URL: "https://y"},
		},
	}
	assert.Error(t, def.Validate())
}

func TestBackoffDelay(t *testing.T) {
	fixed := Step{DelaySeconds: 2, Backoff: BackoffFixed}
	assert.Equal(t, 2*time.Second, fixed.BackoffDelay(1))
	assert.Equal(t, 2*time.Second, fixed.BackoffDelay(3))

	exp := Step{DelaySeconds: 1, Backoff: BackoffExponential}
	assert.Equal(t, 1*time.Second, exp.BackoffDelay(1))
	assert.Equal(t, 2*time.Second, exp.BackoffDelay(2))
	assert.Equal(t, 4*time.Second, exp.BackoffDelay(3))
}
