package history

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergio/cotizador/internal/types"
)

func integrationDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func TestRunLifecycle_RealDB(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()

	req := &types.QuoteRequest{
		Vehicle: types.Vehicle{Plate: "IOS190"},
		Client:  types.Client{DocumentNumber: "1020304050", FirstName: "Sergio", FirstLastname: "Areiza"},
	}

	runID, err := db.CreateRun(ctx, req)
	require.NoError(t, err)

	err = db.SaveOutcome(ctx, runID, types.Outcome{
		ProviderID:   "sura",
		Status:       types.StatusSucceeded,
		ArtifactPath: "downloads/sura/quote.pdf",
	}, &types.QuoteResult{
		ProviderID: "sura",
		Plans:      map[string]string{"Plan Autos Global": "1,234,567"},
	})
	require.NoError(t, err)

	err = db.SaveOutcome(ctx, runID, types.Outcome{
		ProviderID: "allianz",
		Status:     types.StatusFailed,
		FailedStep: "submit_login",
		Err:        errors.New("rejected"),
	}, nil)
	require.NoError(t, err)

	require.NoError(t, db.CompleteRun(ctx, runID, types.StatusSucceeded, "Consolidados/report.xlsx"))

	run, err := db.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "IOS190", run.Plate)
	assert.Equal(t, string(types.StatusSucceeded), run.Status)
	require.NotNil(t, run.ReportPath)
	assert.Equal(t, "Consolidados/report.xlsx", *run.ReportPath)
	assert.NotNil(t, run.CompletedAt)

	runs, err := db.RecentRuns(ctx, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)
}
