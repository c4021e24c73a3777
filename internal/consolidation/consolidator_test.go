package consolidation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sergio/cotizador/internal/types"
)

func testRequest() *types.QuoteRequest {
	return &types.QuoteRequest{
		Vehicle: types.Vehicle{
			Plate:         "IOS190",
			Brand:         "Mazda",
			Reference:     "CX-30",
			FullReference: "Mazda CX-30 Grand Touring",
			ModelYear:     "2023",
			State:         "Usado",
			Category:      "Liviano pasajeros",
			InsuredValue:  80_000_000,
		},
		Client: types.Client{
			DocumentType:   "CC",
			DocumentNumber: "1020304050",
			FirstName:      "Sergio",
			FirstLastname:  "Areiza",
			BirthDate:      "1990-05-14",
			Gender:         "M",
			City:           "Medellín",
			Department:     "ANTIOQUIA",
		},
	}
}

func suraResult() *types.QuoteResult {
	return &types.QuoteResult{
		ProviderID: "sura",
		Plans: map[string]string{
			"Plan Autos Global":  "1,234,567",
			"Plan Autos Clasico": "987,654",
		},
		PlanOrder: []string{"Plan Autos Global", "Plan Autos Clasico"},
	}
}

func TestGenerateFilenameFirstReport(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	path := GenerateFilename(dir, "IOS190", "Sergio Areiza", when)

	assert.Equal(t, filepath.Join(dir, "Cotizacion_IOS190_Sergio-Areiza_30-08-26.xlsx"), path)
}

func TestGenerateFilenameCollisionSuffix(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	first := GenerateFilename(dir, "IOS190", "Sergio Areiza", when)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))

	second := GenerateFilename(dir, "IOS190", "Sergio Areiza", when)
	assert.Equal(t, filepath.Join(dir, "Cotizacion_IOS190_Sergio-Areiza_30-08-26_1.xlsx"), second)

	require.NoError(t, os.WriteFile(second, []byte("x"), 0o644))
	third := GenerateFilename(dir, "IOS190", "Sergio Areiza", when)
	assert.Equal(t, filepath.Join(dir, "Cotizacion_IOS190_Sergio-Areiza_30-08-26_2.xlsx"), third)
}

func TestGenerateFilenameSanitizesName(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	path := GenerateFilename(dir, "IOS190", "Ana/María: Pérez", when)

	assert.Equal(t, filepath.Join(dir, "Cotizacion_IOS190_AnaMaría-Pérez_30-08-26.xlsx"), path)
}

func TestConsolidateWritesAllSheets(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)

	results := map[string]*types.QuoteResult{
		"sura": suraResult(),
		"bolivar": {
			ProviderID: "bolivar",
			Plans:      map[string]string{"Prima Anual": "3,599,512"},
			PlanOrder:  []string{"Prima Anual"},
		},
	}

	path, err := c.Consolidate(testRequest(), results, []string{"sura", "bolivar"})
	require.NoError(t, err)
	require.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"DATOS", "SURA", "BOLIVAR", summarySheet}, f.GetSheetList())

	// Client and vehicle sections land on the data sheet.
	v, err := f.GetCellValue("DATOS", "A1")
	require.NoError(t, err)
	assert.Equal(t, "DATOS DEL CLIENTE", v)
	rows, err := f.GetRows("DATOS")
	require.NoError(t, err)
	assert.Contains(t, flatten(rows), "IOS190")
	assert.Contains(t, flatten(rows), "1020304050")

	// Plan values carry the currency prefix in declaration order.
	v, err = f.GetCellValue("SURA", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Plan Autos Global", v)
	v, err = f.GetCellValue("SURA", "B2")
	require.NoError(t, err)
	assert.Equal(t, "$1,234,567", v)

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Contains(t, flatten(summary), "$3,599,512")
}

func TestConsolidateRendersMissingProviderAsNotFound(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)

	results := map[string]*types.QuoteResult{"sura": suraResult()}

	path, err := c.Consolidate(testRequest(), results, []string{"sura", "allianz"})
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("ALLIANZ", "B2")
	require.NoError(t, err)
	assert.Equal(t, types.NotFound, v)
}

func TestConsolidateSkipsWhenNothingUsable(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)

	results := map[string]*types.QuoteResult{
		"sura": {
			ProviderID: "sura",
			Plans:      map[string]string{"Plan Autos Global": types.NotFound},
		},
	}

	_, err := c.Consolidate(testRequest(), results, []string{"sura", "allianz"})

	var skipped *SkippedError
	require.ErrorAs(t, err, &skipped)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no report file should be created when skipped")
}

func TestConsolidateNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, false)
	results := map[string]*types.QuoteResult{"sura": suraResult()}

	first, err := c.Consolidate(testRequest(), results, []string{"sura"})
	require.NoError(t, err)
	second, err := c.Consolidate(testRequest(), results, []string{"sura"})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

func TestSkippedErrorMessage(t *testing.T) {
	err := &SkippedError{Reason: "no provider produced a usable quote result"}
	assert.True(t, errors.As(error(err), new(*SkippedError)))
	assert.Contains(t, err.Error(), "consolidation skipped")
}

func flatten(rows [][]string) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
