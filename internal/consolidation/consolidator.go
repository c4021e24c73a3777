// Package consolidation merges the per-provider quote results and the
// original request data into one spreadsheet report.
package consolidation

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sergio/cotizador/internal/types"
)

const summarySheet = "RESUMEN_COTIZACIONES"

// SkippedError reports that consolidation did not run and why. It is a
// reported condition, not a fatal process error.
type SkippedError struct {
	Reason string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("consolidation skipped: %s", e.Reason)
}

// Consolidator writes consolidated reports into a reports directory.
type Consolidator struct {
	reportsDir string
	verbose    bool
}

// New creates a Consolidator rooted at reportsDir.
func New(reportsDir string, verbose bool) *Consolidator {
	return &Consolidator{reportsDir: reportsDir, verbose: verbose}
}

// Consolidate builds the report from whatever results are available once all
// flows have settled. providerOrder lists every requested provider; the ones
// without a usable result are rendered with not-found markers rather than
// omitted. Returns the created file path, or SkippedError when zero results
// are usable.
func (c *Consolidator) Consolidate(req *types.QuoteRequest, results map[string]*types.QuoteResult, providerOrder []string) (string, error) {
	usable := 0
	for _, id := range providerOrder {
		if results[id].Usable() {
			usable++
		}
	}
	if usable == 0 {
		return "", &SkippedError{Reason: "no provider produced a usable quote result"}
	}

	if err := os.MkdirAll(c.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports dir: %w", err)
	}
	path := GenerateFilename(c.reportsDir, req.Vehicle.Plate, req.ClientFullName(), time.Now())

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("failed to create style: %w", err)
	}

	if err := c.writeDataSheet(f, bold, req); err != nil {
		return "", err
	}
	for _, id := range providerOrder {
		if err := c.writeProviderSheet(f, bold, id, results[id]); err != nil {
			return "", err
		}
	}
	if err := c.writeSummarySheet(f, bold, results, providerOrder); err != nil {
		return "", err
	}

	// The default sheet is replaced by ours.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("failed to drop default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(summarySheet); err == nil {
		f.SetActiveSheet(idx)
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report %s: %w", path, err)
	}
	if c.verbose {
		log.Printf("[consolidation] report written: %s", path)
	}
	return path, nil
}

// GenerateFilename derives the collision-safe report path from plate, client
// name and date. An existing file of the computed name gets an incremented
// numeric suffix; a prior report is never overwritten.
func GenerateFilename(dir, plate, clientName string, now time.Time) string {
	base := fmt.Sprintf("Cotizacion_%s_%s_%s", sanitize(plate), sanitize(clientName), now.Format("02-01-06"))
	path := filepath.Join(dir, base+".xlsx")
	for seq := 1; ; seq++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.xlsx", base, seq))
	}
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "-")
	for _, ch := range []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"} {
		s = strings.ReplaceAll(s, ch, "")
	}
	return s
}

func (c *Consolidator) writeDataSheet(f *excelize.File, bold int, req *types.QuoteRequest) error {
	const sheet = "DATOS"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	w := &sheetWriter{f: f, sheet: sheet, bold: bold}
	w.header("DATOS DEL CLIENTE")
	w.pair("Número de Documento", req.Client.DocumentNumber)
	w.pair("Tipo de Documento", req.Client.DocumentType)
	w.pair("Primer Nombre", req.Client.FirstName)
	w.pair("Segundo Nombre", req.Client.SecondName)
	w.pair("Primer Apellido", req.Client.FirstLastname)
	w.pair("Segundo Apellido", req.Client.SecondLastname)
	w.pair("Fecha de Nacimiento", req.Client.BirthDate)
	w.pair("Género", req.Client.Gender)
	w.pair("Ocupación", req.Client.Occupation)
	w.pair("Teléfono", req.Client.Phone)
	w.pair("Email", req.Client.Email)

	w.blank()
	w.header("DATOS DE DIRECCIÓN")
	w.pair("Dirección", req.Client.Address)
	w.pair("Ciudad", req.Client.City)
	w.pair("Departamento", req.Client.Department)

	w.blank()
	w.header("DATOS DEL VEHÍCULO")
	w.pair("Placa", req.Vehicle.Plate)
	w.pair("Marca", req.Vehicle.Brand)
	w.pair("Referencia", req.Vehicle.Reference)
	w.pair("Referencia Completa", req.Vehicle.FullReference)
	w.pair("Año del Modelo", req.Vehicle.ModelYear)
	w.pair("Estado", req.Vehicle.State)
	w.pair("Categoría", req.Vehicle.Category)
	w.pair("Código CF", req.Vehicle.CFCode)
	w.pair("Código CH", req.Vehicle.CHCode)
	if req.Vehicle.InsuredValue > 0 {
		w.pair("Valor Asegurado", fmt.Sprintf("$%d", req.Vehicle.InsuredValue))
	}

	if err := f.SetColWidth(sheet, "A", "B", 28); err != nil {
		return err
	}
	return w.err
}

func (c *Consolidator) writeProviderSheet(f *excelize.File, bold int, providerID string, result *types.QuoteResult) error {
	sheet := strings.ToUpper(providerID)
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	w := &sheetWriter{f: f, sheet: sheet, bold: bold}
	w.header("COTIZACIONES " + sheet)
	writePlanRows(w, result)

	if err := f.SetColWidth(sheet, "A", "B", 28); err != nil {
		return err
	}
	return w.err
}

func (c *Consolidator) writeSummarySheet(f *excelize.File, bold int, results map[string]*types.QuoteResult, providerOrder []string) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", summarySheet, err)
	}

	w := &sheetWriter{f: f, sheet: summarySheet, bold: bold}
	for i, id := range providerOrder {
		if i > 0 {
			w.blank()
		}
		w.header(strings.ToUpper(id))
		writePlanRows(w, results[id])
	}

	if err := f.SetColWidth(summarySheet, "A", "B", 28); err != nil {
		return err
	}
	return w.err
}

func writePlanRows(w *sheetWriter, result *types.QuoteResult) {
	if result == nil || len(result.Plans) == 0 {
		w.pair("Cotización", types.NotFound)
		return
	}
	for _, plan := range result.OrderedPlans() {
		value := result.Plans[plan]
		if value != types.NotFound && value != "" {
			value = "$" + value
		}
		w.pair(plan, value)
	}
}

// sheetWriter appends rows to one sheet, keeping the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	bold  int
	row   int
	err   error
}

func (w *sheetWriter) header(title string) {
	w.row++
	cell := fmt.Sprintf("A%d", w.row)
	w.set(cell, title)
	if w.err == nil {
		w.err = w.f.SetCellStyle(w.sheet, cell, cell, w.bold)
	}
}

func (w *sheetWriter) pair(label, value string) {
	w.row++
	w.set(fmt.Sprintf("A%d", w.row), label)
	w.set(fmt.Sprintf("B%d", w.row), value)
}

func (w *sheetWriter) blank() {
	w.row++
}

func (w *sheetWriter) set(cell string, value string) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellValue(w.sheet, cell, value)
}
