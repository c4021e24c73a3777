// Package formulas computes premiums for the insurers quoted by agreement
// formula instead of a portal PDF (Bolívar and Solidaria under the EPM
// collective). Rate tables are read-only configuration.
package formulas

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/sergio/cotizador/internal/extraction"
	"github.com/sergio/cotizador/internal/types"
)

// PlanName is the single plan a formula provider contributes to the report.
const PlanName = "Prima Anual"

// ProviderFormula is one insurer's premium calculation:
// (insuredValue*rate/100 + fixed charges) * VAT factor. Rate comes either
// from the fixed Rate or, when zero, from the department/vehicle-age table.
type ProviderFormula struct {
	Company      string  `json:"company,omitempty"`
	Rate         float64 `json:"rate,omitempty"`
	FixedCharges []int64 `json:"fixed_charges"`
	VATFactor    float64 `json:"vat_factor,omitempty"`
	// DepartmentRates maps department -> age band ("0_1", "2_6", "7_10",
	// "11_15", "16_30") -> rate percentage.
	DepartmentRates map[string]map[string]float64 `json:"department_rates,omitempty"`
}

// Config holds the formula of every calculated provider, keyed by provider id.
type Config struct {
	Providers map[string]ProviderFormula `json:"providers"`
}

// Load reads a formulas config JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formulas config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse formulas config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the built-in EPM agreement tables, used when no formulas
// file is configured.
func Default() *Config {
	return &Config{
		Providers: map[string]ProviderFormula{
			"bolivar": {
				Company:      "EPM",
				Rate:         3.3,
				FixedCharges: []int64{279890, 104910},
				VATFactor:    1.19,
			},
			"solidaria": {
				Company:      "EPM",
				FixedCharges: []int64{246000, 93600, 13200},
				VATFactor:    1.19,
				DepartmentRates: map[string]map[string]float64{
					"Cundinamarca":                          {"0_1": 3.56, "2_6": 3.76, "7_10": 4.63, "11_15": 5.70, "16_30": 5.70},
					"Antioquia":                             {"0_1": 4.63, "2_6": 4.89, "7_10": 6.02, "11_15": 7.41, "16_30": 7.41},
					"Valle":                                 {"0_1": 4.15, "2_6": 4.38, "7_10": 5.39, "11_15": 6.64, "16_30": 6.64},
					"Quindio, Caldas y Risaralda":           {"0_1": 3.70, "2_6": 3.91, "7_10": 4.81, "11_15": 5.92, "16_30": 5.92},
					"Tolima, Nariño, Meta, Boyacá y Cauca":  {"0_1": 3.18, "2_6": 3.36, "7_10": 4.14, "11_15": 5.09, "16_30": 5.09},
					"Córdoba, Cesar, Bolívar y Atlántico":   {"0_1": 3.39, "2_6": 3.58, "7_10": 4.41, "11_15": 5.42, "16_30": 5.42},
					"Huila, Santander y Norte de Santander": {"0_1": 3.29, "2_6": 3.47, "7_10": 4.27, "11_15": 5.26, "16_30": 5.26},
				},
			},
		},
	}
}

// departmentGroups maps department names as they appear in client data to the
// rate group that covers them. Several departments share one rate group.
var departmentGroups = map[string]string{
	"CUNDINAMARCA":       "Cundinamarca",
	"BOGOTA D.C.":        "Cundinamarca",
	"ANTIOQUIA":          "Antioquia",
	"VALLE DEL CAUCA":    "Valle",
	"VALLE":              "Valle",
	"QUINDIO":            "Quindio, Caldas y Risaralda",
	"CALDAS":             "Quindio, Caldas y Risaralda",
	"RISARALDA":          "Quindio, Caldas y Risaralda",
	"TOLIMA":             "Tolima, Nariño, Meta, Boyacá y Cauca",
	"NARIÑO":             "Tolima, Nariño, Meta, Boyacá y Cauca",
	"META":               "Tolima, Nariño, Meta, Boyacá y Cauca",
	"BOYACA":             "Tolima, Nariño, Meta, Boyacá y Cauca",
	"CAUCA":              "Tolima, Nariño, Meta, Boyacá y Cauca",
	"CORDOBA":            "Córdoba, Cesar, Bolívar y Atlántico",
	"CÓRDOBA":            "Córdoba, Cesar, Bolívar y Atlántico",
	"CESAR":              "Córdoba, Cesar, Bolívar y Atlántico",
	"BOLIVAR":            "Córdoba, Cesar, Bolívar y Atlántico",
	"BOLÍVAR":            "Córdoba, Cesar, Bolívar y Atlántico",
	"ATLANTICO":          "Córdoba, Cesar, Bolívar y Atlántico",
	"ATLÁNTICO":          "Córdoba, Cesar, Bolívar y Atlántico",
	"HUILA":              "Huila, Santander y Norte de Santander",
	"SANTANDER":          "Huila, Santander y Norte de Santander",
	"NORTE DE SANTANDER": "Huila, Santander y Norte de Santander",
}

// rateTable resolves a department to its rate group's table. It tries the
// group mapping first, then matches group names (and their comma-separated
// members) case-insensitively, so configs keyed by plain department names
// keep working.
func (f *ProviderFormula) rateTable(department string) (map[string]float64, error) {
	normalized := strings.ToUpper(strings.TrimSpace(department))
	if group, ok := departmentGroups[normalized]; ok {
		if table, ok := f.DepartmentRates[group]; ok {
			return table, nil
		}
	}
	for group, table := range f.DepartmentRates {
		if strings.EqualFold(group, normalized) {
			return table, nil
		}
		for _, member := range strings.Split(group, ",") {
			if strings.EqualFold(strings.TrimSpace(member), normalized) {
				return table, nil
			}
		}
	}
	return nil, fmt.Errorf("no rate table for department %q", department)
}

// AgeBand maps a vehicle age in years to its rate-table band.
func AgeBand(age int) string {
	switch {
	case age <= 1:
		return "0_1"
	case age <= 6:
		return "2_6"
	case age <= 10:
		return "7_10"
	case age <= 15:
		return "11_15"
	default:
		return "16_30"
	}
}

// Premium computes the annual premium for a vehicle. department and
// vehicleAge are only consulted when the formula carries a department table.
func (f *ProviderFormula) Premium(insuredValue int64, department string, vehicleAge int) (int64, error) {
	if insuredValue <= 0 {
		return 0, fmt.Errorf("insured value must be positive, got %d", insuredValue)
	}

	rate := f.Rate
	if rate == 0 {
		if len(f.DepartmentRates) == 0 {
			return 0, fmt.Errorf("formula has neither a fixed rate nor a department table")
		}
		table, err := f.rateTable(department)
		if err != nil {
			return 0, err
		}
		band := AgeBand(vehicleAge)
		var ok bool
		rate, ok = table[band]
		if !ok {
			return 0, fmt.Errorf("no rate for department %q, age band %s", department, band)
		}
	}

	vat := f.VATFactor
	if vat == 0 {
		vat = 1.19
	}

	base := float64(insuredValue) * rate / 100
	for _, charge := range f.FixedCharges {
		base += float64(charge)
	}
	return int64(math.Round(base * vat)), nil
}

// QuoteResult computes the premium for a request and packages it in the same
// shape PDF extraction produces, so consolidation treats both alike.
func (c *Config) QuoteResult(providerID string, req *types.QuoteRequest, vehicleAge int) (*types.QuoteResult, error) {
	formula, ok := c.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("no formula configured for provider %s", providerID)
	}
	premium, err := formula.Premium(req.Vehicle.InsuredValue, req.Client.Department, vehicleAge)
	if err != nil {
		return nil, fmt.Errorf("formula for %s: %w", providerID, err)
	}
	return &types.QuoteResult{
		ProviderID: providerID,
		Plans:      map[string]string{PlanName: extraction.FormatAmount(premium)},
		PlanOrder:  []string{PlanName},
	}, nil
}
