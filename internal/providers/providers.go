// Package providers holds the static registry of supported insurers and
// their declarative flow definitions and extraction rule sets. Adding an
// insurer is a data-authoring task: a YAML flow plus a JSON rule set.
package providers

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sergio/cotizador/internal/extraction"
	"github.com/sergio/cotizador/internal/flow"
)

//go:embed defs/*.yaml rules/*.json
var builtin embed.FS

// QuoteMethod distinguishes how a provider's quote value is obtained.
type QuoteMethod string

const (
	// QuoteByPDF runs the browser flow and extracts values from the
	// downloaded PDF.
	QuoteByPDF QuoteMethod = "pdf"
	// QuoteByFormula computes the premium from the configured agreement
	// formula; no browser is involved.
	QuoteByFormula QuoteMethod = "formula"
)

// Provider is one supported insurer.
type Provider struct {
	ID                string
	DisplayName       string
	Method            QuoteMethod
	RequiresFasecolda bool
	RequiresMFA       bool
}

var registry = []Provider{
	{ID: "sura", DisplayName: "Sura", Method: QuoteByPDF, RequiresFasecolda: true, RequiresMFA: true},
	{ID: "allianz", DisplayName: "Allianz", Method: QuoteByPDF, RequiresFasecolda: true},
	{ID: "bolivar", DisplayName: "Bolívar", Method: QuoteByFormula},
	{ID: "solidaria", DisplayName: "Solidaria", Method: QuoteByFormula},
}

// All returns every registered provider.
func All() []Provider {
	out := make([]Provider, len(registry))
	copy(out, registry)
	return out
}

// IDs returns every registered provider id.
func IDs() []string {
	ids := make([]string, len(registry))
	for i, p := range registry {
		ids[i] = p.ID
	}
	return ids
}

// Get looks up a provider by id.
func Get(id string) (Provider, error) {
	for _, p := range registry {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("unknown provider %q (supported: %v)", id, IDs())
}

// LoadFlow returns a provider's flow definition. A file <id>.yaml in
// overridesDir takes precedence over the embedded default, so selector
// maintenance does not require a rebuild.
func LoadFlow(id string, overridesDir string) (*flow.Definition, error) {
	p, err := Get(id)
	if err != nil {
		return nil, err
	}
	if p.Method != QuoteByPDF {
		return nil, fmt.Errorf("provider %s is quoted by formula and has no flow", id)
	}

	data, err := readDefinition(id, overridesDir, id+".yaml", "defs")
	if err != nil {
		return nil, err
	}

	var def flow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse flow definition for %s: %w", id, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow definition for %s: %w", id, err)
	}
	if def.ProviderID != id {
		return nil, fmt.Errorf("flow definition declares provider %q, expected %q", def.ProviderID, id)
	}
	return &def, nil
}

// LoadRules returns a provider's extraction rule set, with the same override
// mechanism as LoadFlow.
func LoadRules(id string, overridesDir string) (*extraction.RuleSet, error) {
	p, err := Get(id)
	if err != nil {
		return nil, err
	}
	if p.Method != QuoteByPDF {
		return nil, fmt.Errorf("provider %s is quoted by formula and has no extraction rules", id)
	}

	data, err := readDefinition(id, overridesDir, id+".json", "rules")
	if err != nil {
		return nil, err
	}
	rules, err := extraction.LoadRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("rule set for %s: %w", id, err)
	}
	return rules, nil
}

func readDefinition(id, overridesDir, filename, embeddedDir string) ([]byte, error) {
	if overridesDir != "" {
		path := filepath.Join(overridesDir, filename)
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read override %s: %w", path, err)
		}
	}
	data, err := builtin.ReadFile(embeddedDir + "/" + filename)
	if err != nil {
		return nil, fmt.Errorf("no definition bundled for provider %s: %w", id, err)
	}
	return data, nil
}
