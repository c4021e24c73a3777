package extraction

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/sergio/cotizador/internal/types"
)

// ReadError represents a PDF that could not be opened or rendered to text.
type ReadError struct {
	Path  string
	Cause error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read PDF %s: %v", e.Path, e.Cause)
}

func (e *ReadError) Unwrap() error {
	return e.Cause
}

// Extract parses a provider's downloaded PDF into a QuoteResult. Fields whose
// anchor cannot be located are marked not-found; only an unreadable artifact
// is an error.
func Extract(rules *RuleSet, pdfPath string) (*types.QuoteResult, error) {
	text, err := readPDFText(pdfPath)
	if err != nil {
		return nil, &ReadError{Path: pdfPath, Cause: err}
	}
	result := Apply(rules, text)
	result.SourcePath = pdfPath
	return result, nil
}

// Apply runs the rule set over already-extracted text. Split from Extract so
// rule sets can be regression-tested against captured text fixtures.
func Apply(rules *RuleSet, text string) *types.QuoteResult {
	if !rules.compiled {
		// Rule sets built in code (tests, defaults) may skip LoadRuleSet.
		if err := rules.compile(); err != nil {
			panic(fmt.Sprintf("uncompilable rule set %s: %v", rules.ProviderID, err))
		}
	}

	result := &types.QuoteResult{
		ProviderID: rules.ProviderID,
		Plans:      make(map[string]string),
		PlanOrder:  rules.PlanNames(),
	}
	for _, name := range result.PlanOrder {
		result.Plans[name] = types.NotFound
	}

	// The full table row is preferred; individual anchors fill whatever the
	// table pass left unresolved.
	if rules.Table != nil {
		applyTable(rules, text, result)
	}
	for _, field := range rules.Fields {
		if v, ok := result.Plans[field.Plan]; ok && v != types.NotFound {
			continue
		}
		applyField(rules, field, text, result)
	}
	return result
}

func applyTable(rules *RuleSet, text string, result *types.QuoteResult) {
	for _, re := range rules.tableRe {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for i, plan := range rules.Table.Plans {
			if normalized := NormalizeAmount(m[i+1]); normalized != "" {
				result.Plans[plan] = normalized
			}
		}
		return
	}
}

func applyField(rules *RuleSet, field FieldRule, text string, result *types.QuoteResult) {
	for _, re := range rules.fieldRe[field.Plan] {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if normalized := NormalizeAmount(m[1]); normalized != "" {
				result.Plans[field.Plan] = normalized
				return
			}
		}
	}
}

func readPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	content, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(content); err != nil {
		return "", err
	}
	return buf.String(), nil
}
