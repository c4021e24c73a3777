// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sergio/cotizador/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxPlansToShow is the default number of plan rows to display per provider
	maxPlansToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRequest outputs a human-readable summary of the quote request.
func (p *Printer) PrintRequest(req *types.QuoteRequest) {
	if req == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Plate:    %s\n", req.Vehicle.Plate))
	sb.WriteString(fmt.Sprintf("Vehicle:  %s\n", req.Vehicle.FullReference))
	sb.WriteString(fmt.Sprintf("Model:    %s (%s)\n", req.Vehicle.ModelYear, req.Vehicle.State))
	if req.Vehicle.CFCode != "" {
		sb.WriteString(fmt.Sprintf("CF code:  %s\n", req.Vehicle.CFCode))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Client:   %s\n", req.ClientFullName()))
	sb.WriteString(fmt.Sprintf("Document: %s %s\n", req.Client.DocumentType, req.Client.DocumentNumber))
	sb.WriteString(fmt.Sprintf("Location: %s, %s", req.Client.City, req.Client.Department))

	p.printBox("QUOTE REQUEST", sb.String())
}

// PrintOutcomes outputs the terminal status of every provider flow.
func (p *Printer) PrintOutcomes(outcomes map[string]types.Outcome, providerOrder []string) {
	if len(outcomes) == 0 {
		return
	}
	order := providerOrder
	if len(order) == 0 {
		for id := range outcomes {
			order = append(order, id)
		}
		sort.Strings(order)
	}

	var sb strings.Builder
	for i, id := range order {
		outcome := outcomes[id]
		switch {
		case outcome.Succeeded():
			sb.WriteString(fmt.Sprintf("✓ %s\n", id))
			if outcome.ArtifactPath != "" {
				sb.WriteString(fmt.Sprintf("  %s\n", outcome.ArtifactPath))
			}
		case outcome.Status == types.StatusCancelled:
			sb.WriteString(fmt.Sprintf("– %s cancelled\n", id))
		default:
			sb.WriteString(fmt.Sprintf("✗ %s failed", id))
			if outcome.FailedStep != "" {
				sb.WriteString(fmt.Sprintf(" at %q", outcome.FailedStep))
			}
			sb.WriteString("\n")
			if outcome.Err != nil {
				sb.WriteString(fmt.Sprintf("  %v\n", outcome.Err))
			}
		}
		if i < len(order)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("PROVIDER OUTCOMES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintQuotes outputs the extracted premium values per provider.
func (p *Printer) PrintQuotes(results map[string]*types.QuoteResult, providerOrder []string) {
	usable := 0
	for _, result := range results {
		if result.Usable() {
			usable++
		}
	}
	if usable == 0 {
		return
	}

	var sb strings.Builder
	first := true
	for _, id := range providerOrder {
		result := results[id]
		if !result.Usable() {
			continue
		}
		if !first {
			sb.WriteString("\n")
		}
		first = false

		sb.WriteString(fmt.Sprintf("%s:\n", id))
		plans := result.OrderedPlans()
		count := len(plans)
		if count > maxPlansToShow {
			count = maxPlansToShow
		}
		for i := 0; i < count; i++ {
			value := result.Plans[plans[i]]
			if value != types.NotFound && value != "" {
				value = "$" + value
			}
			sb.WriteString(fmt.Sprintf("  %-28s %s\n", plans[i], value))
		}
		if len(plans) > maxPlansToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more plans\n", len(plans)-maxPlansToShow))
		}
	}

	p.printBox("EXTRACTED QUOTES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReport outputs the consolidated report location.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintReport(path string) {
	if path == "" {
		return
	}
	line := "Report: " + path
	if len(line) > boxWidth-4 {
		line = line[:boxWidth-7] + "..."
	}
	fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
}
