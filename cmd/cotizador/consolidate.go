package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergio/cotizador/internal/consolidation"
	"github.com/sergio/cotizador/internal/extraction"
	"github.com/sergio/cotizador/internal/providers"
	"github.com/sergio/cotizador/internal/types"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Re-run extraction and consolidation over already downloaded documents",
	Long:  "Extract premiums from previously downloaded quote documents and build the consolidated report without touching any portal.",
	RunE:  runConsolidate,
}

var (
	consolidateConfigPath  string
	consolidateRequestPath string
	consolidateDocs        []string
)

func init() {
	consolidateCmd.Flags().StringVarP(&consolidateConfigPath, "config", "c", "", "Path to JSON config file")
	consolidateCmd.Flags().StringVarP(&consolidateRequestPath, "request", "r", "", "Path to JSON quote request file (required)")
	consolidateCmd.Flags().StringArrayVarP(&consolidateDocs, "doc", "d", nil, "provider=path pair for a downloaded quote document (repeatable, required)")

	consolidateCmd.MarkFlagRequired("request")
	consolidateCmd.MarkFlagRequired("doc")

	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadSetup(consolidateConfigPath)
	if err != nil {
		return err
	}
	req, err := loadRequest(consolidateRequestPath)
	if err != nil {
		return err
	}

	results := make(map[string]*types.QuoteResult)
	var order []string
	for _, pair := range consolidateDocs {
		id, path, err := splitDocPair(pair)
		if err != nil {
			return err
		}
		rules, err := providers.LoadRules(id, cfg.FlowsDir)
		if err != nil {
			return err
		}
		result, err := extraction.Extract(rules, path)
		if err != nil {
			return err
		}
		results[id] = result
		order = append(order, id)
	}

	consolidator := consolidation.New(cfg.ReportsDir, cfg.Verbose)
	reportPath, err := consolidator.Consolidate(req, results, order)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Report: %s\n", reportPath)
	return nil
}

func splitDocPair(pair string) (string, string, error) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			if i == 0 || i == len(pair)-1 {
				break
			}
			return pair[:i], pair[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid --doc value %q, expected provider=path", pair)
}
