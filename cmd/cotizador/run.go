package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sergio/cotizador/internal/config"
	"github.com/sergio/cotizador/internal/consolidation"
	"github.com/sergio/cotizador/internal/fasecolda"
	"github.com/sergio/cotizador/internal/formulas"
	"github.com/sergio/cotizador/internal/history"
	"github.com/sergio/cotizador/internal/observability"
	"github.com/sergio/cotizador/internal/orchestrator"
	"github.com/sergio/cotizador/internal/providers"
	"github.com/sergio/cotizador/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Quote a vehicle across the selected providers",
	Long:  "Run the full quoting pipeline: resolve vehicle codes, execute each provider's portal flow or rate formula, extract the premiums and consolidate them into one spreadsheet report.",
	RunE:  runRun,
}

var (
	runConfigPath  string
	runRequestPath string
	runProviders   string
	runParallel    bool
	runHeadless    bool
	runVerbose     bool
)

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to JSON config file")
	runCmd.Flags().StringVarP(&runRequestPath, "request", "r", "", "Path to JSON quote request file (required)")
	runCmd.Flags().StringVarP(&runProviders, "providers", "p", "", "Comma-separated provider ids (default: all)")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "Run providers concurrently")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run browsers without a visible window")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed progress and extracted values")

	runCmd.MarkFlagRequired("request")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadSetup(runConfigPath)
	if err != nil {
		return err
	}
	mergeRunModeFlags(cmd, cfg)
	req, err := loadRequest(runRequestPath)
	if err != nil {
		return err
	}
	providerIDs, err := resolveProviders(runProviders)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if needsVehicleCodes(providerIDs) {
		resolver := fasecolda.New(cfg.FasecoldaURL, cfg.Headless, cfg.Verbose)
		codes, err := resolver.Resolve(ctx, req.Vehicle)
		if err != nil {
			log.Printf("warning: vehicle code lookup failed, portals requiring it may reject the quote: %v", err)
		} else {
			req.Vehicle.CFCode = codes.CF
			req.Vehicle.CHCode = codes.CH
		}
	}

	rates := formulas.Default()
	if cfg.FormulasPath != "" {
		rates, err = formulas.Load(cfg.FormulasPath)
		if err != nil {
			return err
		}
	}

	var hist *history.DB
	runID := uuid.Nil
	if cfg.DatabaseURL != "" {
		hist, err = history.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("warning: %v, continuing without database persistence", err)
			hist = nil
		} else {
			defer hist.Close()
			if err := hist.EnsureSchema(ctx); err != nil {
				log.Printf("warning: %v, continuing without database persistence", err)
				hist = nil
			}
		}
	}
	if hist != nil {
		if id, err := hist.CreateRun(ctx, req); err != nil {
			log.Printf("warning: failed to record run: %v", err)
			hist = nil
		} else {
			runID = id
		}
	}

	store := newSessionStore(cfg)
	o := orchestrator.New(orchestrator.Options{
		Engine:   newEngine(cfg, store),
		Sessions: store,
		Formulas: rates,
		Config:   cfg,
		Verbose:  cfg.Verbose,
	})

	mode := orchestrator.ModeSequential
	if runParallel {
		mode = orchestrator.ModeParallel
	}

	printer := observability.NewPrinter(os.Stdout)
	if cfg.Verbose {
		printer.PrintRequest(req)
	}

	report := o.Run(ctx, req, providerIDs, mode)

	if cfg.Verbose {
		printer.PrintOutcomes(report.Outcomes, providerIDs)
		printer.PrintQuotes(report.Results, providerIDs)
	} else {
		printOutcomes(report, providerIDs)
	}
	if hist != nil {
		for _, id := range providerIDs {
			if err := hist.SaveOutcome(ctx, runID, report.Outcomes[id], report.Results[id]); err != nil {
				log.Printf("warning: failed to record outcome for %s: %v", id, err)
			}
		}
	}

	consolidator := consolidation.New(cfg.ReportsDir, cfg.Verbose)
	reportPath, err := consolidator.Consolidate(req, report.Results, providerIDs)

	runStatus := types.StatusSucceeded
	var skipped *consolidation.SkippedError
	switch {
	case errors.As(err, &skipped):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		runStatus = types.StatusFailed
	case err != nil:
		if hist != nil {
			_ = hist.CompleteRun(ctx, runID, types.StatusFailed, "")
		}
		return err
	case cfg.Verbose:
		printer.PrintReport(reportPath)
	default:
		fmt.Fprintf(os.Stdout, "Report: %s\n", reportPath)
	}

	if hist != nil {
		if err := hist.CompleteRun(ctx, runID, runStatus, reportPath); err != nil {
			log.Printf("warning: failed to record run completion: %v", err)
		}
	}
	if runStatus == types.StatusFailed {
		return fmt.Errorf("no provider produced a usable quote")
	}
	return nil
}

// mergeRunModeFlags applies run-mode flags over the loaded config. A flag
// given on the command line wins over the config file value.
func mergeRunModeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("headless") {
		cfg.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
}

func needsVehicleCodes(providerIDs []string) bool {
	for _, id := range providerIDs {
		if p, err := providers.Get(id); err == nil && p.RequiresFasecolda {
			return true
		}
	}
	return false
}

func printOutcomes(report *orchestrator.Report, providerIDs []string) {
	for _, id := range providerIDs {
		outcome := report.Outcomes[id]
		switch {
		case outcome.Succeeded() && report.Results[id].Usable():
			fmt.Fprintf(os.Stdout, "  %-10s ok\n", id)
		case outcome.Succeeded():
			fmt.Fprintf(os.Stdout, "  %-10s ok (no values extracted)\n", id)
		case outcome.FailedStep != "":
			fmt.Fprintf(os.Stdout, "  %-10s %s at step %q: %v\n", id, outcome.Status, outcome.FailedStep, outcome.Err)
		default:
			fmt.Fprintf(os.Stdout, "  %-10s %s: %v\n", id, outcome.Status, outcome.Err)
		}
	}
}
