package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sergio/cotizador/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent quote runs",
	Long:  "List the most recent quote runs recorded in the database, newest first.",
	RunE:  runHistory,
}

var (
	historyConfigPath string
	historyLimit      int
)

func init() {
	historyCmd.Flags().StringVarP(&historyConfigPath, "config", "c", "", "Path to JSON config file")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadSetup(historyConfigPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("no database configured, set DATABASE_URL or 'database_url' in the config file")
	}

	ctx := context.Background()
	db, err := history.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "No runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPLATE\tCLIENT\tSTATUS\tREPORT")
	for _, run := range runs {
		report := ""
		if run.ReportPath != nil {
			report = *run.ReportPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.StartedAt.Format("2006-01-02 15:04"), run.Plate, run.ClientName, run.Status, report)
	}
	return w.Flush()
}
