// Package main provides the entry point for the insurance quote CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cotizador",
	Short: "Multi-provider vehicle insurance quoting",
	Long:  "Cotizador runs vehicle insurance quotes across Colombian insurers, extracts the premiums from each portal's quote document and consolidates them into one spreadsheet report.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
