package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sergio/cotizador/internal/fasecolda"
	"github.com/sergio/cotizador/internal/types"
)

var fasecoldaCmd = &cobra.Command{
	Use:   "fasecolda",
	Short: "Look up a vehicle's Fasecolda codes",
	Long:  "Search the public vehicle value guide for the CF and CH codes matching a vehicle reference.",
	RunE:  runFasecolda,
}

var (
	fasecoldaConfigPath string
	fasecoldaCategory   string
	fasecoldaState      string
	fasecoldaModelYear  string
	fasecoldaBrand      string
	fasecoldaReference  string
	fasecoldaFullRef    string
)

func init() {
	fasecoldaCmd.Flags().StringVarP(&fasecoldaConfigPath, "config", "c", "", "Path to JSON config file")
	fasecoldaCmd.Flags().StringVar(&fasecoldaCategory, "category", "", "Vehicle category (required)")
	fasecoldaCmd.Flags().StringVar(&fasecoldaState, "state", "", "Vehicle state, new or used (required)")
	fasecoldaCmd.Flags().StringVar(&fasecoldaModelYear, "model-year", "", "Model year (required)")
	fasecoldaCmd.Flags().StringVar(&fasecoldaBrand, "brand", "", "Vehicle brand (required)")
	fasecoldaCmd.Flags().StringVar(&fasecoldaReference, "reference", "", "Short reference used in the guide search (required)")
	fasecoldaCmd.Flags().StringVar(&fasecoldaFullRef, "full-reference", "", "Full reference used to score candidates")

	fasecoldaCmd.MarkFlagRequired("category")
	fasecoldaCmd.MarkFlagRequired("state")
	fasecoldaCmd.MarkFlagRequired("model-year")
	fasecoldaCmd.MarkFlagRequired("brand")
	fasecoldaCmd.MarkFlagRequired("reference")

	rootCmd.AddCommand(fasecoldaCmd)
}

func runFasecolda(cmd *cobra.Command, args []string) error {
	cfg, err := loadSetup(fasecoldaConfigPath)
	if err != nil {
		return err
	}

	fullRef := fasecoldaFullRef
	if fullRef == "" {
		fullRef = fasecoldaBrand + " " + fasecoldaReference
	}
	vehicle := types.Vehicle{
		Category:      fasecoldaCategory,
		State:         fasecoldaState,
		ModelYear:     fasecoldaModelYear,
		Brand:         fasecoldaBrand,
		Reference:     fasecoldaReference,
		FullReference: fullRef,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := fasecolda.New(cfg.FasecoldaURL, cfg.Headless, cfg.Verbose)
	codes, err := resolver.Resolve(ctx, vehicle)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "CF: %s\n", codes.CF)
	if codes.CH != "" {
		fmt.Fprintf(os.Stdout, "CH: %s\n", codes.CH)
	}
	return nil
}
