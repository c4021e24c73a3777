package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sergio/cotizador/internal/flow"
	"github.com/sergio/cotizador/internal/orchestrator"
	"github.com/sergio/cotizador/internal/providers"
	"github.com/sergio/cotizador/internal/types"
)

var loginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Warm up a provider session ahead of quoting",
	Long:  "Execute only the login steps of a provider's flow, completing any verification challenge, so later quote runs reuse the stored session.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var loginConfigPath string

func init() {
	loginCmd.Flags().StringVarP(&loginConfigPath, "config", "c", "", "Path to JSON config file")

	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	id := args[0]
	provider, err := providers.Get(id)
	if err != nil {
		return err
	}
	if provider.Method != providers.QuoteByPDF {
		return fmt.Errorf("provider %s has no portal login", id)
	}

	cfg, err := loadSetup(loginConfigPath)
	if err != nil {
		return err
	}

	def, err := providers.LoadFlow(id, cfg.FlowsDir)
	if err != nil {
		return err
	}
	loginOnly := loginSteps(def)
	if len(loginOnly.Steps) == 0 {
		return fmt.Errorf("provider %s has no login steps", id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := newSessionStore(cfg)
	if err := store.Acquire(ctx, id); err != nil {
		return err
	}
	defer store.Release(id)

	sess, err := store.Ensure(id)
	if err != nil {
		return err
	}

	creds := cfg.ProviderCredentials(id)
	data := orchestrator.BuildStepData(&types.QuoteRequest{}, creds, id)

	engine := newEngine(cfg, store)
	outcome := engine.ExecuteSteps(ctx, loginOnly, sess, data)
	if !outcome.Succeeded() {
		return fmt.Errorf("login failed: %w", outcome.Err)
	}
	if err := store.Refresh(id); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Session for %s stored, valid for %s\n", id, cfg.SessionValidity())
	return nil
}

// loginSteps reduces a flow definition to its login-marked steps.
func loginSteps(def *flow.Definition) *flow.Definition {
	out := &flow.Definition{ProviderID: def.ProviderID}
	for _, step := range def.Steps {
		if step.Login {
			out.Steps = append(out.Steps, step)
		}
	}
	return out
}
