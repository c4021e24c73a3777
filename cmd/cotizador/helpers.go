package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sergio/cotizador/internal/config"
	"github.com/sergio/cotizador/internal/flow"
	"github.com/sergio/cotizador/internal/providers"
	"github.com/sergio/cotizador/internal/session"
	"github.com/sergio/cotizador/internal/types"
)

// loadSetup builds the effective configuration: file values first, then
// environment variables, then defaults.
func loadSetup(configPath string) (*config.Config, error) {
	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.FromEnv(providers.IDs())
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRequest reads and validates a quote request from a JSON file.
func loadRequest(path string) (*types.QuoteRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	var req types.QuoteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request file: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// resolveProviders parses the --providers flag value, defaulting to every
// registered provider.
func resolveProviders(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return providers.IDs(), nil
	}
	var ids []string
	for _, raw := range strings.Split(value, ",") {
		id := strings.TrimSpace(strings.ToLower(raw))
		if id == "" {
			continue
		}
		if _, err := providers.Get(id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no providers selected")
	}
	return ids, nil
}

// newSessionStore creates the session store from configuration.
func newSessionStore(cfg *config.Config) *session.Store {
	return session.NewStore(cfg.ProfilesDir, cfg.SessionValidity())
}

// newEngine wires the flow engine from configuration, prompting for
// verification codes on the terminal.
func newEngine(cfg *config.Config, store *session.Store) *flow.Engine {
	return flow.New(flow.Options{
		Headless:         cfg.Headless,
		Verbose:          cfg.Verbose,
		DownloadsDir:     cfg.DownloadsDir,
		DefaultTimeout:   cfg.StepTimeout(),
		DefaultAttempts:  cfg.StepAttempts,
		VerificationWait: cfg.VerificationWait(),
		Prompt:           stdinPrompt,
		Sessions:         store,
	})
}

// stdinPrompt asks the operator for a verification code on the terminal. It
// returns early when the context ends before a code is typed.
func stdinPrompt(ctx context.Context, providerID string) (string, error) {
	fmt.Fprintf(os.Stderr, "\n[%s] verification code required. Enter code: ", providerID)

	type lineResult struct {
		text string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		text, err := reader.ReadString('\n')
		ch <- lineResult{text: strings.TrimSpace(text), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("failed to read verification code: %w", res.err)
		}
		if res.text == "" {
			return "", fmt.Errorf("empty verification code")
		}
		return res.text, nil
	}
}
