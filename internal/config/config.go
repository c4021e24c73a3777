// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default values applied when neither the config file nor the environment
// provides one.
const (
	DefaultSessionValidityDays = 8
	DefaultStepTimeout         = 30 * time.Second
	DefaultStepAttempts        = 3
	DefaultVerificationWait    = 10 * time.Minute
)

// Credentials holds the portal login for one insurer.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// DocumentType is the advisor document type some portals ask for at
	// login, e.g. "C" for cédula.
	DocumentType string `json:"document_type,omitempty"`
}

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via
// CLI flags or environment variables.
type Config struct {
	// Directories
	DownloadsDir string `json:"downloads_dir,omitempty"` // Per-provider PDFs land under <DownloadsDir>/<provider>
	ReportsDir   string `json:"reports_dir,omitempty"`   // Consolidated xlsx reports
	ProfilesDir  string `json:"profiles_dir,omitempty"`  // Persistent browser profiles, one per provider
	FlowsDir     string `json:"flows_dir,omitempty"`     // Optional overrides for embedded flow definitions

	// Behavior
	Headless             bool `json:"headless,omitempty"`
	Verbose              bool `json:"verbose,omitempty"`
	SessionValidityDays  int  `json:"session_validity_days,omitempty"`
	StepTimeoutSeconds   int  `json:"step_timeout_seconds,omitempty"`
	StepAttempts         int  `json:"step_attempts,omitempty"`
	VerificationWaitMins int  `json:"verification_wait_minutes,omitempty"`

	// Per-provider credentials, keyed by provider id (sura, allianz, ...).
	Credentials map[string]Credentials `json:"credentials,omitempty"`

	// Formula/rate tables for providers quoted by calculation instead of PDF.
	FormulasPath string `json:"formulas_path,omitempty"`

	// PostgreSQL connection URL for optional run-history persistence.
	DatabaseURL string `json:"database_url,omitempty"`

	// Fasecolda guide URL; overridable mainly for tests.
	FasecoldaURL string `json:"fasecolda_url,omitempty"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv fills credential and connection fields from environment variables:
// <PROVIDER>_USERNAME / <PROVIDER>_PASSWORD / <PROVIDER>_DOCUMENT_TYPE per
// provider, plus DATABASE_URL. Values already present in the config are kept.
func (c *Config) FromEnv(providerIDs []string) {
	if c.Credentials == nil {
		c.Credentials = make(map[string]Credentials)
	}
	for _, id := range providerIDs {
		creds := c.Credentials[id]
		prefix := strings.ToUpper(id)
		if creds.Username == "" {
			creds.Username = os.Getenv(prefix + "_USERNAME")
		}
		if creds.Password == "" {
			creds.Password = os.Getenv(prefix + "_PASSWORD")
		}
		if creds.DocumentType == "" {
			creds.DocumentType = os.Getenv(prefix + "_DOCUMENT_TYPE")
		}
		c.Credentials[id] = creds
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.SessionValidityDays < 0 {
		return fmt.Errorf("config error: 'session_validity_days' must be non-negative")
	}
	if c.StepAttempts < 0 {
		return fmt.Errorf("config error: 'step_attempts' must be non-negative")
	}
	if c.StepTimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'step_timeout_seconds' must be non-negative")
	}
	if c.FormulasPath != "" {
		if _, err := os.Stat(c.FormulasPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: formulas file not found: %s", c.FormulasPath)
		}
	}
	if c.FlowsDir != "" {
		if _, err := os.Stat(c.FlowsDir); os.IsNotExist(err) {
			return fmt.Errorf("config error: flows directory not found: %s", c.FlowsDir)
		}
	}
	return nil
}

// ApplyDefaults fills zero-valued fields with the package defaults. Directory
// fields default to subdirectories of the current working directory.
func (c *Config) ApplyDefaults() {
	if c.DownloadsDir == "" {
		c.DownloadsDir = "downloads"
	}
	if c.ReportsDir == "" {
		c.ReportsDir = "Consolidados"
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = "browser_profiles"
	}
	if c.SessionValidityDays == 0 {
		c.SessionValidityDays = DefaultSessionValidityDays
	}
	if c.StepAttempts == 0 {
		c.StepAttempts = DefaultStepAttempts
	}
	if c.StepTimeoutSeconds == 0 {
		c.StepTimeoutSeconds = int(DefaultStepTimeout / time.Second)
	}
	if c.VerificationWaitMins == 0 {
		c.VerificationWaitMins = int(DefaultVerificationWait / time.Minute)
	}
	if c.FasecoldaURL == "" {
		c.FasecoldaURL = "https://www.fasecolda.com/guia-de-valores-old/"
	}
}

// SessionValidity returns the configured session validity window.
func (c *Config) SessionValidity() time.Duration {
	return time.Duration(c.SessionValidityDays) * 24 * time.Hour
}

// StepTimeout returns the configured default per-step timeout.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// VerificationWait returns the configured MFA wait window.
func (c *Config) VerificationWait() time.Duration {
	return time.Duration(c.VerificationWaitMins) * time.Minute
}

// ProviderCredentials returns the credentials configured for a provider.
func (c *Config) ProviderCredentials(id string) Credentials {
	return c.Credentials[id]
}
