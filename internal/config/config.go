package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/budget-client/internal/state"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the budget client.
type Config struct {
	// Base URL of the budget API. Request paths such as
	// /api/oauth2/token/ are appended to it.
	APIURL string `env:"BUDGET_API_URL" envDefault:"http://localhost:8000"`

	// Optional credentials for non-interactive login. When either is
	// empty the CLI prompts.
	Email    string `env:"BUDGET_EMAIL"`
	Password string `env:"BUDGET_PASSWORD"`

	// Remember selects durable credential persistence at login.
	Remember bool `env:"BUDGET_REMEMBER" envDefault:"false"`

	// Path to the bbolt database holding remembered credentials.
	// Defaults to ~/.budget-client/state.db.
	StatePath string `env:"BUDGET_STATE_PATH"`

	HTTPTimeout time.Duration `env:"BUDGET_HTTP_TIMEOUT" envDefault:"30s"`

	// Output format for command results: json or yaml.
	Output string `env:"BUDGET_OUTPUT" envDefault:"json"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. It may hold BUDGET_PASSWORD.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.Output = strings.ToLower(cfg.Output)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("BUDGET_API_URL is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("BUDGET_API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("BUDGET_HTTP_TIMEOUT must be positive")
	}

	switch c.Output {
	case "json", "yaml":
	default:
		return fmt.Errorf("BUDGET_OUTPUT must be json or yaml, got %q", c.Output)
	}

	return nil
}

// HasCredentials reports whether both email and password are configured.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
