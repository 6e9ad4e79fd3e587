// Package config loads process settings from environment variables and the
// per-repository bridge settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken  string
	PollInterval time.Duration
	ListenAddr   string
	DBPath       string
	BridgeFile   string
	Workers      int
	ScratchDir   string
	SMTPPassword string // Overrides smtp.password from the bridge file when set.
	SlackWebhook string // Overrides slack.webhook from the bridge file when set.
}

// Load reads configuration from environment variables and returns a validated Config.
// MLBRIDGE_GITHUB_TOKEN is required.
// Optional variables with defaults: MLBRIDGE_POLL_INTERVAL (2m),
// MLBRIDGE_LISTEN_ADDR (127.0.0.1:8080), MLBRIDGE_DB_PATH (mlbridge.db),
// MLBRIDGE_BRIDGE_CONFIG (mlbridge.yaml), MLBRIDGE_WORKERS (4),
// MLBRIDGE_SCRATCH_DIR (<tmp>/mlbridge).
func Load() (*Config, error) {
	token := os.Getenv("MLBRIDGE_GITHUB_TOKEN")
	if token == "" {
		return nil, errors.New("MLBRIDGE_GITHUB_TOKEN is required")
	}

	pollInterval := 2 * time.Minute
	if v, ok := os.LookupEnv("MLBRIDGE_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MLBRIDGE_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("MLBRIDGE_POLL_INTERVAL must be positive, got %s", parsed)
		}
		pollInterval = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("MLBRIDGE_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "mlbridge.db"
	if v, ok := os.LookupEnv("MLBRIDGE_DB_PATH"); ok {
		dbPath = v
	}

	bridgeFile := "mlbridge.yaml"
	if v, ok := os.LookupEnv("MLBRIDGE_BRIDGE_CONFIG"); ok {
		bridgeFile = v
	}

	workers := 4
	if v, ok := os.LookupEnv("MLBRIDGE_WORKERS"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MLBRIDGE_WORKERS has invalid integer %q: %w", v, err)
		}
		if parsed < 1 {
			return nil, fmt.Errorf("MLBRIDGE_WORKERS must be at least 1, got %d", parsed)
		}
		workers = parsed
	}

	scratchDir := filepath.Join(os.TempDir(), "mlbridge")
	if v, ok := os.LookupEnv("MLBRIDGE_SCRATCH_DIR"); ok && v != "" {
		scratchDir = v
	}

	return &Config{
		GitHubToken:  token,
		PollInterval: pollInterval,
		ListenAddr:   listenAddr,
		DBPath:       dbPath,
		BridgeFile:   bridgeFile,
		Workers:      workers,
		ScratchDir:   scratchDir,
		SMTPPassword: os.Getenv("MLBRIDGE_SMTP_PASSWORD"),
		SlackWebhook: os.Getenv("MLBRIDGE_SLACK_WEBHOOK"),
	}, nil
}
