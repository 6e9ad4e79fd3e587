package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every MLBRIDGE_ env var that Load() reads.
var allConfigKeys = []string{
	"MLBRIDGE_GITHUB_TOKEN",
	"MLBRIDGE_POLL_INTERVAL",
	"MLBRIDGE_LISTEN_ADDR",
	"MLBRIDGE_DB_PATH",
	"MLBRIDGE_BRIDGE_CONFIG",
	"MLBRIDGE_WORKERS",
	"MLBRIDGE_SCRATCH_DIR",
	"MLBRIDGE_SMTP_PASSWORD",
	"MLBRIDGE_SLACK_WEBHOOK",
}

// isolateConfigEnv saves and unsets all MLBRIDGE_ env vars so tests don't
// inherit values from the host environment (e.g. a running bridge).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("MLBRIDGE_GITHUB_TOKEN", "ghp_test123")
	t.Setenv("MLBRIDGE_POLL_INTERVAL", "10m")
	t.Setenv("MLBRIDGE_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("MLBRIDGE_DB_PATH", "/tmp/test.db")
	t.Setenv("MLBRIDGE_BRIDGE_CONFIG", "/etc/mlbridge/bridge.yaml")
	t.Setenv("MLBRIDGE_WORKERS", "8")
	t.Setenv("MLBRIDGE_SCRATCH_DIR", "/var/lib/mlbridge")
	t.Setenv("MLBRIDGE_SMTP_PASSWORD", "secret")
	t.Setenv("MLBRIDGE_SLACK_WEBHOOK", "https://hooks.slack.com/services/x")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, &Config{
		GitHubToken:  "ghp_test123",
		PollInterval: 10 * time.Minute,
		ListenAddr:   "0.0.0.0:9090",
		DBPath:       "/tmp/test.db",
		BridgeFile:   "/etc/mlbridge/bridge.yaml",
		Workers:      8,
		ScratchDir:   "/var/lib/mlbridge",
		SMTPPassword: "secret",
		SlackWebhook: "https://hooks.slack.com/services/x",
	}, cfg)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("MLBRIDGE_GITHUB_TOKEN", "ghp_test123")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "mlbridge.db", cfg.DBPath)
	assert.Equal(t, "mlbridge.yaml", cfg.BridgeFile)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, filepath.Join(os.TempDir(), "mlbridge"), cfg.ScratchDir)
	assert.Empty(t, cfg.SMTPPassword)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{}},
		{"invalid interval", map[string]string{"MLBRIDGE_GITHUB_TOKEN": "t", "MLBRIDGE_POLL_INTERVAL": "soon"}},
		{"negative interval", map[string]string{"MLBRIDGE_GITHUB_TOKEN": "t", "MLBRIDGE_POLL_INTERVAL": "-1m"}},
		{"invalid workers", map[string]string{"MLBRIDGE_GITHUB_TOKEN": "t", "MLBRIDGE_WORKERS": "many"}},
		{"zero workers", map[string]string{"MLBRIDGE_GITHUB_TOKEN": "t", "MLBRIDGE_WORKERS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
