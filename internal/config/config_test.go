package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/tigge_retriever/internal/retriever"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DATA_DIR", "/data/tigge")
	t.Setenv("END_DATE", "2016-10-24")
	t.Setenv("PARTITION", "contiguous")
	t.Setenv("MARS_RETRY_MAX", "7")
	t.Setenv("MARS_POLL_INTERVAL", "10s")
	t.Setenv("MARS_MAX_POLL_INTERVAL", "2m")
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9100")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data/tigge", cfg.DataDir)
	assert.Equal(t, retriever.Date{Year: 2016, Month: time.October, Day: 24}, cfg.EndDate)
	assert.True(t, cfg.StartDate.IsZero())
	assert.Equal(t, retriever.Contiguous, cfg.Partition)
	assert.False(t, cfg.Force)

	assert.Equal(t, "https://api.ecmwf.int/v1", cfg.Mars.URL)
	assert.Equal(t, 7, cfg.Mars.RetryMax)
	assert.Equal(t, 10*time.Second, cfg.Mars.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Mars.MaxPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Mars.StallTimeout)
	assert.Equal(t, time.Minute, cfg.Mars.Timeout)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:9100", cfg.Web.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Web.ShutdownTimeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing data dir", map[string]string{}},
		{"malformed end date", map[string]string{"DATA_DIR": "/data", "END_DATE": "24/10/2016"}},
		{"unknown partition", map[string]string{"DATA_DIR": "/data", "PARTITION": "random"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATA_DIR", "")
			os.Unsetenv("DATA_DIR")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestCredentials(t *testing.T) {
	file := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
credentials:
  - key: k3
    identity: c@example.com
  - key: k1
    identity: a@example.com
`), 0o600))

	cfg := &Config{
		CredentialList:  " k1:a@example.com , k2:b@example.com,",
		CredentialsFile: file,
	}

	creds, err := cfg.Credentials()
	require.NoError(t, err)

	assert.Equal(t, []retriever.Credential{
		{Key: "k1", Identity: "a@example.com"},
		{Key: "k2", Identity: "b@example.com"},
		{Key: "k3", Identity: "c@example.com"},
	}, creds)
}

func TestCredentials_Errors(t *testing.T) {
	dir := t.TempDir()

	incomplete := filepath.Join(dir, "incomplete.yaml")
	require.NoError(t, os.WriteFile(incomplete, []byte("credentials:\n  - key: k1\n"), 0o600))

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("credentials: [\n"), 0o600))

	tests := []struct {
		name    string
		cfg     Config
		wantMsg string
	}{
		{"missing separator", Config{CredentialList: "secretkey"}, `invalid credential "***"`},
		{"empty identity", Config{CredentialList: "secretkey:"}, `invalid credential "***:"`},
		{"missing file", Config{CredentialsFile: filepath.Join(dir, "nope.yaml")}, "failed to read credentials file"},
		{"incomplete entry", Config{CredentialsFile: incomplete}, "both key and identity are required"},
		{"malformed yaml", Config{CredentialsFile: broken}, "failed to parse credentials file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Credentials()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.NotContains(t, err.Error(), "secretkey", "keys never leak into errors")
		})
	}
}

func TestCredentials_None(t *testing.T) {
	creds, err := (&Config{}).Credentials()
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, (&Config{LogLevel: in}).SlogLevel(), in)
	}
}
