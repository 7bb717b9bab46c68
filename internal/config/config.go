package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/italolelis/tigge_retriever/internal/retriever"
)

// Config struct for environment variables.
type Config struct {
	DataDir string `envconfig:"DATA_DIR" required:"true"`

	// CredentialList is a comma separated list of key:identity pairs.
	CredentialList  string `envconfig:"CREDENTIALS"`
	CredentialsFile string `envconfig:"CREDENTIALS_FILE"`

	StartDate  retriever.Date            `envconfig:"START_DATE"`
	EndDate    retriever.Date            `envconfig:"END_DATE"`
	Force      bool                      `envconfig:"FORCE" default:"false"`
	ReducedSet bool                      `envconfig:"REDUCED_SET" default:"false"`
	Partition  retriever.PartitionPolicy `envconfig:"PARTITION" default:"round-robin"`

	// StalePartAge is how long an untouched partial download is left alone before
	// it is treated as abandoned.
	StalePartAge time.Duration `envconfig:"STALE_PART_AGE" default:"168h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string `envconfig:"DB_PATH"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Mars struct {
		URL             string        `default:"https://api.ecmwf.int/v1"`
		Area            string        `default:"14/-82/-57/-31"`
		RetryMax        int           `split_words:"true" default:"4"`
		Timeout         time.Duration `default:"1m"`
		PollInterval    time.Duration `split_words:"true" default:"30s"`
		MaxPollInterval time.Duration `split_words:"true" default:"5m"`
		StallTimeout    time.Duration `split_words:"true" default:"5m"`
	}

	Telemetry struct {
		Enabled      bool          `default:"false"`
		OTLPEndpoint string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval time.Duration `envconfig:"OTLP_INTERVAL" default:"30s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// credentialsFile is the YAML layout of CREDENTIALS_FILE.
type credentialsFile struct {
	Credentials []struct {
		Key      string `yaml:"key"`
		Identity string `yaml:"identity"`
	} `yaml:"credentials"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Credentials returns the credentials from CREDENTIALS followed by those in
// CREDENTIALS_FILE, in declaration order. A credential listed twice is kept once.
func (c *Config) Credentials() ([]retriever.Credential, error) {
	var creds []retriever.Credential

	for _, entry := range strings.Split(c.CredentialList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		key, identity, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(identity) == "" {
			return nil, fmt.Errorf("invalid credential %q: expected key:identity", redact(entry))
		}

		creds = append(creds, retriever.Credential{Key: strings.TrimSpace(key), Identity: strings.TrimSpace(identity)})
	}

	if c.CredentialsFile != "" {
		fromFile, err := readCredentialsFile(c.CredentialsFile)
		if err != nil {
			return nil, err
		}

		creds = append(creds, fromFile...)
	}

	return lo.Uniq(creds), nil
}

func readCredentialsFile(path string) ([]retriever.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var f credentialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	creds := make([]retriever.Credential, 0, len(f.Credentials))

	for i, entry := range f.Credentials {
		if entry.Key == "" || entry.Identity == "" {
			return nil, fmt.Errorf("credentials file %s: entry %d: %w", path, i, errIncompleteCredential)
		}

		creds = append(creds, retriever.Credential{Key: entry.Key, Identity: entry.Identity})
	}

	return creds, nil
}

var errIncompleteCredential = errors.New("both key and identity are required")

// redact keeps the identity half of a malformed entry so errors never print a key.
func redact(entry string) string {
	if _, identity, ok := strings.Cut(entry, ":"); ok {
		return "***:" + identity
	}

	return "***"
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
