package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/migadu/sieveedit/helpers"
)

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Output    string `toml:"output"`     // "stderr", "stdout", "syslog", or a file path
	Format    string `toml:"format"`     // "json" or "console"
	Level     string `toml:"level"`      // "debug", "info", "warn", "error"
	SyslogTag string `toml:"syslog_tag"` // tag used for syslog output (default: "sieveedit")
}

// SieveConfig limits which scripts are accepted.
type SieveConfig struct {
	SupportedExtensions []string `toml:"supported_extensions"` // extensions scripts may require
	MaxScriptSize       string   `toml:"max_script_size"`      // e.g. "64kb"
}

// GetMaxScriptSize parses the maximum script size.
func (s *SieveConfig) GetMaxScriptSize() (int64, error) {
	if s.MaxScriptSize == "" {
		return 64 * 1024, nil
	}
	return helpers.ParseSize(s.MaxScriptSize)
}

// ManageSieveConfig holds the connection settings of the remote server.
type ManageSieveConfig struct {
	Addr               string `toml:"addr"`                 // host:port, usually port 4190
	TLS                bool   `toml:"tls"`                  // implicit TLS
	StartTLS           bool   `toml:"starttls"`             // upgrade with STARTTLS after the greeting
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"` // skip certificate verification
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	ConnectTimeout     string `toml:"connect_timeout"` // default: "10s"
	CommandTimeout     string `toml:"command_timeout"` // default: "30s"
	MaxRetries         int    `toml:"max_retries"`     // reconnects after a failed dial (default: 3)
	RetryInterval      string `toml:"retry_interval"`  // initial backoff (default: "500ms")
	Debug              bool   `toml:"debug"`           // log protocol lines, credentials masked
}

func (m *ManageSieveConfig) GetConnectTimeout() (time.Duration, error) {
	if m.ConnectTimeout == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(m.ConnectTimeout)
}

func (m *ManageSieveConfig) GetCommandTimeout() (time.Duration, error) {
	if m.CommandTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(m.CommandTimeout)
}

func (m *ManageSieveConfig) GetRetryInterval() (time.Duration, error) {
	if m.RetryInterval == "" {
		return 500 * time.Millisecond, nil
	}
	return helpers.ParseDuration(m.RetryInterval)
}

// Store types.
const (
	StoreManageSieve = "managesieve"
	StoreSQLite      = "sqlite"
	StorePostgres    = "postgres"
)

// StoreConfig selects where scripts live.
type StoreConfig struct {
	Type            string `toml:"type"`             // "managesieve", "sqlite" or "postgres"
	SQLitePath      string `toml:"sqlite_path"`      // database file for the sqlite store
	PostgresDSN     string `toml:"postgres_dsn"`     // connection string for the postgres store
	AccountID       int64  `toml:"account_id"`       // account whose scripts the postgres store edits
	RefreshSchedule string `toml:"refresh_schedule"` // cron spec for reloading the script list, e.g. "@every 5m"
	KeepRevisions   int    `toml:"keep_revisions"`   // sqlite only: previous versions kept per script
}

// APIConfig configures the HTTP editing API.
type APIConfig struct {
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`       // plain key or bcrypt hash ("$2a$...")
	AllowedHosts []string `toml:"allowed_hosts"` // client IPs or CIDRs; empty allows all
	ReadTimeout  string   `toml:"read_timeout"`
	WriteTimeout string   `toml:"write_timeout"`
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

func (a *APIConfig) GetReadTimeout() (time.Duration, error) {
	if a.ReadTimeout == "" {
		return 15 * time.Second, nil
	}
	return helpers.ParseDuration(a.ReadTimeout)
}

func (a *APIConfig) GetWriteTimeout() (time.Duration, error) {
	if a.WriteTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(a.WriteTimeout)
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// Config is the complete sieveedit configuration.
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`
	Sieve       SieveConfig       `toml:"sieve"`
	ManageSieve ManageSieveConfig `toml:"managesieve"`
	Store       StoreConfig       `toml:"store"`
	API         APIConfig         `toml:"api"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Sieve: SieveConfig{
			SupportedExtensions: []string{"fileinto", "vacation", "envelope", "imap4flags", "variables", "relational", "copy", "regex"},
			MaxScriptSize:       "64kb",
		},
		ManageSieve: ManageSieveConfig{
			Addr:           "localhost:4190",
			StartTLS:       true,
			ConnectTimeout: "10s",
			CommandTimeout: "30s",
			MaxRetries:     3,
			RetryInterval:  "500ms",
		},
		Store: StoreConfig{
			Type:          StoreManageSieve,
			SQLitePath:    "sieveedit.db",
			KeepRevisions: 10,
		},
		API: APIConfig{
			Addr:         "127.0.0.1:8090",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			Path:    "/metrics",
		},
	}
}

// LoadConfig reads path on top of the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFromFile decodes a TOML file into cfg. Unknown keys are reported
// as warnings, not errors.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreManageSieve:
		if c.ManageSieve.Addr == "" {
			return fmt.Errorf("managesieve.addr is required for store type %q", c.Store.Type)
		}
		if c.ManageSieve.TLS && c.ManageSieve.StartTLS {
			return fmt.Errorf("managesieve.tls and managesieve.starttls are mutually exclusive")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for store type %q", c.Store.Type)
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for store type %q", c.Store.Type)
		}
		if c.Store.AccountID <= 0 {
			return fmt.Errorf("store.account_id must be positive for store type %q", c.Store.Type)
		}
	default:
		return fmt.Errorf("unknown store.type %q (expected %s, %s or %s)", c.Store.Type, StoreManageSieve, StoreSQLite, StorePostgres)
	}

	if _, err := c.Sieve.GetMaxScriptSize(); err != nil {
		return fmt.Errorf("sieve.max_script_size: %w", err)
	}
	for name, get := range map[string]func() (time.Duration, error){
		"managesieve.connect_timeout": c.ManageSieve.GetConnectTimeout,
		"managesieve.command_timeout": c.ManageSieve.GetCommandTimeout,
		"managesieve.retry_interval":  c.ManageSieve.GetRetryInterval,
		"api.read_timeout":            c.API.GetReadTimeout,
		"api.write_timeout":           c.API.GetWriteTimeout,
	} {
		if _, err := get(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.API.TLS && (c.API.TLSCertFile == "" || c.API.TLSKeyFile == "") {
		return fmt.Errorf("api.tls_cert_file and api.tls_key_file are required when api.tls is enabled")
	}
	if c.Store.KeepRevisions < 0 {
		return fmt.Errorf("store.keep_revisions must not be negative")
	}
	return nil
}

// enhanceConfigError adds hints for common TOML mistakes.
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please remove or comment out the duplicate entry.", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value in your TOML configuration file.\n"+
			"In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Check that strings are quoted and brackets are balanced.", err)
	}

	return err
}

// trimStringFields trims whitespace from every string reachable from v.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	}
}
