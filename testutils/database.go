package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

// TestConfig represents minimal test configuration
type TestConfig struct {
	Store struct {
		PostgresDSN string `toml:"postgres_dsn"`
		AccountID   int64  `toml:"account_id"`
	} `toml:"store"`
}

// SetupTestPostgres returns the DSN and account id of the PostgreSQL test
// database. The DSN comes from SIEVEEDIT_TEST_POSTGRES_DSN or from
// config-test.toml in the project root; without either the test is skipped.
func SetupTestPostgres(t *testing.T) (string, int64) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database integration test in short mode")
	}

	if dsn := os.Getenv("SIEVEEDIT_TEST_POSTGRES_DSN"); dsn != "" {
		return dsn, 1
	}

	configPath, err := findTestConfig()
	if err != nil {
		t.Skip("Skipping database integration test: no SIEVEEDIT_TEST_POSTGRES_DSN and no config-test.toml")
	}

	var cfg TestConfig
	_, err = toml.DecodeFile(configPath, &cfg)
	require.NoError(t, err, "Failed to load test config. Please check config-test.toml syntax")
	if cfg.Store.PostgresDSN == "" {
		t.Skip("Skipping database integration test: config-test.toml has no store.postgres_dsn")
	}
	if cfg.Store.AccountID == 0 {
		cfg.Store.AccountID = 1
	}
	return cfg.Store.PostgresDSN, cfg.Store.AccountID
}

// findTestConfig walks up the directory tree to find config-test.toml
func findTestConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		configPath := filepath.Join(dir, "config-test.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("config-test.toml not found in current directory or any parent directory")
}
