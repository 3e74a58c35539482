package config

import (
	"testing"
)

// TestAcceptanceCriteria verifies the configuration contract of the CLI.
func TestAcceptanceCriteria(t *testing.T) {
	t.Run("AC1: Redis password readable from PK_REDIS_PASSWORD", func(t *testing.T) {
		t.Setenv("PK_REDIS_PASSWORD", "from-env")

		if got := RedisPassword(); got != "from-env" {
			t.Fatalf("AC1 FAIL: RedisPassword() = %q", got)
		}
	})

	t.Run("AC2: Config file with a secret rejected with clear error", func(t *testing.T) {
		path := writeConfig(t, `watcher:
  backend: redis
  redis_password: "should_be_rejected"
`)
		_, err := LoadConfig(path)
		if err == nil {
			t.Fatal("AC2 FAIL: Expected error for secret in config file")
		}
		if err.Error() != "secrets not allowed in config files (use PK_REDIS_PASSWORD environment variable)" {
			t.Fatalf("AC2 FAIL: Wrong error message: %v", err)
		}
	})

	t.Run("AC3: Environment overrides config file", func(t *testing.T) {
		t.Setenv("PK_ADAPTER_TABLE", "from_env")

		path := writeConfig(t, `adapter:
  table: from_file
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("AC3 FAIL: LoadConfig error: %v", err)
		}
		if cfg.Adapter.Table != "from_env" {
			t.Fatalf("AC3 FAIL: Environment should override config file. Expected from_env, got %s", cfg.Adapter.Table)
		}
	})

	t.Run("AC4: Secret set in environment is accepted", func(t *testing.T) {
		t.Setenv("PK_WATCHER_REDIS_PASSWORD", "env-is-fine")

		if _, err := LoadConfig(""); err != nil {
			t.Fatalf("AC4 FAIL: LoadConfig error: %v", err)
		}
	})
}
