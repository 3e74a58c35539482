package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// secretKeys may only come from the environment.
var secretKeys = map[string]string{
	"watcher.redis_password": "PK_REDIS_PASSWORD",
	"watcher.etcd_password":  "PK_ETCD_PASSWORD",
	"redis_password":         "PK_REDIS_PASSWORD",
	"etcd_password":          "PK_ETCD_PASSWORD",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("adapter.table", d.Adapter.Table)
	v.SetDefault("adapter.key_policy", d.Adapter.KeyPolicy)
	v.SetDefault("adapter.max_ptype_length", d.Adapter.MaxPTypeLength)
	v.SetDefault("adapter.max_field_length", d.Adapter.MaxFieldLength)
	v.SetDefault("model.policy_types", d.Model.PolicyTypes)
	v.SetDefault("watcher.backend", d.Watcher.Backend)
	v.SetDefault("watcher.endpoints", d.Watcher.Endpoints)
	v.SetDefault("watcher.redis_addr", d.Watcher.RedisAddr)
	v.SetDefault("watcher.key", d.Watcher.Key)
	v.SetDefault("watcher.channel", d.Watcher.Channel)
	v.SetDefault("watcher.timeout", d.Watcher.Timeout.String())
	v.SetDefault("server.health_addr", d.Server.HealthAddr)
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)

	// Bind environment variables with PK_ prefix
	v.SetEnvPrefix("PK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Adapter: AdapterConfig{
			Table:          strings.TrimSpace(v.GetString("adapter.table")),
			KeyPolicy:      v.GetString("adapter.key_policy"),
			MaxPTypeLength: v.GetInt("adapter.max_ptype_length"),
			MaxFieldLength: v.GetInt("adapter.max_field_length"),
		},
		Model: ModelConfig{
			PolicyTypes: splitList(v.GetStringSlice("model.policy_types")),
		},
		Watcher: WatcherConfig{
			Backend:   strings.ToLower(v.GetString("watcher.backend")),
			Endpoints: splitList(v.GetStringSlice("watcher.endpoints")),
			RedisAddr: strings.TrimSpace(v.GetString("watcher.redis_addr")),
			Key:       v.GetString("watcher.key"),
			Channel:   v.GetString("watcher.channel"),
			Timeout:   v.GetDuration("watcher.timeout"),
		},
		Server: ServerConfig{
			HealthAddr:  v.GetString("server.health_addr"),
			MetricsAddr: v.GetString("server.metrics_addr"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validateConfig checks enumerations, positive limits and backend-specific
// requirements. Identifier syntax of table, key and channel is checked where
// they are used.
func validateConfig(cfg *Config) error {
	if cfg.Adapter.Table == "" {
		return fmt.Errorf("adapter.table must not be empty")
	}
	if cfg.Adapter.KeyPolicy != "natural" && cfg.Adapter.KeyPolicy != "surrogate" {
		return fmt.Errorf("adapter.key_policy must be natural or surrogate, got %q", cfg.Adapter.KeyPolicy)
	}
	if cfg.Adapter.MaxPTypeLength <= 0 || cfg.Adapter.MaxPTypeLength > 10 {
		return fmt.Errorf("adapter.max_ptype_length must be between 1 and 10, got %d", cfg.Adapter.MaxPTypeLength)
	}
	if cfg.Adapter.MaxFieldLength <= 0 || cfg.Adapter.MaxFieldLength > 100 {
		return fmt.Errorf("adapter.max_field_length must be between 1 and 100, got %d", cfg.Adapter.MaxFieldLength)
	}
	if len(cfg.Model.PolicyTypes) == 0 {
		return fmt.Errorf("model.policy_types must list at least one rule type")
	}
	if cfg.Watcher.Timeout <= 0 {
		return fmt.Errorf("watcher.timeout must be positive, got %v", cfg.Watcher.Timeout)
	}

	switch cfg.Watcher.Backend {
	case WatcherNone, WatcherPostgres:
	case WatcherEtcd:
		if len(cfg.Watcher.Endpoints) == 0 {
			return fmt.Errorf("watcher.endpoints required for the etcd backend")
		}
	case WatcherRedis:
		if cfg.Watcher.RedisAddr == "" {
			return fmt.Errorf("watcher.redis_addr required for the redis backend")
		}
	default:
		return fmt.Errorf("watcher.backend must be one of none, etcd, redis, postgres, got %q", cfg.Watcher.Backend)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for key, env := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("secrets not allowed in config files (use %s environment variable)", env)
		}
	}
	return nil
}
