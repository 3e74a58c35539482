// Package config provides configuration management for policykeeper.
package config

import (
	"os"
	"time"
)

// Watcher backends.
const (
	WatcherNone     = "none"
	WatcherEtcd     = "etcd"
	WatcherRedis    = "redis"
	WatcherPostgres = "postgres"
)

// Config is the complete policykeeper configuration.
type Config struct {
	Database DatabaseConfig
	Adapter  AdapterConfig
	Model    ModelConfig
	Watcher  WatcherConfig
	Server   ServerConfig
}

// DatabaseConfig locates the policy database.
type DatabaseConfig struct {
	URL string
}

// AdapterConfig configures the policy table and rule limits.
type AdapterConfig struct {
	Table          string
	KeyPolicy      string
	MaxPTypeLength int
	MaxFieldLength int
}

// ModelConfig lists the rule types the local model enforces. Rows of other
// types are skipped on load.
type ModelConfig struct {
	PolicyTypes []string
}

// WatcherConfig selects and configures the change notification backend.
type WatcherConfig struct {
	Backend   string
	Endpoints []string
	RedisAddr string
	Key       string
	Channel   string
	Timeout   time.Duration
}

// ServerConfig holds the listen addresses of the watch daemon.
type ServerConfig struct {
	HealthAddr  string
	MetricsAddr string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: "sqlite://policy.db",
		},
		Adapter: AdapterConfig{
			Table:          "casbin_rule",
			KeyPolicy:      "natural",
			MaxPTypeLength: 10,
			MaxFieldLength: 100,
		},
		Model: ModelConfig{
			PolicyTypes: []string{"p", "g"},
		},
		Watcher: WatcherConfig{
			Backend:   WatcherNone,
			Endpoints: []string{"localhost:2379"},
			RedisAddr: "localhost:6379",
			Key:       "policykeeper/revision",
			Channel:   "policykeeper_changes",
			Timeout:   5 * time.Second,
		},
		Server: ServerConfig{
			HealthAddr:  "0.0.0.0:50052",
			MetricsAddr: "0.0.0.0:9090",
		},
	}
}

// RedisPassword returns the Redis password from PK_REDIS_PASSWORD.
// Empty means no AUTH.
func RedisPassword() string {
	return os.Getenv("PK_REDIS_PASSWORD")
}

// EtcdCredentials returns etcd basic auth from PK_ETCD_USERNAME and
// PK_ETCD_PASSWORD. Empty means no auth.
func EtcdCredentials() (username, password string) {
	return os.Getenv("PK_ETCD_USERNAME"), os.Getenv("PK_ETCD_PASSWORD")
}
