package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !reflect.DeepEqual(cfg, DefaultConfig()) {
			t.Errorf("LoadConfig(\"\") = %+v, want %+v", cfg, DefaultConfig())
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("PK_ADAPTER_TABLE", "tenant_rules")
		t.Setenv("PK_WATCHER_BACKEND", "etcd")
		t.Setenv("PK_WATCHER_ENDPOINTS", "etcd-1:2379, etcd-2:2379")
		t.Setenv("PK_WATCHER_TIMEOUT", "2s")
		t.Setenv("PK_MODEL_POLICY_TYPES", "p,p2,g")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Adapter.Table != "tenant_rules" {
			t.Errorf("Adapter.Table = %v, want tenant_rules", cfg.Adapter.Table)
		}
		if cfg.Watcher.Backend != WatcherEtcd {
			t.Errorf("Watcher.Backend = %v, want etcd", cfg.Watcher.Backend)
		}
		if want := []string{"etcd-1:2379", "etcd-2:2379"}; !reflect.DeepEqual(cfg.Watcher.Endpoints, want) {
			t.Errorf("Watcher.Endpoints = %v, want %v", cfg.Watcher.Endpoints, want)
		}
		if cfg.Watcher.Timeout != 2*time.Second {
			t.Errorf("Watcher.Timeout = %v, want 2s", cfg.Watcher.Timeout)
		}
		if want := []string{"p", "p2", "g"}; !reflect.DeepEqual(cfg.Model.PolicyTypes, want) {
			t.Errorf("Model.PolicyTypes = %v, want %v", cfg.Model.PolicyTypes, want)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `database:
  url: "postgres://policy@db/policy"
adapter:
  key_policy: surrogate
watcher:
  backend: redis
  redis_addr: "cache:6379"
  channel: "rules_changed"
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Database.URL != "postgres://policy@db/policy" {
			t.Errorf("Database.URL = %v", cfg.Database.URL)
		}
		if cfg.Adapter.KeyPolicy != "surrogate" {
			t.Errorf("Adapter.KeyPolicy = %v, want surrogate", cfg.Adapter.KeyPolicy)
		}
		if cfg.Watcher.RedisAddr != "cache:6379" || cfg.Watcher.Channel != "rules_changed" {
			t.Errorf("Watcher = %+v", cfg.Watcher)
		}
		if cfg.Watcher.Key != "policykeeper/revision" {
			t.Errorf("Watcher.Key = %v, want default", cfg.Watcher.Key)
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		if _, err := LoadConfig("/nonexistent/policykeeper.yaml"); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown key policy", map[string]string{"PK_ADAPTER_KEY_POLICY": "composite"}},
		{"ptype length above column", map[string]string{"PK_ADAPTER_MAX_PTYPE_LENGTH": "11"}},
		{"field length zero", map[string]string{"PK_ADAPTER_MAX_FIELD_LENGTH": "0"}},
		{"empty table", map[string]string{"PK_ADAPTER_TABLE": " "}},
		{"unknown backend", map[string]string{"PK_WATCHER_BACKEND": "zookeeper"}},
		{"negative timeout", map[string]string{"PK_WATCHER_TIMEOUT": "-1s"}},
		{"redis without address", map[string]string{"PK_WATCHER_BACKEND": "redis", "PK_WATCHER_REDIS_ADDR": " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); err == nil {
				t.Error("LoadConfig() error = nil, want error")
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"p", "g"}, []string{"p", "g"}},
		{[]string{"p, g,,g2 "}, []string{"p", "g", "g2"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSecretsFromEnvironment(t *testing.T) {
	t.Setenv("PK_REDIS_PASSWORD", "hunter2")
	t.Setenv("PK_ETCD_USERNAME", "root")
	t.Setenv("PK_ETCD_PASSWORD", "s3cret")

	if got := RedisPassword(); got != "hunter2" {
		t.Errorf("RedisPassword() = %v, want hunter2", got)
	}
	user, pass := EtcdCredentials()
	if user != "root" || pass != "s3cret" {
		t.Errorf("EtcdCredentials() = (%v, %v), want (root, s3cret)", user, pass)
	}
}
