package cmd

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/solatis/policykeeper/internal/core/adapter"
	"github.com/solatis/policykeeper/internal/core/config"
	"github.com/solatis/policykeeper/internal/core/db"
	"github.com/solatis/policykeeper/internal/core/metrics"
	"github.com/solatis/policykeeper/internal/core/watcher"
	"github.com/solatis/policykeeper/internal/types"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// runtime is the wiring shared by every subcommand: configuration, logger,
// database handle and metrics.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	db       *sqlx.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

// setup loads configuration, applies the persistent flags over it and opens
// the database.
func setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if table != "" {
		cfg.Adapter.Table = table
	}

	logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		registry: registry,
		metrics:  metrics.New(registry),
		closers:  []func() error{database.Close},
	}, nil
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn().Err(err).Msg("close failed")
		}
	}
}

func (r *runtime) adapter(skipMigrate bool) (*adapter.Adapter, error) {
	return adapter.New(r.db, adapter.Options{
		Table:          r.cfg.Adapter.Table,
		KeyPolicy:      types.KeyPolicy(r.cfg.Adapter.KeyPolicy),
		MaxPTypeLength: r.cfg.Adapter.MaxPTypeLength,
		MaxFieldLength: r.cfg.Adapter.MaxFieldLength,
		SkipMigrate:    skipMigrate,
		Logger:         &r.logger,
		Metrics:        r.metrics,
	})
}

// watcher builds the configured change watcher, or returns nil when the
// backend is "none". The watcher and its client are closed with r.
func (r *runtime) watcher() (watcher.Watcher, error) {
	wc := r.cfg.Watcher
	opts := watcher.Options{
		Key:     wc.Key,
		Channel: wc.Channel,
		Timeout: wc.Timeout,
		Logger:  &r.logger,
		Metrics: r.metrics,
	}

	var w watcher.Watcher
	switch wc.Backend {
	case config.WatcherNone:
		return nil, nil

	case config.WatcherEtcd:
		username, password := config.EtcdCredentials()
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   wc.Endpoints,
			DialTimeout: wc.Timeout,
			Username:    username,
			Password:    password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		r.closers = append(r.closers, client.Close)
		if w, err = watcher.NewEtcd(client, opts); err != nil {
			return nil, err
		}

	case config.WatcherRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{wc.RedisAddr},
			Password: config.RedisPassword(),
		})
		r.closers = append(r.closers, client.Close)
		var err error
		if w, err = watcher.NewRedis(client, opts); err != nil {
			return nil, err
		}

	case config.WatcherPostgres:
		dialect, err := db.Dialect(r.db.DriverName())
		if err != nil {
			return nil, err
		}
		if dialect != db.DialectPostgres {
			return nil, fmt.Errorf("the postgres watcher needs a postgres database, got %s", r.db.DriverName())
		}
		if w, err = watcher.NewPostgres(r.db, listenerConnString(r.cfg.Database.URL), opts); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown watcher backend %q", wc.Backend)
	}

	r.closers = append(r.closers, w.Close)
	return w, nil
}

// listenerConnString maps a database URL onto the lib/pq form the listener
// connection needs.
func listenerConnString(url string) string {
	if strings.HasPrefix(url, "postgres+pgx://") {
		return "postgres://" + strings.TrimPrefix(url, "postgres+pgx://")
	}
	return url
}
