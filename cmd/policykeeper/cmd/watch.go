package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/solatis/policykeeper/internal/core/server"
	"github.com/solatis/policykeeper/internal/model"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep an in-memory policy in sync with the table",
	Long: `Load the policy, reload it on every change notification, and serve gRPC
health (SERVING while subscribed) and Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("health-addr", "", "gRPC health listen address (overrides server.health_addr)")
	watchCmd.Flags().String("metrics-addr", "", "metrics listen address (overrides server.metrics_addr)")
}

// policyLoader is the part of *adapter.Adapter the cache reads through.
type policyLoader interface {
	LoadPolicy(ctx context.Context, m model.Model) error
}

// policyCache holds the current model and swaps in reloaded ones.
type policyCache struct {
	loader policyLoader
	ptypes []string
	logger zerolog.Logger

	// reloadMu serializes reloads so a slow load never replaces the model
	// of a later one.
	reloadMu sync.Mutex

	mu    sync.RWMutex
	model model.Model
}

// reload reads the full policy into a fresh model and replaces the current
// one. On failure the previous model stays.
func (c *policyCache) reload(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	m := model.New(c.ptypes...)
	start := time.Now()
	if err := c.loader.LoadPolicy(ctx, m); err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}

	c.mu.Lock()
	c.model = m
	c.mu.Unlock()

	c.logger.Info().
		Int("rules", m.Count()).
		Dur("took", time.Since(start)).
		Msg("policy loaded")
	return nil
}

// Model returns the current model.
func (c *policyCache) Model() model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if addr, _ := cmd.Flags().GetString("health-addr"); addr != "" {
		rt.cfg.Server.HealthAddr = addr
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		rt.cfg.Server.MetricsAddr = addr
	}

	a, err := rt.adapter(false)
	if err != nil {
		return err
	}
	w, err := rt.watcher()
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("no watcher backend configured (set watcher.backend or PK_WATCHER_BACKEND)")
	}

	cache := &policyCache{
		loader: a,
		ptypes: rt.cfg.Model.PolicyTypes,
		logger: rt.logger.With().Str("component", "policy_cache").Logger(),
	}
	if err := cache.reload(ctx); err != nil {
		return err
	}

	w.RegisterCallback(func(msg string) error {
		rt.logger.Debug().Str("msg", msg).Msg("policy changed elsewhere, reloading")
		return cache.reload(ctx)
	})

	health, err := server.NewHealthServer(rt.cfg.Server.HealthAddr)
	if err != nil {
		return err
	}
	metricsServer := server.NewMetricsServer(rt.cfg.Server.MetricsAddr, rt.registry)

	errCh := make(chan error, 2)
	go func() { errCh <- health.Start(ctx) }()
	go func() { errCh <- metricsServer.Start() }()

	var runErr error
	if err := w.StartWatching(ctx); err != nil {
		runErr = err
	} else {
		health.SetServing(true)
		rt.logger.Info().
			Str("backend", rt.cfg.Watcher.Backend).
			Str("health_addr", rt.cfg.Server.HealthAddr).
			Str("metrics_addr", rt.cfg.Server.MetricsAddr).
			Msg("watching policy")

		select {
		case runErr = <-errCh:
		case <-w.Done():
			// Cancelling ctx also ends the subscription.
			if ctx.Err() == nil {
				runErr = errors.New("watching stopped")
				if err := w.Err(); err != nil {
					runErr = fmt.Errorf("watching stopped: %w", err)
				}
				break
			}
			rt.logger.Info().Msg("shutting down gracefully")
		case <-ctx.Done():
			rt.logger.Info().Msg("shutting down gracefully")
		}
	}

	health.SetServing(false)
	if err := w.StopWatching(); err != nil {
		rt.logger.Warn().Err(err).Msg("stop watching failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn().Err(err).Msg("health server shutdown failed")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn().Err(err).Msg("metrics server shutdown failed")
	}
	return runErr
}

