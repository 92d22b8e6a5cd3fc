package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/vibe/internal/config"
	"github.com/mtzanidakis/vibe/internal/scheduler"
	"github.com/mtzanidakis/vibe/internal/web"
)

const (
	cleanupJob = "message-cleanup"
	pruneJob   = "session-prune"

	sessionIdleTimeout = 24 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, NATS broker and maintenance jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg, path)
	},
}

func serve(cfg *config.Config, path string) error {
	slog.Info("starting vibe", "version", version, "agents", len(cfg.Agents))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	var retention atomic.Int64
	retention.Store(int64(cfg.Bus.Retention))

	sched := scheduler.New(time.Minute)
	if err := sched.Add(cleanupJob, cfg.Bus.CleanupSchedule, scheduler.CleanupJob(s.bus, func() time.Duration {
		return time.Duration(retention.Load())
	})); err != nil {
		return fmt.Errorf("schedule message cleanup: %w", err)
	}
	if err := sched.Add(pruneJob, "@every 10m", func(ctx context.Context) error {
		if n := s.dispatch.PruneSessions(sessionIdleTimeout); n > 0 {
			slog.Info("pruned idle sessions", "count", n)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("schedule session prune: %w", err)
	}
	go sched.Start(ctx)
	slog.Info("scheduler started", "cleanup", cfg.Bus.CleanupSchedule)

	go func() {
		err := config.Watch(ctx, path, cfg, func(old, next *config.Config, d config.ConfigDiff) {
			if len(d.AgentsAdded)+len(d.AgentsRemoved)+len(d.AgentsChanged) > 0 || d.AgentsReordered {
				if err := s.registry.Reload(next.Agents); err != nil {
					slog.Error("reload agents failed", "error", err)
				} else {
					slog.Info("agents reloaded", "added", d.AgentsAdded, "removed", d.AgentsRemoved, "changed", d.AgentsChanged)
				}
			}
			if d.RouterChanged {
				s.router.SetConfig(d.NewRouter)
				slog.Info("router config reloaded")
			}
			if d.CoordinatorChanged {
				s.coord.SetTaskTimeout(d.NewCoordinator.TaskTimeout)
				slog.Info("coordinator config reloaded", "task_timeout", d.NewCoordinator.TaskTimeout)
			}
			if d.BusChanged {
				retention.Store(int64(d.NewBus.Retention))
				if d.NewBus.CleanupSchedule != old.Bus.CleanupSchedule {
					if err := sched.Reschedule(cleanupJob, d.NewBus.CleanupSchedule); err != nil {
						slog.Error("reschedule message cleanup failed", "error", err)
					}
				}
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "path", path, "error", err)
		}
	}()

	if !cfg.Web.Enabled {
		slog.Info("web server disabled")
		<-ctx.Done()
		slog.Info("shutting down")
		return nil
	}

	deps := web.Deps{
		Dispatcher: s.dispatch,
		Agents:     s.registry,
		Messages:   s.bus,
		Runs:       s.store,
		Jobs:       sched,
		Events:     s.events,
	}
	if s.nats != nil {
		deps.NATSClients = s.nats.NumClients
	}
	srv := web.NewServer(deps, cfg.Web, version)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	slog.Info("shutting down")
	return nil
}
