package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/vibe/internal/bus"
	"github.com/mtzanidakis/vibe/internal/config"
	"github.com/mtzanidakis/vibe/internal/dispatch"
	"github.com/mtzanidakis/vibe/internal/events"
	"github.com/mtzanidakis/vibe/internal/llm"
	"github.com/mtzanidakis/vibe/internal/natsbus"
	"github.com/mtzanidakis/vibe/internal/registry"
	"github.com/mtzanidakis/vibe/internal/router"
	"github.com/mtzanidakis/vibe/internal/store"
	"github.com/mtzanidakis/vibe/internal/swarm"
	"github.com/mtzanidakis/vibe/internal/vault"
)

// stack is the wired routing and execution pipeline.
type stack struct {
	cfg      *config.Config
	store    *store.Store
	nats     *natsbus.Server
	client   *natsbus.Client
	bus      *bus.Bus
	events   *events.Hub
	registry *registry.Registry
	router   *router.Router
	coord    *swarm.Coordinator
	dispatch *dispatch.Dispatcher
}

// newStack opens the store and builds the pipeline. The embedded NATS
// server only starts when withNATS is set and enabled in cfg.
func newStack(ctx context.Context, cfg *config.Config, withNATS bool) (_ *stack, err error) {
	s := &stack{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.store, err = store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	slog.Debug("store initialized", "path", cfg.Store.Path)

	if cfg.Vault.Passphrase != "" {
		v, err := vault.New(cfg.Vault.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("init vault: %w", err)
		}
		s.store.SetCipher(v)
	}

	busOpts := []bus.Option{bus.WithPersister(s.store)}
	s.events = events.NewHub()
	if withNATS && cfg.NATS.Enabled {
		s.nats, err = natsbus.New(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("init nats: %w", err)
		}
		s.client, err = natsbus.NewClient(s.nats)
		if err != nil {
			return nil, fmt.Errorf("nats client: %w", err)
		}
		busOpts = append(busOpts, bus.WithMirror(s.client))
		s.events.SetForwarder(s.client)
		slog.Info("nats started", "port", cfg.NATS.Port)
	}
	s.bus = bus.New(busOpts...)

	s.registry = registry.New(s.store, cfg.Agents)
	if err := s.registry.Sync(); err != nil {
		return nil, fmt.Errorf("sync agent registry: %w", err)
	}

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	s.router = router.New(gen, cfg.Router)
	s.coord = swarm.NewCoordinator(s.bus, s.registry, gen,
		swarm.WithEvents(s.events),
		swarm.WithStore(s.store),
		swarm.WithTaskTimeout(cfg.Coordinator.TaskTimeout),
	)
	s.dispatch = dispatch.New(s.router, s.coord, s.registry)
	return s, nil
}

// Close releases resources in reverse construction order. The bus is
// closed before the store so queued writes land.
func (s *stack) Close() {
	if s.events != nil {
		s.events.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
