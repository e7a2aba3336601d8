// Package host assembles the bridge components for one host lifecycle.
// Everything hangs off the Host value: no component reaches for ambient
// global state, and tearing the host down releases all of it.
package host

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haymant/evolve/internal/bridge"
	"github.com/haymant/evolve/internal/capability"
	"github.com/haymant/evolve/internal/config"
	"github.com/haymant/evolve/internal/dap"
	"github.com/haymant/evolve/internal/lambda"
	"github.com/haymant/evolve/internal/ops"
	"github.com/haymant/evolve/internal/storage"
	"github.com/haymant/evolve/pkg/logger"
)

// Options configures a Host.
type Options struct {
	Config *config.Config
	Logger *zerolog.Logger

	// ChatModel and CommandRunner back the engine-facing capabilities.
	// Either may be nil; the capability then answers with a configuration
	// error instead of a result.
	ChatModel     capability.ChatModel
	CommandRunner capability.CommandRunner
}

// Host owns one bridge lifecycle: registry, handler registries, dispatcher
// and the loopback server, all built at construction and torn down by Close.
type Host struct {
	cfg *config.Config
	log *zerolog.Logger

	db       *storage.DB
	registry *ops.Registry
	lambdas  *lambda.Registry
	caps     *capability.Registry

	hub        *bridge.Hub
	dispatcher *bridge.Dispatcher
	ingest     *bridge.Ingestor
	manager    *bridge.Manager

	mu     sync.Mutex
	closed bool
}

// New builds a host from cfg. The bridge server itself comes up lazily on
// the first EnsureBridge call.
func New(opts Options) (*Host, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Get()
	}

	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}

	var db *storage.DB
	if cfg.Storage.Path != "" {
		var err error
		db, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		if version, err := db.SchemaVersion(); err == nil {
			log.Debug().Str("path", db.Path()).Int("schema_version", version).Msg("Storage opened")
		}
	}

	var store ops.SnapshotStore
	if db != nil {
		store = db
	}
	registry := ops.NewRegistry(store, cfg.Bridge.ResolvedCacheSize)

	lambdas := lambda.NewRegistry()
	lambda.RegisterBuiltins(lambdas)

	caps := capability.NewRegistry()
	capability.RegisterBuiltins(caps, capability.Options{
		Model:          opts.ChatModel,
		Runner:         opts.CommandRunner,
		ChatTimeout:    cfg.RPC.ChatTimeout,
		CommandTimeout: cfg.RPC.CommandTimeout,
	})

	hub := bridge.NewHub()
	dispatcher := bridge.NewDispatcher(registry, hub)
	ingest := bridge.NewIngestor(registry, lambda.NewDispatcher(lambdas, dispatcher))
	hub.SetEventSink(ingest)

	manager := bridge.NewManager(cfg.Bridge.Host, cfg.Bridge.Port, registry, hub, dispatcher, caps)

	return &Host{
		cfg:        cfg,
		log:        log,
		db:         db,
		registry:   registry,
		lambdas:    lambdas,
		caps:       caps,
		hub:        hub,
		dispatcher: dispatcher,
		ingest:     ingest,
		manager:    manager,
	}, nil
}

// EnsureBridge brings the bridge up if needed and returns its info.
func (h *Host) EnsureBridge() (bridge.Info, error) {
	return h.manager.Ensure()
}

// AttachDebugSession wires conn up as the authoritative transport: its
// lifecycle events feed ingestion, its requests hit the capability
// registry, and submissions prefer it over any socket. The caller runs the
// returned session's read loop; when it ends the session is detached.
func (h *Host) AttachDebugSession(ctx context.Context, conn io.ReadWriteCloser) *dap.Session {
	handler := bridge.NewDebugHandler(h.ingest, h.caps)
	session := dap.NewSession(conn, handler)
	h.dispatcher.AttachSession(session)

	go func() {
		if err := session.Run(ctx); err != nil && err != io.EOF {
			h.log.Warn().Err(err).Msg("Debug session ended")
		}
		h.dispatcher.DetachSession(session)
	}()
	return session
}

// Registry returns the pending-operation registry.
func (h *Host) Registry() *ops.Registry {
	return h.registry
}

// Lambdas returns the managed handler registry.
func (h *Host) Lambdas() *lambda.Registry {
	return h.lambdas
}

// Capabilities returns the host capability registry.
func (h *Host) Capabilities() *capability.Registry {
	return h.caps
}

// Dispatcher returns the submission dispatcher.
func (h *Host) Dispatcher() *bridge.Dispatcher {
	return h.dispatcher
}

// Ingestor returns the lifecycle-event ingestor, for attaching transports.
func (h *Host) Ingestor() *bridge.Ingestor {
	return h.ingest
}

// Close tears the host down: bridge first, then storage.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.manager.Close(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Bridge shutdown failed")
	}
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
