package bridge

import (
	"context"
	"sync"

	"github.com/haymant/evolve/internal/capability"
	"github.com/haymant/evolve/internal/ops"
	"github.com/haymant/evolve/pkg/logger"
)

// Info describes a running bridge: where it listens and the credentials a
// launched engine needs to reach it.
type Info struct {
	Addr      string
	Port      int
	Token     string
	SessionID string
}

// Env returns the launch environment entries for an engine process.
func (i Info) Env() []string {
	return Credentials{Token: i.Token, SessionID: i.SessionID}.Env(i.Addr)
}

// Manager owns the bridge lifecycle: it lazily brings the server up on
// first use with fresh credentials and keeps it up until Close. All bridge
// state hangs off the manager; nothing is process-global.
type Manager struct {
	host    string
	port    int
	invoker capability.Invoker

	registry   *ops.Registry
	hub        *Hub
	dispatcher *Dispatcher

	mu     sync.Mutex
	server *Server
	creds  Credentials
}

// NewManager creates a manager. The server is not started until Ensure.
func NewManager(host string, port int, registry *ops.Registry, hub *Hub, dispatcher *Dispatcher, invoker capability.Invoker) *Manager {
	return &Manager{
		host:       host,
		port:       port,
		invoker:    invoker,
		registry:   registry,
		hub:        hub,
		dispatcher: dispatcher,
	}
}

// Ensure starts the bridge if it is not already running and returns its
// connection info. Concurrent callers share one instance.
func (m *Manager) Ensure() (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return m.infoLocked(), nil
	}

	creds, err := NewCredentials()
	if err != nil {
		return Info{}, err
	}

	server := NewServer(m.host, m.port, creds, m.registry, m.hub, m.dispatcher, m.invoker)
	if err := server.Listen(); err != nil {
		return Info{}, err
	}

	go func() {
		if err := server.Serve(); err != nil {
			logger.Error().Err(err).Msg("Bridge server stopped")
		}
	}()

	m.creds = creds
	m.server = server
	return m.infoLocked(), nil
}

// Running reports whether the bridge is up.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server != nil
}

// Close shuts the bridge down. A later Ensure brings it back with fresh
// credentials.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.creds = Credentials{}
	m.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (m *Manager) infoLocked() Info {
	return Info{
		Addr:      m.server.Addr(),
		Port:      m.server.Port(),
		Token:     m.creds.Token,
		SessionID: m.creds.SessionID,
	}
}
