package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/haymant/evolve/internal/capability"
	"github.com/haymant/evolve/internal/ops"
	"github.com/haymant/evolve/pkg/logger"
)

// Server is the loopback HTTP server carrying the submit endpoint, the
// status endpoints, and the engine WebSocket at the root path.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	listener   net.Listener
	hub        *Hub
	creds      Credentials
	registry   *ops.Registry
	dispatcher *Dispatcher
	invoker    capability.Invoker
	host       string
	port       int
}

// NewServer creates a bridge server. Port 0 picks an ephemeral port at
// Listen time.
func NewServer(host string, port int, creds Credentials, registry *ops.Registry, hub *Hub, dispatcher *Dispatcher, invoker capability.Invoker) *Server {
	router := mux.NewRouter()

	handler := Recovery(Logging(router))

	s := &Server{
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0, // WebSocket connections are long-lived
			IdleTimeout:  120 * time.Second,
		},
		router:     router,
		hub:        hub,
		creds:      creds,
		registry:   registry,
		dispatcher: dispatcher,
		invoker:    invoker,
		host:       host,
		port:       port,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/operations", s.handleListOperations).Methods(http.MethodGet)
	s.router.HandleFunc("/operations/summary", s.handleSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// Engine WebSocket endpoint.
	s.router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(s.hub, s.creds, s.invoker, w, r)
	})
}

// Listen binds the listener. After Listen returns, Addr reports the actual
// address even when an ephemeral port was requested.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	s.listener = ln

	logger.Info().Str("addr", ln.Addr().String()).Msg("Bridge listening")
	return nil
}

// Serve runs the hub and the HTTP server. It blocks until Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go s.hub.Run()

	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge server error: %w", err)
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down bridge server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// handleSubmit answers a pending operation by resume token.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return
	}

	if !s.creds.TokenMatches(requestToken(r)) {
		SendError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid bridge token")
		return
	}
	if !s.creds.SessionMatches(requestSession(r, body)) {
		SendError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing session")
		return
	}

	token, _ := body["resumeToken"].(string)
	if token == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "resumeToken is required")
		return
	}

	op, found := s.registry.FindByToken(token)
	if !found {
		if _, resolved := s.registry.ResolvedStatus(token); resolved {
			SendError(w, http.StatusConflict, ErrCodeAlreadyResolved, "operation already resolved")
			return
		}
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "unknown resume token")
		return
	}
	if op.Status != ops.StatusPending {
		SendError(w, http.StatusConflict, ErrCodeAlreadyResolved, "operation already resolved")
		return
	}

	errMsg, _ := body["error"].(string)
	if err := s.dispatcher.Submit(r.Context(), op, body["result"], errMsg, SourceHTTP); err != nil {
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"operationId": op.OperationID,
	})
}

// operationView is the wire shape of a pending operation. The resume token
// is the answer credential and is never listed.
type operationView struct {
	OperationID    string         `json:"operationId"`
	TransitionID   string         `json:"transitionId,omitempty"`
	TransitionName string         `json:"transitionName,omitempty"`
	OperationType  string         `json:"operationType,omitempty"`
	NetID          string         `json:"netId,omitempty"`
	RunID          string         `json:"runId,omitempty"`
	Status         ops.Status     `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	TimeoutMs      int64          `json:"timeoutMs,omitempty"`
	UIState        map[string]any `json:"uiState,omitempty"`
}

// authorizeRead guards the inspection routes with the same bearer+session
// pair as submit. The session may only arrive via header or query here.
func (s *Server) authorizeRead(w http.ResponseWriter, r *http.Request) bool {
	if !s.creds.TokenMatches(requestToken(r)) {
		SendError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid bridge token")
		return false
	}
	if !s.creds.SessionMatches(requestSession(r, nil)) {
		SendError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing session")
		return false
	}
	return true
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRead(w, r) {
		return
	}

	pending := s.registry.ListPending()
	views := make([]operationView, 0, len(pending))
	for _, op := range pending {
		views = append(views, operationView{
			OperationID:    op.OperationID,
			TransitionID:   op.TransitionID,
			TransitionName: op.TransitionName,
			OperationType:  op.OperationType,
			NetID:          op.NetID,
			RunID:          op.RunID,
			Status:         op.Status,
			CreatedAt:      op.CreatedAt,
			TimeoutMs:      op.Timeout.Milliseconds(),
			UIState:        op.UIState,
		})
	}
	SendJSON(w, http.StatusOK, map[string]any{"operations": views})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRead(w, r) {
		return
	}
	SendJSON(w, http.StatusOK, s.registry.Summary())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"pending": s.registry.Summary().Count,
	})
}
