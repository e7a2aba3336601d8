package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haymant/evolve/pkg/logger"
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("dap: session closed")

// Handler receives inbound traffic from the peer.
type Handler interface {
	// HandleEvent is called for each lifecycle event.
	HandleEvent(event string, body json.RawMessage)

	// HandleRequest is called for each inbound request. The returned result
	// (or error) is sent back as the response.
	HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Session is a bidirectional debug-channel connection over a byte stream.
// Outbound requests are correlated to responses by id; inbound events and
// requests are delivered to the Handler.
type Session struct {
	enc     *Encoder
	dec     *Decoder
	conn    io.Closer
	handler Handler
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool
	done    chan struct{}
}

// NewSession wraps conn in a session. Run must be called to start reading.
func NewSession(conn io.ReadWriteCloser, handler Handler) *Session {
	return &Session{
		enc:     NewEncoder(conn),
		dec:     NewDecoder(conn),
		conn:    conn,
		handler: handler,
		log:     logger.Get().With().Str("component", "dap").Logger(),
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
	}
}

// Run reads messages until the stream ends or the session is closed. It
// always returns a non-nil error; io.EOF means the peer closed cleanly.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	for {
		msg, err := s.dec.Decode()
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			select {
			case <-s.done:
				return ErrSessionClosed
			default:
			}
			return err
		}

		switch msg.Kind {
		case KindEvent:
			s.handler.HandleEvent(msg.Command, msg.Body)
		case KindRequest:
			go s.serveRequest(ctx, msg)
		case KindResponse:
			s.deliverResponse(msg)
		default:
			s.log.Warn().Str("kind", string(msg.Kind)).Msg("unknown message kind")
		}
	}
}

func (s *Session) serveRequest(ctx context.Context, msg *Message) {
	resp := &Message{Kind: KindResponse, ID: msg.ID}

	result, err := s.handler.HandleRequest(ctx, msg.Command, msg.Body)
	if err != nil {
		resp.Error = err.Error()
	} else {
		body, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = fmt.Sprintf("marshal result: %v", merr)
		} else {
			resp.Success = true
			resp.Body = body
		}
	}

	if err := s.enc.Encode(resp); err != nil {
		s.log.Warn().Err(err).Str("method", msg.Command).Msg("failed to send response")
	}
}

func (s *Session) deliverResponse(msg *Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	s.mu.Unlock()

	if !ok {
		// Late response after the caller gave up. The request was still
		// served on the remote side, so this is informational only.
		s.log.Debug().Str("id", msg.ID).Msg("response for abandoned request")
		return
	}
	ch <- msg
}

// SendRequest sends a correlated request and waits for the response. If ctx
// expires the local wait is abandoned but the request is not retracted on
// the remote side.
func (s *Session) SendRequest(ctx context.Context, method string, params any) ([]byte, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	id := uuid.New().String()
	ch := make(chan *Message, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	msg := &Message{Kind: KindRequest, Command: method, ID: id, Body: body}
	if err := s.enc.Encode(msg); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			return nil, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp.Body, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

// SendEvent sends a one-way event to the peer.
func (s *Session) SendEvent(event string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event body: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	return s.enc.Encode(&Message{Kind: KindEvent, Command: event, Body: data})
}

// Close closes the underlying stream and fails all pending requests.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.pending = make(map[string]chan *Message)
	s.mu.Unlock()

	return s.conn.Close()
}
