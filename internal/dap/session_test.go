package dap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHandler struct {
	mu      sync.Mutex
	events  []string
	bodies  []json.RawMessage
	request func(ctx context.Context, method string, params json.RawMessage) (any, error)
}

func (h *testHandler) HandleEvent(event string, body json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.bodies = append(h.bodies, body)
}

func (h *testHandler) HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if h.request != nil {
		return h.request(ctx, method, params)
	}
	return nil, errors.New("no handler")
}

func (h *testHandler) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// sessionPair connects two sessions over an in-memory pipe and starts both
// read loops.
func sessionPair(t *testing.T, left, right Handler) (*Session, *Session) {
	t.Helper()

	a, b := net.Pipe()
	sa := NewSession(a, left)
	sb := NewSession(b, right)

	go sa.Run(context.Background())
	go sb.Run(context.Background())

	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func TestSessionRequestResponse(t *testing.T) {
	remote := &testHandler{
		request: func(_ context.Context, method string, params json.RawMessage) (any, error) {
			var p map[string]any
			require.NoError(t, json.Unmarshal(params, &p))
			return map[string]any{"method": method, "echo": p["value"]}, nil
		},
	}
	local, _ := sessionPair(t, &testHandler{}, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := local.SendRequest(ctx, RequestSubmit, map[string]any{"value": "hello"})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, RequestSubmit, result["method"])
	assert.Equal(t, "hello", result["echo"])
}

func TestSessionRequestError(t *testing.T) {
	remote := &testHandler{
		request: func(context.Context, string, json.RawMessage) (any, error) {
			return nil, errors.New("handler rejected")
		},
	}
	local, _ := sessionPair(t, &testHandler{}, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := local.SendRequest(ctx, "doThing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler rejected")
}

func TestSessionEventDelivery(t *testing.T) {
	remote := &testHandler{}
	local, _ := sessionPair(t, &testHandler{}, remote)

	require.NoError(t, local.SendEvent(EventOperationStarted, map[string]any{"operationId": "op-1"}))

	assert.Eventually(t, func() bool {
		return remote.eventCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, EventOperationStarted, remote.events[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal(remote.bodies[0], &body))
	assert.Equal(t, "op-1", body["operationId"])
}

func TestSessionRequestTimeout(t *testing.T) {
	remote := &testHandler{
		request: func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	local, _ := sessionPair(t, &testHandler{}, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := local.SendRequest(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionClosedSend(t *testing.T) {
	local, _ := sessionPair(t, &testHandler{}, &testHandler{})
	require.NoError(t, local.Close())

	_, err := local.SendRequest(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.ErrorIs(t, local.SendEvent("ev", nil), ErrSessionClosed)
}

func TestSessionCloseFailsPendingRequest(t *testing.T) {
	remote := &testHandler{
		request: func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	local, _ := sessionPair(t, &testHandler{}, remote)

	done := make(chan error, 1)
	go func() {
		_, err := local.SendRequest(context.Background(), "slow", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, local.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not released on close")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	dec := NewDecoder(&buf)

	in := &Message{Kind: KindEvent, Command: EventOperationUpdated, Body: json.RawMessage(`{"x":1}`)}
	require.NoError(t, enc.Encode(in))

	out, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Command, out.Command)
	assert.JSONEq(t, `{"x":1}`, string(out.Body))

	_, err = dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestCodecRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	big := make([]byte, MaxMessageSize+1)
	for i := range big {
		big[i] = 'a'
	}
	msg := &Message{Kind: KindEvent, Command: "big", Body: json.RawMessage(`"` + string(big[:MaxMessageSize]) + `"`)}
	err := enc.Encode(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestDecoderRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := NewDecoder(&buf).Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
