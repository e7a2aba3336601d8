// Package dap carries the bridge message families over an attached debug
// session: lifecycle events from the engine adapter and bidirectional
// custom requests, framed as length-prefixed JSON.
package dap

import "encoding/json"

const (
	// MaxMessageSize is the maximum allowed message size (1MB).
	MaxMessageSize = 1024 * 1024

	// HeaderSize is the size of the length header in bytes.
	HeaderSize = 4
)

// Kind identifies a debug-channel message.
type Kind string

const (
	// KindEvent carries an engine lifecycle event (asyncOperationStarted,
	// asyncOperationUpdated).
	KindEvent Kind = "event"

	// KindRequest carries a correlated request in either direction:
	// engine-to-host capability calls (vscode/chat, vscode/executeCommand,
	// ...) and host-to-engine submits (asyncOperationSubmit).
	KindRequest Kind = "request"

	// KindResponse answers a KindRequest with the same correlation id.
	KindResponse Kind = "response"
)

// Engine lifecycle event names.
const (
	EventOperationStarted = "asyncOperationStarted"
	EventOperationUpdated = "asyncOperationUpdated"
)

// RequestSubmit is the host-to-engine request delivering an answer for a
// pending operation.
const RequestSubmit = "asyncOperationSubmit"

// Message is the debug-channel wire unit.
type Message struct {
	Kind    Kind            `json:"kind"`
	Command string          `json:"command,omitempty"` // event name or request method
	ID      string          `json:"id,omitempty"`      // correlation id for request/response
	Success bool            `json:"success,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Error   string          `json:"error,omitempty"`
}
