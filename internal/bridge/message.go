package bridge

import "encoding/json"

// TypeDAPEvent marks a socket message carrying an engine lifecycle event.
// Any other type is treated as an RPC method name.
const TypeDAPEvent = "dapEvent"

// SocketMessage is the inbound WebSocket wire unit. Lifecycle events set
// Type to "dapEvent" and carry Event/Body; everything else is an RPC call
// with Type as the method name and an id for response correlation.
type SocketMessage struct {
	Type   string          `json:"type"`
	Event  string          `json:"event,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	ID     any             `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCResponse answers a socket RPC call.
type RPCResponse struct {
	ID      any    `json:"id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventMessage is the outbound lifecycle/delivery frame pushed to sockets.
type EventMessage struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Body  any    `json:"body,omitempty"`
}
