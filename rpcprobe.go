// Package rpcprobe defines the wire types and configuration for rpcprobe,
// an interactive console for Unix-socket JSON-RPC services.
// Messages are JSON-encoded and exchanged over a Unix domain socket, each
// frame terminated by a single 0x03 byte.
package rpcprobe

import "encoding/json"

// Version is the client version reported in the identification handshake.
const Version = "0.1.0"

// ProtocolVersion is the JSON-RPC protocol tag carried by every envelope.
const ProtocolVersion = "2.0"

// Envelope is a single JSON-RPC message in either direction.
// Requests carry Method and ID; responses carry ID and Result or Error;
// server-originated notifications carry Method but no ID.
type Envelope struct {
	Version string         `json:"jsonrpc"`
	Method  string         `json:"method,omitempty"`
	// ID is nil for notifications.
	ID     *uint64        `json:"id,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Result any            `json:"result,omitempty"`
	Error  *RPCError      `json:"error,omitempty"`

	// Raw is the frame exactly as received off the wire, kept for display.
	// It is empty on envelopes built locally.
	Raw json.RawMessage `json:"-"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewRequest builds a request envelope for the given method and params.
// A nil params map is omitted from the encoding.
func NewRequest(id uint64, method string, params map[string]any) *Envelope {
	return &Envelope{
		Version: ProtocolVersion,
		Method:  method,
		ID:      &id,
		Params:  params,
	}
}

// IsNotification reports whether the envelope has no request id.
func (e *Envelope) IsNotification() bool {
	return e.ID == nil
}

// Display returns the envelope as compact JSON for printing to the console.
// Envelopes decoded from the wire display verbatim, so server fields outside
// the envelope schema are preserved.
func (e *Envelope) Display() string {
	if len(e.Raw) > 0 {
		return string(e.Raw)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "<unencodable envelope>"
	}
	return string(data)
}
