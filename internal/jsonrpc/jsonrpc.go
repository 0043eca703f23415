// Package jsonrpc implements the JSON-RPC 2.0 message envelope used between
// this process and both upstream endpoints and downstream MCP services.
//
// The id field is modeled as [json.RawMessage] rather than `any` so that
// round-tripping a request's id into its response preserves both its JSON
// type and its exact value — including the distinction between the number
// 0, the string "0", and an absent/null id (a notification). A scalar Go
// type such as `any` or `interface{}` cannot make that distinction reliably
// once a numeric id has passed through an intermediate unmarshal/marshal.
package jsonrpc

import (
	"encoding/json"
	"errors"
)

// Version is the only protocol version value this package accepts or emits.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes, plus the implementation-defined
// -32000 used for tool-call and service-level failures.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Method names recognized on the upstream (endpoint-facing) side.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodPing       = "ping"
)

// null is the canonical encoding of a JSON null literal, used to detect the
// spec's "absent or null id is a notification" rule after decode.
var null = json.RawMessage("null")

// Message is a decoded JSON-RPC envelope. Depending on which fields are
// populated it represents a request, a notification, a success response, or
// an error response: [Message.IsRequest] and [Message.IsNotification]
// distinguish requests and notifications; a response has no Method and
// carries Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the `error` member of a JSON-RPC error response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ErrNotJSONRPC2 is returned by [Parse] when the decoded message's jsonrpc
// field is not exactly "2.0".
var ErrNotJSONRPC2 = errors.New("jsonrpc: jsonrpc field is not \"2.0\"")

// Parse decodes raw as a single [Message] and validates its jsonrpc field.
// A raw payload that is not valid JSON returns a plain decode error (the
// caller cannot attribute an id to it and so must drop it per §7).
func Parse(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.JSONRPC != Version {
		return nil, ErrNotJSONRPC2
	}
	return &msg, nil
}

// IsNotification reports whether m has no id (absent or JSON null), the
// JSON-RPC 2.0 definition of a notification. Notifications never receive a
// response, even when processing them fails.
func (m *Message) IsNotification() bool {
	return len(m.ID) == 0 || string(m.ID) == string(null)
}

// IsRequest reports whether m is a request or notification (has a method).
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// NewRequest builds a request [Message] with the given id, method, and
// already-marshaled params.
func NewRequest(id json.RawMessage, method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewSuccess builds a success response carrying id and an already-marshaled
// result.
func NewSuccess(id json.RawMessage, result json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response carrying id, a code, a message, and
// optional already-marshaled data.
func NewError(id json.RawMessage, code int, message string, data json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

// MustMarshal marshals v and panics on failure. Intended for call sites
// where v is a concrete struct under the package's own control (e.g.
// building a params or result payload), never for data read off the wire.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("jsonrpc: marshal: " + err.Error())
	}
	return b
}

// Encode marshals m back to wire bytes.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}
