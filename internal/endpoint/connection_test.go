package endpoint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/mcpfleet/internal/jsonrpc"
	"github.com/MrWong99/mcpfleet/internal/mcpservice"
)

type fakeDispatcher struct {
	tools       []mcpservice.ToolEntry
	callResult  any
	callErr     error
	suggestions []string
}

func (f *fakeDispatcher) GetAllTools() []mcpservice.ToolEntry { return f.tools }

func (f *fakeDispatcher) CallTool(ctx context.Context, qualifiedName string, args map[string]any) (any, error) {
	return f.callResult, f.callErr
}

func (f *fakeDispatcher) SuggestForUnknownTool(qualifiedName string) []string { return f.suggestions }

func newTestConnection(d Dispatcher) *Connection {
	return NewConnection("wss://example.com/endpoint", d, DefaultReconnectPolicy(), nil)
}

func TestDispatch_Initialize(t *testing.T) {
	c := newTestConnection(&fakeDispatcher{})
	req := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: json.RawMessage("1"), Method: jsonrpc.MethodInitialize}

	resp := c.dispatch(context.Background(), req)

	if string(resp.ID) != "1" {
		t.Errorf("response id = %s, want 1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestDispatch_ZeroIDPreserved(t *testing.T) {
	c := newTestConnection(&fakeDispatcher{})
	req := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: json.RawMessage("0"), Method: jsonrpc.MethodPing}

	resp := c.dispatch(context.Background(), req)

	if string(resp.ID) != "0" {
		t.Errorf("response id = %s, want literal 0", resp.ID)
	}
}

func TestDispatch_StringIDPreserved(t *testing.T) {
	c := newTestConnection(&fakeDispatcher{})
	req := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: json.RawMessage(`"0"`), Method: jsonrpc.MethodPing}

	resp := c.dispatch(context.Background(), req)

	if string(resp.ID) != `"0"` {
		t.Errorf("response id = %s, want string \"0\"", resp.ID)
	}
}

func TestDispatch_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	c := newTestConnection(&fakeDispatcher{})
	req := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: json.RawMessage("7"), Method: "not/a/real/method"}

	resp := c.dispatch(context.Background(), req)

	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("expected -32601 method not found, got %+v", resp.Error)
	}
}

func TestHandleFrame_NullIDIsNotificationNoResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":null,"method":"ping"}`)
	msg, err := jsonrpc.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.IsNotification() {
		t.Fatal("expected null id to be a notification")
	}
	// handleFrame must return without writing: a response write on the nil
	// conn would panic.
	newTestConnection(&fakeDispatcher{}).handleFrame(context.Background(), nil, raw)
}

func TestHandleFrame_AbsentIDIsNotificationNoResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	msg, err := jsonrpc.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.IsNotification() {
		t.Fatal("expected absent id to be a notification")
	}
	// handleFrame must return without writing: a response write on the nil
	// conn would panic.
	newTestConnection(&fakeDispatcher{}).handleFrame(context.Background(), nil, raw)
}

func TestDispatch_ToolsCallSuccess(t *testing.T) {
	d := &fakeDispatcher{callResult: map[string]any{"content": "42"}}
	c := newTestConnection(d)
	params, _ := json.Marshal(map[string]any{"name": "weather__get_forecast", "arguments": map[string]any{}})
	req := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: json.RawMessage("42"), Method: jsonrpc.MethodToolsCall, Params: params}

	resp := c.dispatch(context.Background(), req)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.ID) != "42" {
		t.Errorf("response id = %s, want 42", resp.ID)
	}
}

func TestDispatch_ToolsCallFailureAttachesSuggestion(t *testing.T) {
	d := &fakeDispatcher{
		callErr:     mcpservice.ErrToolNotFound,
		suggestions: []string{"weather__get_forecast"},
	}
	c := newTestConnection(d)
	params, _ := json.Marshal(map[string]any{"name": "weather__get_forcast"})
	req := &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: json.RawMessage("1"), Method: jsonrpc.MethodToolsCall, Params: params}

	resp := c.dispatch(context.Background(), req)

	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != jsonrpc.CodeServerError {
		t.Errorf("error code = %d, want -32000", resp.Error.Code)
	}
	var data map[string]any
	if err := json.Unmarshal(resp.Error.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if data["suggestion"] != "weather__get_forecast" {
		t.Errorf("suggestion = %v", data["suggestion"])
	}
}

func TestBackoff_ExponentialGrowsAndCaps(t *testing.T) {
	policy := ReconnectPolicy{Kind: BackoffExponential, Base: time.Second, Multiplier: 2, Cap: 10 * time.Second}
	d1 := policy.nextInterval(1)
	d2 := policy.nextInterval(2)
	d3 := policy.nextInterval(5)

	if d1 != time.Second {
		t.Errorf("first attempt = %v, want 1s", d1)
	}
	if d2 != 2*time.Second {
		t.Errorf("second attempt = %v, want 2s", d2)
	}
	if d3 > policy.Cap {
		t.Errorf("fifth attempt = %v, exceeds cap %v", d3, policy.Cap)
	}
}

func TestBackoff_FixedNeverGrows(t *testing.T) {
	policy := ReconnectPolicy{Kind: BackoffFixed, Base: 3 * time.Second, Cap: 30 * time.Second}
	if d := policy.nextInterval(5); d != 3*time.Second {
		t.Errorf("fixed backoff at attempt 5 = %v, want 3s", d)
	}
}

func TestBackoff_LinearGrowsByMultipleOfBase(t *testing.T) {
	policy := ReconnectPolicy{Kind: BackoffLinear, Base: time.Second, Cap: time.Minute}
	if d := policy.nextInterval(3); d != 3*time.Second {
		t.Errorf("linear backoff at attempt 3 = %v, want 3s", d)
	}
}

func TestNewConnection_StartsDisconnected(t *testing.T) {
	c := newTestConnection(&fakeDispatcher{})
	if c.State() != StateDisconnected {
		t.Errorf("initial state = %q, want DISCONNECTED", c.State())
	}
}

func TestDisconnect_BeforeConnectSetsManualFlag(t *testing.T) {
	c := newTestConnection(&fakeDispatcher{})
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !c.IsManualDisconnect() {
		t.Error("expected manual disconnect flag to be set")
	}
}
