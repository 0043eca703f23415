package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParse_ValidRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{"name":"calc__add"}}`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Method != "tools/call" {
		t.Errorf("method = %q", msg.Method)
	}
	if string(msg.ID) != "42" {
		t.Errorf("id = %q, want 42", msg.ID)
	}
	if msg.IsNotification() {
		t.Error("should not be a notification")
	}
}

func TestParse_ZeroIDPreserved(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":0,"method":"ping"}`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(msg.ID) != "0" {
		t.Fatalf("id = %q, want literal 0", msg.ID)
	}
	if msg.IsNotification() {
		t.Error("id:0 must not be treated as a notification")
	}

	resp := NewSuccess(msg.ID, MustMarshal(map[string]any{}))
	out, err := Encode(resp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var roundtrip struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(out, &roundtrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(roundtrip.ID) != "0" {
		t.Errorf("round-tripped id = %q, want 0", roundtrip.ID)
	}
}

func TestParse_StringIDPreserved(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"x","method":"foo/bar"}`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(msg.ID) != `"x"` {
		t.Fatalf("id = %s, want \"x\"", msg.ID)
	}
}

func TestParse_NullIDIsNotification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":null,"method":"foo/bar"}`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.IsNotification() {
		t.Error("id:null must be treated as a notification")
	}
}

func TestParse_AbsentIDIsNotification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"foo/bar"}`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.IsNotification() {
		t.Error("absent id must be treated as a notification")
	}
}

func TestParse_RejectsWrongVersion(t *testing.T) {
	raw := []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for jsonrpc != 2.0")
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestNewError_UnknownMethod(t *testing.T) {
	id := json.RawMessage(`"x"`)
	msg := NewError(id, CodeMethodNotFound, "method not found", nil)
	out, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %+v", decoded.Error)
	}
	if decoded.Error.Message == "" {
		t.Error("error message must be non-empty")
	}
	if string(decoded.ID) != `"x"` {
		t.Errorf("id = %s, want \"x\"", decoded.ID)
	}
}
