// Package message defines the RPC structures exchanged between a client mailbox
// and a server acceptor.
//
// Message is the logical call. Request and Response are the wire frames that
// carry it: the mailbox wraps each Message in a Request with a correlation id,
// the acceptor answers with a Response echoing the same id.
//
//	Request:  {"id": 7, "msg": {"namespace": "user", "service": "echo", ...}}
//	Response: {"id": 7, "resp": [null, "hello"]}
package message

import (
	"encoding/json"
	"fmt"
)

// Message carries the data for a single remote invocation.
//
// Args are kept as raw JSON so that the runtime never needs to know the
// argument types; handlers decode them with Bind.
type Message struct {
	Namespace  string            `json:"namespace"`
	ServerType string            `json:"serverType"`
	Service    string            `json:"service"`
	Method     string            `json:"method"`
	Args       []json.RawMessage `json:"args"`
}

// New builds a Message, encoding every argument as JSON.
func New(namespace, serverType, service, method string, args ...any) (*Message, error) {
	raw, err := EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("encode args for %s.%s: %w", service, method, err)
	}
	return &Message{
		Namespace:  namespace,
		ServerType: serverType,
		Service:    service,
		Method:     method,
		Args:       raw,
	}, nil
}

// Arg returns the i-th argument, if present.
func (m *Message) Arg(i int) (json.RawMessage, bool) {
	if m == nil || i < 0 || i >= len(m.Args) {
		return nil, false
	}
	return m.Args[i], true
}

// String returns "namespace.service.method", used in logs.
func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.Namespace + "." + m.Service + "." + m.Method
}

// EncodeArgs marshals each value into its own raw JSON slot.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		raw = append(raw, b)
	}
	return raw, nil
}

// Bind decodes positional raw arguments into dst. Missing arguments leave the
// corresponding destination untouched.
func Bind(raw []json.RawMessage, dst ...any) error {
	for i, d := range dst {
		if i >= len(raw) || d == nil {
			continue
		}
		if err := json.Unmarshal(raw[i], d); err != nil {
			return fmt.Errorf("bind arg %d: %w", i, err)
		}
	}
	return nil
}
