package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WireError is how an error value travels inside a response. A plain Go error
// has no exported fields, so it is flattened to its message and its verbose
// (%+v) rendering to keep it readable on the other side.
type WireError struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

func (e *WireError) Error() string {
	return "remote: " + e.Msg
}

// EncodeResults converts the arguments given to a respond callback into
// response slots. Any error argument becomes a WireError.
func EncodeResults(args ...any) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		if err, ok := a.(error); ok && err != nil {
			a = &WireError{Msg: err.Error(), Stack: fmt.Sprintf("%+v", err)}
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		raw = append(raw, b)
	}
	return raw, nil
}

// Reply is the decoded payload of a Response. By convention slot 0 holds the
// remote error (or null) and the remaining slots hold results.
type Reply []json.RawMessage

var null = []byte("null")

// Err returns the remote error carried in slot 0, or nil.
func (r Reply) Err() error {
	if len(r) == 0 || len(r[0]) == 0 || bytes.Equal(bytes.TrimSpace(r[0]), null) {
		return nil
	}
	var we WireError
	if err := json.Unmarshal(r[0], &we); err != nil || (we.Msg == "" && we.Stack == "") {
		return &WireError{Msg: string(r[0])}
	}
	return &we
}

// Decode returns the remote error if there is one, otherwise unmarshals the
// result slots (1..n) into dst.
func (r Reply) Decode(dst ...any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r) < 2 {
		return nil
	}
	return Bind(r[1:], dst...)
}
