package message

import "encoding/json"

// Request is the outbound frame written by a mailbox.
// Trace fields are only set when tracing is enabled on the mailbox.
type Request struct {
	ID      uint64   `json:"id"`
	Msg     *Message `json:"msg"`
	TraceID string   `json:"traceId,omitempty"`
	SeqID   uint64   `json:"seqId,omitempty"`
	Source  string   `json:"source,omitempty"`
	Remote  string   `json:"remote,omitempty"`
}

// Response is the inbound frame written by an acceptor. ID echoes the
// originating Request.ID.
type Response struct {
	ID      uint64            `json:"id"`
	Resp    []json.RawMessage `json:"resp"`
	TraceID string            `json:"traceId,omitempty"`
	SeqID   uint64            `json:"seqId,omitempty"`
	Source  string            `json:"source,omitempty"`
}

// Trace returns the trace context carried by the request.
func (r *Request) Trace() (Trace, bool) {
	if r.TraceID == "" {
		return Trace{}, false
	}
	return Trace{ID: r.TraceID, Seq: r.SeqID, Source: r.Source, Remote: r.Remote}, true
}
