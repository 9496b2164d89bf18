package message

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Trace identifies one call across client and server logs.
type Trace struct {
	ID     string
	Seq    uint64
	Source string
	Remote string
}

var traceSeq atomic.Uint64

// NewTrace starts a trace for a call from source to remote.
func NewTrace(source, remote string) Trace {
	return Trace{
		ID:     uuid.NewString(),
		Seq:    traceSeq.Add(1),
		Source: source,
		Remote: remote,
	}
}

type traceKey struct{}

// WithTrace attaches t to ctx.
func WithTrace(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the trace attached to ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	t, ok := ctx.Value(traceKey{}).(Trace)
	return t, ok
}
