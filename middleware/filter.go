package middleware

import (
	"context"

	"mailrpc/message"
	"mailrpc/transport"
)

// Call is what a client filter sees and may rewrite: the target server, the
// message and the per-call options. Resp is only set for after filters.
type Call struct {
	ServerID string
	Msg      *message.Message
	Opts     transport.CallOptions
	Resp     message.Reply
}

// BeforeFilter runs before a call is sent. Returning an error vetoes the call
// and skips the remaining filters; the returned Call is what the next filter
// (and finally the mailbox) receives.
type BeforeFilter interface {
	Before(ctx context.Context, c Call) (Call, error)
}

// AfterFilter runs once a response has arrived.
type AfterFilter interface {
	After(ctx context.Context, c Call) (Call, error)
}

// Filter is a filter taking part in both chains.
type Filter interface {
	BeforeFilter
	AfterFilter
}

// BeforeFunc adapts a function to BeforeFilter.
type BeforeFunc func(ctx context.Context, c Call) (Call, error)

func (f BeforeFunc) Before(ctx context.Context, c Call) (Call, error) { return f(ctx, c) }

// AfterFunc adapts a function to AfterFilter.
type AfterFunc func(ctx context.Context, c Call) (Call, error)

func (f AfterFunc) After(ctx context.Context, c Call) (Call, error) { return f(ctx, c) }

// RunBefore runs filters in order. On error it returns the call as the failing
// filter received it.
func RunBefore(ctx context.Context, filters []BeforeFilter, c Call) (Call, error) {
	for _, f := range filters {
		next, err := f.Before(ctx, c)
		if err != nil {
			return c, err
		}
		c = next
	}
	return c, nil
}

// RunAfter runs filters in order, stopping at the first error.
func RunAfter(ctx context.Context, filters []AfterFilter, c Call) (Call, error) {
	for _, f := range filters {
		next, err := f.After(ctx, c)
		if err != nil {
			return c, err
		}
		c = next
	}
	return c, nil
}
