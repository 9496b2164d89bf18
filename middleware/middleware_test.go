package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailrpc/message"
	"mailrpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echoHandler(_ context.Context, msg *message.Message) ([]any, error) {
	return []any{msg.Method}, nil
}

func slowHandler(ctx context.Context, msg *message.Message) ([]any, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return []any{"ok"}, nil
}

func newMsg(t *testing.T) *message.Message {
	t.Helper()
	msg, err := message.New("user", "area", "arith", "add", 1, 2)
	require.NoError(t, err)
	return msg
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	res, err := handler(context.Background(), newMsg(t))
	require.NoError(t, err)
	assert.Equal(t, []any{"add"}, res)

	failing := LoggingMiddleware(zap.New(core))(func(context.Context, *message.Message) ([]any, error) {
		return nil, errors.New("boom")
	})
	_, err = failing(context.Background(), newMsg(t))
	assert.EqualError(t, err, "boom")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "handler failed", logs.All()[1].Message)
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)
	_, err := handler(context.Background(), newMsg(t))
	assert.NoError(t, err)
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)
	_, err := handler(context.Background(), newMsg(t))
	assert.ErrorIs(t, err, ErrHandlerTimeout)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		_, err := handler(context.Background(), newMsg(t))
		require.NoError(t, err, "request %d", i)
	}
	_, err := handler(context.Background(), newMsg(t))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, msg *message.Message) ([]any, error) {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	handler := Chain(mark("outer"), mark("inner"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)

	_, err := handler(context.Background(), newMsg(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRunBeforeRewritesInOrder(t *testing.T) {
	var seen []string
	filters := []BeforeFilter{
		BeforeFunc(func(_ context.Context, c Call) (Call, error) {
			seen = append(seen, "first:"+c.ServerID)
			c.ServerID = "area-2"
			return c, nil
		}),
		BeforeFunc(func(_ context.Context, c Call) (Call, error) {
			seen = append(seen, "second:"+c.ServerID)
			return c, nil
		}),
	}

	out, err := RunBefore(context.Background(), filters, Call{ServerID: "area-1", Msg: newMsg(t)})
	require.NoError(t, err)
	assert.Equal(t, "area-2", out.ServerID)
	assert.Equal(t, []string{"first:area-1", "second:area-2"}, seen)
}

func TestRunBeforeShortCircuits(t *testing.T) {
	veto := errors.New("veto")
	ran := false
	filters := []BeforeFilter{
		BeforeFunc(func(_ context.Context, c Call) (Call, error) { return c, veto }),
		BeforeFunc(func(_ context.Context, c Call) (Call, error) {
			ran = true
			return c, nil
		}),
	}

	_, err := RunBefore(context.Background(), filters, Call{ServerID: "area-1"})
	assert.ErrorIs(t, err, veto)
	assert.False(t, ran)
}

func TestRunAfterStopsAtError(t *testing.T) {
	calls := 0
	filters := []AfterFilter{
		AfterFunc(func(_ context.Context, c Call) (Call, error) {
			calls++
			return c, errors.New("after failed")
		}),
		AfterFunc(func(_ context.Context, c Call) (Call, error) {
			calls++
			return c, nil
		}),
	}
	_, err := RunAfter(context.Background(), filters, Call{})
	assert.EqualError(t, err, "after failed")
	assert.Equal(t, 1, calls)
}

func TestRateLimitFilter(t *testing.T) {
	f := RateLimitFilter(1, 1)
	_, err := f.Before(context.Background(), Call{})
	require.NoError(t, err)
	_, err = f.Before(context.Background(), Call{})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestTimeoutFilterKeepsExplicitTimeout(t *testing.T) {
	f := TimeoutFilter(time.Second)

	c, err := f.Before(context.Background(), Call{})
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Opts.Timeout)

	c, err = f.Before(context.Background(), Call{Opts: transport.CallOptions{Timeout: time.Minute}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.Opts.Timeout)
}

func TestLoggingFilter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := LoggingFilter(zap.New(core))

	c := Call{ServerID: "area-1", Msg: newMsg(t)}
	_, err := f.Before(context.Background(), c)
	require.NoError(t, err)

	resp, err := message.EncodeResults(errors.New("nope"))
	require.NoError(t, err)
	c.Resp = resp
	_, err = f.After(context.Background(), c)
	require.NoError(t, err)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "rpc reply carries error", logs.All()[1].Message)
}

func TestRetry(t *testing.T) {
	transient := errors.New("transient")
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(err error) bool { return errors.Is(err, transient) }, func() error {
		attempts++
		if attempts < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := Retry(context.Background(), 5, time.Millisecond, func(error) bool { return false }, func() error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Second, nil, func() error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
}
