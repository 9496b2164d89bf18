package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailrpc/message"
	"mailrpc/middleware"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

var errDivByZero = errors.New("divide by zero")

func arithServices() Services {
	return Services{
		"user": Namespace{
			"arith": Service{
				"add": Func(func(_ context.Context, args AddArgs) (int, error) {
					return args.A + args.B, nil
				}),
				"div": Func(func(_ context.Context, args AddArgs) (int, error) {
					if args.B == 0 {
						return 0, errDivByZero
					}
					return args.A / args.B, nil
				}),
				"echo": func(_ context.Context, msg *message.Message) ([]any, error) {
					out := make([]any, len(msg.Args))
					for i, a := range msg.Args {
						out[i] = a
					}
					return out, nil
				},
			},
		},
	}
}

func newMsg(t *testing.T, namespace, service, method string, args ...any) *message.Message {
	t.Helper()
	msg, err := message.New(namespace, "area", service, method, args...)
	require.NoError(t, err)
	return msg
}

func TestDispatchFunc(t *testing.T) {
	d := NewDispatcher(arithServices(), zap.NewNop())

	results, err := d.Dispatch(context.Background(), newMsg(t, "user", "arith", "add", AddArgs{A: 2, B: 3}))
	require.NoError(t, err)
	assert.Equal(t, []any{5}, results)

	_, err = d.Dispatch(context.Background(), newMsg(t, "user", "arith", "div", AddArgs{A: 1}))
	assert.ErrorIs(t, err, errDivByZero)
}

func TestDispatchUnknownRoute(t *testing.T) {
	d := NewDispatcher(arithServices(), zap.NewNop())
	ctx := context.Background()

	_, err := d.Dispatch(ctx, newMsg(t, "sys", "arith", "add"))
	assert.ErrorIs(t, err, ErrNoSuchNamespace)
	assert.EqualError(t, err, "no such namespace: sys")

	_, err = d.Dispatch(ctx, newMsg(t, "user", "chat", "add"))
	assert.ErrorIs(t, err, ErrNoSuchService)

	_, err = d.Dispatch(ctx, newMsg(t, "user", "arith", "mul"))
	assert.ErrorIs(t, err, ErrNoSuchMethod)
}

func TestFuncRejectsBadArgument(t *testing.T) {
	d := NewDispatcher(arithServices(), zap.NewNop())
	_, err := d.Dispatch(context.Background(), newMsg(t, "user", "arith", "add", "not an object"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode argument")
}

func TestReload(t *testing.T) {
	d := NewDispatcher(arithServices(), zap.NewNop())
	msg := newMsg(t, "user", "arith", "mul", AddArgs{A: 2, B: 4})

	_, err := d.Dispatch(context.Background(), msg)
	require.ErrorIs(t, err, ErrNoSuchMethod)

	services := arithServices()
	services["user"]["arith"]["mul"] = Func(func(_ context.Context, args AddArgs) (int, error) {
		return args.A * args.B, nil
	})
	d.Reload(services)

	results, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []any{8}, results)
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next middleware.HandlerFunc) middleware.HandlerFunc {
			return func(ctx context.Context, msg *message.Message) ([]any, error) {
				order = append(order, name+".before")
				res, err := next(ctx, msg)
				order = append(order, name+".after")
				return res, err
			}
		}
	}
	d := NewDispatcher(arithServices(), zap.NewNop(), mark("a"), mark("b"))

	_, err := d.Dispatch(context.Background(), newMsg(t, "user", "arith", "add", AddArgs{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.before", "b.before", "b.after", "a.after"}, order)
}

func TestServeSlotLayout(t *testing.T) {
	d := NewDispatcher(arithServices(), zap.NewNop())

	var got []any
	respond := func(args ...any) { got = args }

	d.Serve(context.Background(), newMsg(t, "user", "arith", "echo", "x", 1), respond)
	require.Len(t, got, 3)
	assert.Nil(t, got[0])
	assert.Equal(t, json.RawMessage(`"x"`), got[1])

	d.Serve(context.Background(), newMsg(t, "user", "arith", "div", AddArgs{A: 1}), respond)
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].(error), errDivByZero)

	raw, err := message.EncodeResults(got...)
	require.NoError(t, err)
	var we *message.WireError
	require.ErrorAs(t, message.Reply(raw).Err(), &we)
	assert.Equal(t, "divide by zero", we.Msg)
}
