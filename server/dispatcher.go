package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mailrpc/message"
	"mailrpc/middleware"
	"mailrpc/transport"
)

var (
	ErrNoSuchNamespace = errors.New("no such namespace")
	ErrNoSuchService   = errors.New("no such service")
	ErrNoSuchMethod    = errors.New("no such method")
)

// Service maps method names to handlers.
type Service map[string]middleware.HandlerFunc

// Namespace maps service names to services.
type Namespace map[string]Service

// Services is the whole dispatch table, keyed by namespace.
type Services map[string]Namespace

// Dispatcher resolves (namespace, service, method) to a handler and runs it
// through the middleware chain. The table can be swapped at runtime with
// Reload.
type Dispatcher struct {
	mu       sync.RWMutex
	services Services
	handler  middleware.HandlerFunc
	log      *zap.Logger
}

func NewDispatcher(services Services, log *zap.Logger, mws ...middleware.Middleware) *Dispatcher {
	if log == nil {
		log = zap.L().Named("dispatcher")
	}
	d := &Dispatcher{services: services, log: log}
	// Built once, not per request.
	d.handler = middleware.Chain(mws...)(d.route)
	return d
}

// Reload replaces the table. Calls already resolved keep their handler.
func (d *Dispatcher) Reload(services Services) {
	d.mu.Lock()
	d.services = services
	d.mu.Unlock()
	d.log.Info("services reloaded", zap.Int("namespaces", len(services)))
}

// Lookup returns the handler for msg without running it.
func (d *Dispatcher) Lookup(msg *message.Message) (middleware.HandlerFunc, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ns, ok := d.services[msg.Namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchNamespace, msg.Namespace)
	}
	svc, ok := ns[msg.Service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchService, msg.Service)
	}
	h, ok := svc[msg.Method]
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMethod, msg.Method)
	}
	return h, nil
}

func (d *Dispatcher) route(ctx context.Context, msg *message.Message) ([]any, error) {
	h, err := d.Lookup(msg)
	if err != nil {
		d.log.Warn("route failed", zap.Stringer("route", msg), zap.Error(err))
		return nil, err
	}
	return h(ctx, msg)
}

// Dispatch runs msg through the middleware chain and its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *message.Message) ([]any, error) {
	return d.handler(ctx, msg)
}

// Serve adapts the dispatcher to an acceptor: the error goes in the first
// response slot, the results after it.
func (d *Dispatcher) Serve(ctx context.Context, msg *message.Message, respond transport.Respond) {
	results, err := d.Dispatch(ctx, msg)
	out := make([]any, 0, len(results)+1)
	if err != nil {
		out = append(out, err)
	} else {
		out = append(out, nil)
	}
	respond(append(out, results...)...)
}

// Func turns a typed function into a handler. The first message argument is
// decoded into A; a missing argument leaves A at its zero value.
func Func[A, R any](fn func(ctx context.Context, arg A) (R, error)) middleware.HandlerFunc {
	return func(ctx context.Context, msg *message.Message) ([]any, error) {
		var arg A
		if err := message.Bind(msg.Args, &arg); err != nil {
			return nil, fmt.Errorf("%s: decode argument: %w", msg, err)
		}
		res, err := fn(ctx, arg)
		if err != nil {
			return nil, err
		}
		return []any{res}, nil
	}
}
