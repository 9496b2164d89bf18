// Package middleware holds the two interception points of a call.
//
// On the client, filters wrap every dispatched call (see Call, BeforeFilter
// and AfterFilter). On the server, middleware wraps the handler that the
// dispatcher resolved for an incoming message.
package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailrpc/message"
)

var ErrHandlerTimeout = errors.New("request timed out")

// HandlerFunc serves one message and returns the result values sent back to
// the caller after the error slot.
type HandlerFunc func(ctx context.Context, msg *message.Message) ([]any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// LoggingMiddleware logs the route, the duration and the error of every call.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.L().Named("handler")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Message) ([]any, error) {
			start := time.Now()
			results, err := next(ctx, msg)
			fields := []zap.Field{zap.Stringer("route", msg), zap.Duration("duration", time.Since(start))}
			if tr, ok := message.TraceFrom(ctx); ok {
				fields = append(fields, zap.String("trace_id", tr.ID), zap.String("source", tr.Source))
			}
			if err != nil {
				log.Warn("handler failed", append(fields, zap.Error(err))...)
				return results, err
			}
			log.Debug("handled", fields...)
			return results, nil
		}
	}
}

// RateLimitMiddleware rejects calls beyond r per second with bursts of burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Message) ([]any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, msg)
		}
	}
}

// TimeOutMiddleware answers with ErrHandlerTimeout when the handler does not
// return within timeout. The handler keeps running with a cancelled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Message) ([]any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				values []any
				err    error
			}
			done := make(chan result, 1)
			go func() {
				values, err := next(ctx, msg)
				done <- result{values, err}
			}()

			select {
			case r := <-done:
				return r.values, r.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
