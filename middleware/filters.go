package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limit exceeded")

type loggingFilter struct {
	log *zap.Logger
}

// LoggingFilter logs every call on the way out and its reply on the way back.
func LoggingFilter(log *zap.Logger) Filter {
	if log == nil {
		log = zap.L().Named("rpc")
	}
	return &loggingFilter{log: log}
}

func (f *loggingFilter) Before(_ context.Context, c Call) (Call, error) {
	f.log.Debug("rpc call", zap.String("server_id", c.ServerID), zap.Stringer("route", c.Msg))
	return c, nil
}

func (f *loggingFilter) After(_ context.Context, c Call) (Call, error) {
	if err := c.Resp.Err(); err != nil {
		f.log.Info("rpc reply carries error",
			zap.String("server_id", c.ServerID),
			zap.Stringer("route", c.Msg),
			zap.Error(err))
		return c, nil
	}
	f.log.Debug("rpc reply", zap.String("server_id", c.ServerID), zap.Stringer("route", c.Msg))
	return c, nil
}

// RateLimitFilter vetoes calls beyond r per second with bursts of burst,
// using a token bucket shared by every call through the filter.
func RateLimitFilter(r float64, burst int) BeforeFilter {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return BeforeFunc(func(_ context.Context, c Call) (Call, error) {
		if !limiter.Allow() {
			return c, ErrRateLimited
		}
		return c, nil
	})
}

// TimeoutFilter gives calls without an explicit timeout the given one.
func TimeoutFilter(timeout time.Duration) BeforeFilter {
	return BeforeFunc(func(_ context.Context, c Call) (Call, error) {
		if c.Opts.Timeout == 0 {
			c.Opts.Timeout = timeout
		}
		return c, nil
	})
}
