package loadbalance

import (
	"context"
	"hash/crc32"

	"mailrpc/message"
)

// RouteContext lets a Router see the current registry.
type RouteContext interface {
	ServersByType(serverType string) []string
}

// Router chooses the target server id for msg. routeParam is whatever the
// caller passed to the client (typically a session).
type Router interface {
	Route(ctx context.Context, routeParam any, msg *message.Message, rc RouteContext) (string, error)
}

// RouterFunc adapts an ordinary function to Router.
type RouterFunc func(ctx context.Context, routeParam any, msg *message.Message, rc RouteContext) (string, error)

func (f RouterFunc) Route(ctx context.Context, routeParam any, msg *message.Message, rc RouteContext) (string, error) {
	return f(ctx, routeParam, msg, rc)
}

// Session is the minimal view of a user session DefaultRoute needs.
type Session interface {
	UID() string
}

// DefaultRoute sends every call of a user to the same server of the target
// type: crc32(uid) modulo the number of servers, in registration order.
var DefaultRoute RouterFunc = func(_ context.Context, routeParam any, msg *message.Message, rc RouteContext) (string, error) {
	ids := rc.ServersByType(msg.ServerType)
	if len(ids) == 0 {
		return "", noServers(msg.ServerType)
	}
	var uid string // calls without a session all land on the same server
	switch p := routeParam.(type) {
	case Session:
		uid = p.UID()
	case string:
		uid = p
	}
	return ids[crc32.ChecksumIEEE([]byte(uid))%uint32(len(ids))], nil
}

// BalancerRouter routes through a built-in strategy, ignoring routeParam.
func BalancerRouter(b Balancer, src ServerSource) Router {
	return RouterFunc(func(_ context.Context, _ any, msg *message.Message, _ RouteContext) (string, error) {
		return b.Pick(src, msg.ServerType, msg)
	})
}
