package client

import (
	"context"
	"fmt"

	"mailrpc/message"
	"mailrpc/transport"
)

// ServiceProxy calls the methods of one remote service:
//
//	area := c.Proxy("user", "area", "arith")
//	reply, err := area.Call(ctx, session, "add", 1, 2)
type ServiceProxy struct {
	c          *Client
	namespace  string
	serverType string
	service    string
}

func (c *Client) Proxy(namespace, serverType, service string) *ServiceProxy {
	return &ServiceProxy{c: c, namespace: namespace, serverType: serverType, service: service}
}

func (p *ServiceProxy) message(method string, args []any) (*message.Message, error) {
	msg, err := message.New(p.namespace, p.serverType, p.service, method, args...)
	if err != nil {
		return nil, fmt.Errorf("proxy %s.%s.%s: %w", p.namespace, p.service, method, err)
	}
	return msg, nil
}

// Invoke routes the call with routeParam and reports to cb.
func (p *ServiceProxy) Invoke(ctx context.Context, routeParam any, method string, cb transport.Callback, args ...any) {
	msg, err := p.message(method, args)
	if err != nil {
		cb(err, nil)
		return
	}
	p.c.Invoke(ctx, routeParam, msg, cb)
}

// Call routes the call with routeParam and waits for the reply.
func (p *ServiceProxy) Call(ctx context.Context, routeParam any, method string, args ...any) (message.Reply, error) {
	msg, err := p.message(method, args)
	if err != nil {
		return nil, err
	}
	return p.c.Call(ctx, routeParam, msg)
}

// ToServer calls serverID directly (or every server with Broadcast) and
// reports each reply to cb.
func (p *ServiceProxy) ToServer(ctx context.Context, serverID, method string, cb transport.Callback, args ...any) {
	msg, err := p.message(method, args)
	if err != nil {
		cb(err, nil)
		return
	}
	p.c.ToServer(ctx, serverID, msg, cb)
}
