// Package transport carries request and response frames between a client
// mailbox and a server acceptor.
//
// A Mailbox owns one persistent connection to one remote server and
// multiplexes every call to that server over it. Each request gets a unique
// id; a background goroutine (readLoop) reads responses and hands each one to
// the callback registered under the same id.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ single conn ──→ Acceptor
//	goroutine-3 ──Send(id=3)──┘
//
//	readLoop:  ←── response(id=2) → requests[2].cb
//
// Two networks are supported: "tcp" frames payloads with the protocol package
// header, "ws" sends them as websocket messages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const (
	NetworkTCP = "tcp"
	NetworkWS  = "ws"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Conn is a message-oriented connection. binary marks a compressed payload.
//
// Writes and Ping may be called concurrently with each other and with
// ReadMessage; ReadMessage must only be called from one goroutine. The pong
// handler runs on the reading goroutine.
type Conn interface {
	ReadMessage() (binary bool, data []byte, err error)
	WriteMessage(binary bool, data []byte) error
	Ping() error
	SetPongHandler(h func())
	Close() error
	RemoteAddr() net.Addr
}

// Listener accepts Conns.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Dial connects to addr ("host:port") over network. An empty network means tcp.
func Dial(ctx context.Context, network, addr string) (Conn, error) {
	switch network {
	case "", NetworkTCP:
		return dialTCP(ctx, addr)
	case NetworkWS:
		return dialWS(ctx, addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// Listen starts accepting connections on addr.
func Listen(network, addr string) (Listener, error) {
	switch network {
	case "", NetworkTCP:
		return listenTCP(addr)
	case NetworkWS:
		return listenWS(addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}
