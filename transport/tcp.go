package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"mailrpc/protocol"
)

// tcpConn frames messages with the protocol header. Ping frames are answered
// from the read loop; pong frames invoke the pong handler.
type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader

	// Write lock: frames from concurrent writers must not interleave
	// (req A's header + req B's body = corruption).
	sending sync.Mutex
	seq     atomic.Uint32
	onPong  atomic.Pointer[func()]
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{conn: c, r: bufio.NewReader(c)}
}

func dialTCP(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newTCPConn(c), nil
}

func (c *tcpConn) ReadMessage() (bool, []byte, error) {
	for {
		header, body, err := protocol.Decode(c.r)
		if err != nil {
			return false, nil, err
		}
		switch header.MsgType {
		case protocol.MsgTypePing:
			if err := c.write(&protocol.Header{MsgType: protocol.MsgTypePong, Seq: header.Seq}, nil); err != nil {
				return false, nil, fmt.Errorf("answer ping: %w", err)
			}
		case protocol.MsgTypePong:
			if h := c.onPong.Load(); h != nil {
				(*h)()
			}
		default:
			return header.Binary(), body, nil
		}
	}
}

func (c *tcpConn) WriteMessage(binary bool, data []byte) error {
	h := &protocol.Header{MsgType: protocol.MsgTypeData}
	if binary {
		h.Flags |= protocol.FlagBinary
	}
	return c.write(h, data)
}

func (c *tcpConn) Ping() error {
	return c.write(&protocol.Header{MsgType: protocol.MsgTypePing, Seq: c.seq.Add(1)}, nil)
}

func (c *tcpConn) write(h *protocol.Header, body []byte) error {
	c.sending.Lock()
	defer c.sending.Unlock()
	return protocol.Encode(c.conn, h, body)
}

func (c *tcpConn) SetPongHandler(h func()) {
	if h == nil {
		c.onPong.Store(nil)
		return
	}
	c.onPong.Store(&h)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

type tcpListener struct {
	ln net.Listener
}

func listenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newTCPConn(c), nil
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
