package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// wsConn sends compressed payloads as binary messages and plain ones as text.
// Pings are websocket control frames; gorilla answers them on its own.
type wsConn struct {
	conn    *websocket.Conn
	sending sync.Mutex // gorilla allows one concurrent writer
}

func dialWS(ctx context.Context, addr string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/", nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

func (c *wsConn) ReadMessage() (bool, []byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return false, nil, err
	}
	return mt == websocket.BinaryMessage, data, nil
}

func (c *wsConn) WriteMessage(binary bool, data []byte) error {
	mt := websocket.TextMessage
	if binary {
		mt = websocket.BinaryMessage
	}
	c.sending.Lock()
	defer c.sending.Unlock()
	return c.conn.WriteMessage(mt, data)
}

// Ping uses WriteControl, which is safe to call concurrently with writes.
func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) SetPongHandler(h func()) {
	if h == nil {
		c.conn.SetPongHandler(nil)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		h()
		return nil
	})
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// wsListener upgrades every HTTP request on the port and queues the resulting
// connection for Accept.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	conns    chan Conn
	done     chan struct{}
	once     sync.Once
}

func listenWS(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &wsListener{
		ln:    ln,
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
	l.srv = &http.Server{Handler: http.HandlerFunc(l.upgrade)}
	go func() {
		_ = l.srv.Serve(ln)
	}()
	return l, nil
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied with an HTTP error
	}
	select {
	case l.conns <- &wsConn{conn: c}:
	case <-l.done:
		c.Close()
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops accepting. Upgraded connections are hijacked from the HTTP
// server and stay open until their owner closes them.
func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	})
	return err
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }
