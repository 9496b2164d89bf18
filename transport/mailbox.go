package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"mailrpc/codec"
	"mailrpc/message"
	"mailrpc/registry"
)

var (
	ErrTimeout          = errors.New("rpc callback timeout")
	ErrDisconnected     = errors.New("disconnect with remote server")
	ErrNotConnected     = errors.New("mailbox not connected")
	ErrMailboxClosed    = errors.New("mailbox already closed")
	ErrAlreadyConnected = errors.New("mailbox has already connected")
)

// Callback receives the outcome of one call exactly once. err is a transport
// failure; an error returned by the remote handler travels inside resp
// (see message.Reply.Err).
type Callback func(err error, resp message.Reply)

// Mailbox is the client end of a connection to one remote server.
type Mailbox interface {
	ServerID() string
	Connect(ctx context.Context) error
	// Send never blocks on the network when batching; cb may run on another
	// goroutine.
	Send(ctx context.Context, msg *message.Message, opts CallOptions, cb Callback)
	// Close fails every in-flight call with ErrDisconnected. It is idempotent.
	Close() error
	// Done is closed once the mailbox is closed, locally or by the peer.
	Done() <-chan struct{}
}

// Factory creates mailboxes; the station calls it on first use of a server.
type Factory interface {
	Create(server registry.ServerInfo, opts MailboxOptions) Mailbox
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(server registry.ServerInfo, opts MailboxOptions) Mailbox

func (f FactoryFunc) Create(server registry.ServerInfo, opts MailboxOptions) Mailbox {
	return f(server, opts)
}

// DefaultFactory creates socket mailboxes.
var DefaultFactory Factory = FactoryFunc(func(server registry.ServerInfo, opts MailboxOptions) Mailbox {
	return NewMailbox(server, opts)
})

type inflight struct {
	cb    Callback
	timer *time.Timer
}

// SocketMailbox is the Mailbox over a Conn.
type SocketMailbox struct {
	server registry.ServerInfo
	opts   MailboxOptions
	framer *codec.Framer
	log    *zap.Logger

	mu        sync.Mutex
	conn      Conn
	dialing   bool
	connected bool
	closed    bool
	curID     uint64
	requests  map[uint64]*inflight
	queue     []*message.Request
	lastPing  time.Time
	lastPong  time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewMailbox(server registry.ServerInfo, opts MailboxOptions) *SocketMailbox {
	opts = opts.withDefaults()
	var zip *codec.Compressor
	if opts.UseZipCompress {
		zip = codec.NewCompressor(opts.DoZipLength)
	}
	return &SocketMailbox{
		server:   server,
		opts:     opts,
		framer:   codec.NewFramer(&codec.JSONCodec{}, zip),
		log:      opts.Logger.Named("mailbox").With(zap.String("server_id", server.ID), zap.String("remote", server.Addr())),
		requests: make(map[uint64]*inflight),
		done:     make(chan struct{}),
	}
}

func (m *SocketMailbox) ServerID() string {
	return m.server.ID
}

func (m *SocketMailbox) Done() <-chan struct{} {
	return m.done
}

// Connect dials the server and starts the read, flush and keepalive loops.
func (m *SocketMailbox) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrMailboxClosed
	case m.connected, m.dialing:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.dialing = true
	m.mu.Unlock()

	conn, err := Dial(ctx, m.opts.Network, m.server.Addr())
	if err != nil {
		m.log.Warn("connect failed", zap.Error(err))
		m.Close()
		return fmt.Errorf("connect %s: %w", m.server.Addr(), err)
	}

	m.mu.Lock()
	m.dialing = false
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrMailboxClosed
	}
	m.conn = conn
	m.connected = true
	m.mu.Unlock()

	conn.SetPongHandler(m.onPong)
	go m.readLoop(conn)
	if m.opts.BufferMsg {
		go m.flushLoop()
	}
	go m.keepAliveLoop()

	m.log.Debug("connected")
	return nil
}

// Send assigns the next request id, arms the timeout and writes (or queues)
// the request.
func (m *SocketMailbox) Send(ctx context.Context, msg *message.Message, opts CallOptions, cb Callback) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cb(ErrMailboxClosed, nil)
		return
	}
	if !m.connected {
		m.mu.Unlock()
		cb(ErrNotConnected, nil)
		return
	}

	m.curID++
	id := m.curID
	req := &message.Request{ID: id, Msg: msg}
	if m.opts.TraceEnabled {
		tr, ok := message.TraceFrom(ctx)
		if !ok {
			tr = message.NewTrace(m.opts.ClientID, m.server.ID)
		}
		req.TraceID, req.SeqID, req.Source, req.Remote = tr.ID, tr.Seq, tr.Source, tr.Remote
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.opts.Timeout
	}
	m.requests[id] = &inflight{
		cb:    cb,
		timer: time.AfterFunc(timeout, func() { m.expire(id) }),
	}

	if m.opts.BufferMsg {
		m.queue = append(m.queue, req)
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	m.write(conn, req, id)
}

func (m *SocketMailbox) write(conn Conn, body any, ids ...uint64) {
	data, binary, err := m.framer.Marshal(body)
	if err == nil {
		err = conn.WriteMessage(binary, data)
	}
	if err != nil {
		m.log.Warn("send failed", zap.Uint64s("request_ids", ids), zap.Error(err))
		for _, id := range ids {
			m.finish(id, fmt.Errorf("send: %w", err), nil)
		}
	}
}

// finish delivers the outcome of id. Whoever removes the id from the map first
// (response, timeout, write failure or close) is the only one to call back.
func (m *SocketMailbox) finish(id uint64, err error, resp message.Reply) bool {
	m.mu.Lock()
	req, ok := m.requests[id]
	if ok {
		delete(m.requests, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	req.timer.Stop()
	req.cb(err, resp)
	return true
}

func (m *SocketMailbox) expire(id uint64) {
	if m.finish(id, ErrTimeout, nil) {
		m.log.Warn("rpc request timeout", zap.Uint64("request_id", id))
	}
}

func (m *SocketMailbox) readLoop(conn Conn) {
	for {
		binary, data, err := conn.ReadMessage()
		if err != nil {
			m.log.Debug("connection lost", zap.Error(err))
			m.Close()
			return
		}
		resps, err := m.framer.UnmarshalResponses(data, binary)
		if err != nil {
			m.log.Error("drop malformed response", zap.Error(err), zap.Int("len", len(data)))
			continue
		}
		for _, resp := range resps {
			if !m.finish(resp.ID, nil, message.Reply(resp.Resp)) {
				m.log.Debug("late or unknown response", zap.Uint64("request_id", resp.ID))
			}
		}
	}
}

func (m *SocketMailbox) flushLoop() {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

func (m *SocketMailbox) flush() {
	m.mu.Lock()
	if m.closed || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	batch := m.queue
	m.queue = nil
	conn := m.conn
	m.mu.Unlock()

	ids := make([]uint64, len(batch))
	for i, req := range batch {
		ids[i] = req.ID
	}
	m.write(conn, batch, ids...)
}

func (m *SocketMailbox) keepAliveLoop() {
	ticker := time.NewTicker(m.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.checkKeepAlive(time.Now())
		}
	}
}

// checkKeepAlive sends a ping only once the previous one has been answered.
// An answer that has not arrived KeepAliveTimeout after its ping closes the
// mailbox.
func (m *SocketMailbox) checkKeepAlive(now time.Time) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.lastPing.IsZero() && m.lastPong.Before(m.lastPing) {
		expired := now.Sub(m.lastPing) > m.opts.KeepAliveTimeout
		m.mu.Unlock()
		if expired {
			m.log.Error("keepalive timeout, closing mailbox")
			m.Close()
		}
		return
	}
	m.lastPing = now
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Ping(); err != nil {
		m.log.Debug("ping failed", zap.Error(err))
	}
}

func (m *SocketMailbox) onPong() {
	m.mu.Lock()
	m.lastPong = time.Now()
	m.mu.Unlock()
}

func (m *SocketMailbox) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		conn := m.conn
		pending := m.requests
		m.requests = make(map[uint64]*inflight)
		m.queue = nil
		m.mu.Unlock()

		close(m.done)
		if conn != nil {
			err = conn.Close()
		}

		ids := make([]uint64, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			req := pending[id]
			req.timer.Stop()
			req.cb(ErrDisconnected, nil)
		}
		m.log.Debug("mailbox closed", zap.Int("failed_requests", len(ids)))
	})
	return err
}
