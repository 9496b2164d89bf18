package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mailrpc/codec"
	"mailrpc/message"
)

var (
	ErrAlreadyListening = errors.New("acceptor already listening")
	ErrAcceptorClosed   = errors.New("acceptor closed")
	errEmptyMessage     = errors.New("request carries no message")
)

// Respond sends the results of a call back to its caller. Error values are
// converted to message.WireError. Only the first call has an effect.
type Respond func(args ...any)

// Handler serves one request. ctx carries the caller's trace, if any.
type Handler func(ctx context.Context, msg *message.Message, respond Respond)

// Acceptor is the server end: it accepts mailbox connections and feeds every
// request to a Handler.
type Acceptor interface {
	Listen(addr string) error
	Addr() net.Addr
	Close() error
	// Closed is closed once Close has released the listener and every
	// connection.
	Closed() <-chan struct{}
}

// AcceptorFactory creates acceptors; the gateway calls it once.
type AcceptorFactory func(opts AcceptorOptions, h Handler) (Acceptor, error)

// DefaultAcceptorFactory creates socket acceptors.
var DefaultAcceptorFactory AcceptorFactory = func(opts AcceptorOptions, h Handler) (Acceptor, error) {
	return NewAcceptor(opts, h)
}

type socket struct {
	id    uint64
	conn  Conn
	mu    sync.Mutex
	queue []*message.Response
}

// SocketAcceptor is the Acceptor over a Listener.
type SocketAcceptor struct {
	opts      AcceptorOptions
	handler   Handler
	framer    *codec.Framer
	whitelist []*regexp.Regexp
	log       *zap.Logger

	mu      sync.Mutex
	ln      Listener
	sockets map[uint64]*socket
	gid     uint64

	stopping  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAcceptor validates the options; a whitelist entry that is not a valid
// regular expression is an error.
func NewAcceptor(opts AcceptorOptions, h Handler) (*SocketAcceptor, error) {
	if h == nil {
		return nil, errors.New("acceptor: nil handler")
	}
	opts = opts.withDefaults()

	whitelist := make([]*regexp.Regexp, 0, len(opts.Whitelist))
	for _, expr := range opts.Whitelist {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("acceptor whitelist %q: %w", expr, err)
		}
		whitelist = append(whitelist, re)
	}

	var zip *codec.Compressor
	if opts.UseZipCompress {
		zip = codec.NewCompressor(opts.DoZipLength)
	}
	return &SocketAcceptor{
		opts:      opts,
		handler:   h,
		framer:    codec.NewFramer(&codec.JSONCodec{}, zip),
		whitelist: whitelist,
		log:       opts.Logger.Named("acceptor"),
		sockets:   make(map[uint64]*socket),
		stopping:  make(chan struct{}),
		closed:    make(chan struct{}),
	}, nil
}

// Listen binds addr and serves connections in the background.
func (a *SocketAcceptor) Listen(addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.stopping:
		return ErrAcceptorClosed
	default:
	}
	if a.ln != nil {
		return ErrAlreadyListening
	}

	ln, err := Listen(a.opts.Network, addr)
	if err != nil {
		return err
	}
	a.ln = ln

	a.wg.Add(1)
	go a.acceptLoop(ln)
	if a.opts.BufferMsg {
		a.wg.Add(1)
		go a.flushLoop()
	}
	a.log.Info("listening", zap.String("network", a.opts.Network), zap.Stringer("addr", ln.Addr()))
	return nil
}

func (a *SocketAcceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

func (a *SocketAcceptor) Closed() <-chan struct{} {
	return a.closed
}

func (a *SocketAcceptor) acceptLoop(ln Listener) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.stopping:
			default:
				a.log.Error("accept failed", zap.Error(err))
			}
			return
		}

		a.mu.Lock()
		select {
		case <-a.stopping:
			a.mu.Unlock()
			conn.Close()
			return
		default:
		}
		a.gid++
		s := &socket{id: a.gid, conn: conn}
		a.sockets[s.id] = s
		a.mu.Unlock()

		if !a.allowed(conn.RemoteAddr()) {
			a.log.Warn("connection rejected by whitelist", zap.Stringer("remote", conn.RemoteAddr()))
			a.drop(s)
			continue
		}

		a.wg.Add(1)
		go a.serve(s)
	}
}

func (a *SocketAcceptor) allowed(addr net.Addr) bool {
	if len(a.whitelist) == 0 || addr == nil {
		return true
	}
	ip := addr.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	for _, re := range a.whitelist {
		if re.MatchString(ip) {
			return true
		}
	}
	return false
}

func (a *SocketAcceptor) drop(s *socket) {
	a.mu.Lock()
	delete(a.sockets, s.id)
	a.mu.Unlock()
	s.conn.Close()
}

// serve reads payloads until the connection breaks. A malformed payload is
// logged and skipped; the connection stays open.
func (a *SocketAcceptor) serve(s *socket) {
	defer a.wg.Done()
	defer a.drop(s)

	for {
		binary, data, err := s.conn.ReadMessage()
		if err != nil {
			a.log.Debug("connection closed", zap.Uint64("socket", s.id), zap.Error(err))
			return
		}
		reqs, err := a.framer.UnmarshalRequests(data, binary)
		if err != nil {
			a.log.Error("drop malformed request", zap.Uint64("socket", s.id), zap.Error(err), zap.Int("len", len(data)))
			continue
		}
		for _, req := range reqs {
			go a.process(s, req)
		}
	}
}

func (a *SocketAcceptor) process(s *socket, req *message.Request) {
	ctx := context.Background()
	tr, traced := req.Trace()
	if traced {
		ctx = message.WithTrace(ctx, tr)
	}

	var once sync.Once
	respond := func(args ...any) {
		once.Do(func() {
			resp := &message.Response{ID: req.ID}
			if traced {
				resp.TraceID, resp.SeqID, resp.Source = tr.ID, tr.Seq, tr.Source
			}
			raw, err := message.EncodeResults(args...)
			if err != nil {
				a.log.Error("encode results", zap.Uint64("request_id", req.ID), zap.Error(err))
				raw, _ = message.EncodeResults(err)
			}
			resp.Resp = raw
			a.reply(s, resp)
		})
	}

	if req.Msg == nil {
		respond(errEmptyMessage)
		return
	}
	a.handler(ctx, req.Msg, respond)
}

func (a *SocketAcceptor) reply(s *socket, resp *message.Response) {
	if a.opts.BufferMsg {
		s.mu.Lock()
		s.queue = append(s.queue, resp)
		s.mu.Unlock()
		return
	}
	a.send(s, resp)
}

func (a *SocketAcceptor) send(s *socket, body any) {
	data, binary, err := a.framer.Marshal(body)
	if err != nil {
		a.log.Error("encode response", zap.Uint64("socket", s.id), zap.Error(err))
		return
	}
	if err := s.conn.WriteMessage(binary, data); err != nil {
		a.log.Warn("write response", zap.Uint64("socket", s.id), zap.Error(err))
	}
}

func (a *SocketAcceptor) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopping:
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

func (a *SocketAcceptor) flush() {
	a.mu.Lock()
	sockets := make([]*socket, 0, len(a.sockets))
	for _, s := range a.sockets {
		sockets = append(sockets, s)
	}
	a.mu.Unlock()

	for _, s := range sockets {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		if len(batch) > 0 {
			a.send(s, batch)
		}
	}
}

// Close stops the listener, closes every connection and waits for the
// connection goroutines to exit. Handlers still running are not waited for;
// their responses are dropped. Closed fires only after all of that, so the
// address is free again by then.
func (a *SocketAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		close(a.stopping)
		ln := a.ln
		sockets := a.sockets
		a.sockets = make(map[uint64]*socket)
		a.mu.Unlock()

		if ln != nil {
			err = ln.Close()
		}
		for _, s := range sockets {
			if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		a.wg.Wait()
		close(a.closed)
		a.log.Info("acceptor closed")
	})
	return err
}
