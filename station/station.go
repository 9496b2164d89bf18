// Package station is the client-side core: it keeps the server registry,
// owns one mailbox per remote server, queues calls while a mailbox connects
// and runs the before/after filter chains around every call.
//
// Lifecycle of a call to server S:
//
//	no mailbox for S   → create one, queue the call, connect in background
//	S connecting       → queue the call (bounded, FIFO)
//	S connected        → befores → mailbox.Send → afters → callback
//
// A successful connect replays S's queue in order; a failed one fails every
// queued call with FAIL_CONNECT_SERVER. Calls to an id nobody registered are
// reported as NO_TARGET_SERVER and still queued, so they go out once the
// server is added and dispatched to.
package station

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"mailrpc/message"
	"mailrpc/middleware"
	"mailrpc/registry"
	"mailrpc/transport"
)

type state int

const (
	stateInited state = iota + 1
	stateStarted
	stateClosed
)

type pendingCall struct {
	ctx  context.Context
	msg  *message.Message
	opts transport.CallOptions
	cb   transport.Callback
}

type Station struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	state state

	servers map[string]registry.ServerInfo // id -> info
	byType  map[string][]string            // type -> ids, in registration order
	online  map[string]bool

	mailboxes  map[string]transport.Mailbox
	connecting map[string]bool
	pendings   map[string][]*pendingCall

	befores []middleware.BeforeFilter
	afters  []middleware.AfterFilter
}

func New(opts ...Option) *Station {
	o := buildOptions(opts)
	return &Station{
		opts:       o,
		log:        o.Logger.Named("station"),
		state:      stateInited,
		servers:    make(map[string]registry.ServerInfo),
		byType:     make(map[string][]string),
		online:     make(map[string]bool),
		mailboxes:  make(map[string]transport.Mailbox),
		connecting: make(map[string]bool),
		pendings:   make(map[string][]*pendingCall),
	}
}

func (s *Station) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateInited {
		return ErrAlreadyStarted
	}
	s.state = stateStarted
	return nil
}

// Running reports whether the station accepts calls.
func (s *Station) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStarted
}

// Stop refuses new calls. With force every mailbox is closed at once and the
// combined close error returned; otherwise mailboxes are closed after the
// grace timeout so in-flight calls can complete.
func (s *Station) Stop(force bool) error {
	s.mu.Lock()
	if s.state != stateStarted {
		s.mu.Unlock()
		s.log.Warn("station is not running")
		return nil
	}
	s.state = stateClosed
	s.mu.Unlock()

	if force {
		return s.closeAll()
	}
	time.AfterFunc(s.opts.GraceTimeout, func() {
		if err := s.closeAll(); err != nil {
			s.log.Warn("close mailboxes", zap.Error(err))
		}
	})
	return nil
}

// closeAll closes every mailbox and fails every call still queued, in id
// order then queue order.
func (s *Station) closeAll() error {
	s.mu.Lock()
	mailboxes := s.mailboxes
	pendings := s.pendings
	s.mailboxes = make(map[string]transport.Mailbox)
	s.connecting = make(map[string]bool)
	s.pendings = make(map[string][]*pendingCall)
	s.mu.Unlock()

	var err error
	for _, mb := range mailboxes {
		err = multierr.Append(err, mb.Close())
	}

	ids := make([]string, 0, len(pendings))
	for id := range pendings {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		for _, p := range pendings[id] {
			s.fail(p.cb, &Error{Code: CodeServerNotStarted, ServerID: id, Err: errStopped}, p.msg)
		}
	}
	return err
}

// AddServer registers info. Re-adding an id replaces its info in place.
func (s *Station) AddServer(info registry.ServerInfo) {
	if info.ID == "" {
		return
	}
	s.mu.Lock()
	s.addLocked(info)
	s.mu.Unlock()
	s.opts.Hook.OnAddServer(info.ID)
}

func (s *Station) AddServers(infos []registry.ServerInfo) {
	for _, info := range infos {
		s.AddServer(info)
	}
}

func (s *Station) addLocked(info registry.ServerInfo) {
	if old, ok := s.servers[info.ID]; ok && old.ServerType != info.ServerType {
		s.dropFromTypeLocked(old.ServerType, info.ID)
	}
	s.servers[info.ID] = info
	s.online[info.ID] = true
	if !slices.Contains(s.byType[info.ServerType], info.ID) {
		s.byType[info.ServerType] = append(s.byType[info.ServerType], info.ID)
	}
}

func (s *Station) dropFromTypeLocked(serverType, id string) {
	ids := s.byType[serverType]
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(slices.Clone(ids), i, i+1)
	}
	if len(ids) == 0 {
		delete(s.byType, serverType)
		return
	}
	s.byType[serverType] = ids
}

// RemoveServer drops id from the registry, marks it offline and closes its
// mailbox. In-flight calls fail with transport.ErrDisconnected; calls still
// queued for its connection fail with NO_TARGET_SERVER.
func (s *Station) RemoveServer(id string) {
	s.mu.Lock()
	if info, ok := s.servers[id]; ok {
		s.dropFromTypeLocked(info.ServerType, id)
		delete(s.servers, id)
	}
	s.online[id] = false
	mb := s.mailboxes[id]
	delete(s.mailboxes, id)
	delete(s.connecting, id)
	queued := s.pendings[id]
	delete(s.pendings, id)
	s.mu.Unlock()

	if mb != nil {
		mb.Close()
	}
	for _, p := range queued {
		s.fail(p.cb, &Error{Code: CodeNoTargetServer, ServerID: id, Err: errServerRemoved}, p.msg)
	}
	s.opts.Hook.OnRemoveServer(id)
}

func (s *Station) RemoveServers(ids []string) {
	for _, id := range ids {
		s.RemoveServer(id)
	}
}

// ReplaceServers resets the registry to infos, keeping their order. Existing
// mailboxes stay open.
func (s *Station) ReplaceServers(infos []registry.ServerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = make(map[string]registry.ServerInfo, len(infos))
	s.byType = make(map[string][]string)
	s.online = make(map[string]bool, len(infos))
	for _, info := range infos {
		if info.ID != "" {
			s.addLocked(info)
		}
	}
}

// ServerIDs returns the ids of serverType in registration order.
func (s *Station) ServerIDs(serverType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.byType[serverType])
}

// ServersByType is ServerIDs, for custom routers.
func (s *Station) ServersByType(serverType string) []string {
	return s.ServerIDs(serverType)
}

func (s *Station) Server(id string) (registry.ServerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.servers[id]
	return info, ok
}

func (s *Station) Online(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[id]
}

// Before appends before filters; they run in registration order.
func (s *Station) Before(filters ...middleware.BeforeFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.befores = append(s.befores, filters...)
}

// After appends after filters; they run in registration order.
func (s *Station) After(filters ...middleware.AfterFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afters = append(s.afters, filters...)
}

// Filter appends filters to both chains.
func (s *Station) Filter(filters ...middleware.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range filters {
		s.befores = append(s.befores, f)
		s.afters = append(s.afters, f)
	}
}

// Dispatch delivers msg to serverID and reports the outcome to cb exactly
// once, except for calls dropped because the server's pending queue is full.
// A call to an unknown id waits in the queue without a callback until the
// server is added and connected, removed, or the station stops. cb may be nil.
func (s *Station) Dispatch(ctx context.Context, serverID string, msg *message.Message, opts transport.CallOptions, cb transport.Callback) {
	if cb == nil {
		cb = func(error, message.Reply) {}
	}
	s.mu.Lock()
	if s.state != stateStarted {
		s.mu.Unlock()
		s.fail(cb, &Error{Code: CodeServerNotStarted, ServerID: serverID, Err: errNotRunning}, msg)
		return
	}

	if _, ok := s.mailboxes[serverID]; !ok {
		info, known := s.servers[serverID]
		if !known {
			s.enqueueLocked(serverID, &pendingCall{ctx, msg, opts, cb})
			s.mu.Unlock()
			s.opts.Hook.OnError(&Error{Code: CodeNoTargetServer, ServerID: serverID, Err: errUnknownServer}, msg)
			return
		}
		mb := s.opts.Factory.Create(info, s.opts.Mailbox)
		s.mailboxes[serverID] = mb
		s.connecting[serverID] = true
		s.enqueueLocked(serverID, &pendingCall{ctx, msg, opts, cb})
		s.mu.Unlock()

		go s.connect(serverID, mb)
		return
	}

	if s.connecting[serverID] {
		s.enqueueLocked(serverID, &pendingCall{ctx, msg, opts, cb})
		s.mu.Unlock()
		return
	}

	befores, afters := s.befores, s.afters
	s.mu.Unlock()

	s.send(ctx, befores, afters, middleware.Call{ServerID: serverID, Msg: msg, Opts: opts}, cb)
}

func (s *Station) enqueueLocked(serverID string, p *pendingCall) {
	queue := s.pendings[serverID]
	if len(queue) >= s.opts.PendingSize {
		s.log.Warn("pending queue full, dropping call",
			zap.String("server_id", serverID),
			zap.Stringer("route", p.msg),
			zap.Int("pending", len(queue)))
		return
	}
	s.pendings[serverID] = append(queue, p)
}

func (s *Station) send(ctx context.Context, befores []middleware.BeforeFilter, afters []middleware.AfterFilter, call middleware.Call, cb transport.Callback) {
	call, err := middleware.RunBefore(ctx, befores, call)
	if err != nil {
		s.fail(cb, &Error{Code: CodeFilterError, ServerID: call.ServerID, Err: err}, call.Msg)
		return
	}

	s.mu.Lock()
	mb, ok := s.mailboxes[call.ServerID]
	s.mu.Unlock()
	if !ok {
		s.fail(cb, &Error{Code: CodeFailFindMailbox, ServerID: call.ServerID, Err: errNoMailbox}, call.Msg)
		return
	}

	mb.Send(ctx, call.Msg, call.Opts, func(err error, resp message.Reply) {
		if err != nil {
			s.fail(cb, &Error{Code: CodeFailSendMessage, ServerID: call.ServerID, Err: err}, call.Msg)
			return
		}
		call.Resp = resp
		out, err := middleware.RunAfter(ctx, afters, call)
		if err != nil {
			// The call itself succeeded; after-filter errors are only observed.
			s.opts.Hook.OnError(&Error{Code: CodeFilterError, ServerID: call.ServerID, Err: err}, call.Msg)
		}
		cb(nil, out.Resp)
	})
}

func (s *Station) fail(cb transport.Callback, err *Error, msg *message.Message) {
	s.opts.Hook.OnError(err, msg)
	cb(err, nil)
}

func (s *Station) connect(serverID string, mb transport.Mailbox) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	err := mb.Connect(ctx)
	cancel()

	if err != nil {
		s.mu.Lock()
		owned := s.mailboxes[serverID] == mb
		var queued []*pendingCall
		if owned {
			delete(s.mailboxes, serverID)
			delete(s.connecting, serverID)
			queued = s.pendings[serverID]
			delete(s.pendings, serverID)
		}
		s.mu.Unlock()

		mb.Close()
		if !owned {
			// Removed or stopped while connecting; its queue is already settled.
			return
		}
		e := &Error{Code: CodeFailConnectServer, ServerID: serverID, Err: err}
		s.opts.Hook.OnError(e, nil)
		for _, p := range queued {
			p.cb(e, nil)
		}
		return
	}

	s.mu.Lock()
	owned := s.mailboxes[serverID] == mb
	s.mu.Unlock()
	if !owned {
		// Removed or stopped while connecting.
		mb.Close()
		return
	}

	go s.watch(serverID, mb)
	s.flushPending(serverID)
}

// flushPending replays the queue in order. The server stays marked as
// connecting until the queue is empty, so calls dispatched meanwhile queue up
// behind the ones being replayed.
func (s *Station) flushPending(serverID string) {
	for {
		s.mu.Lock()
		queue := s.pendings[serverID]
		delete(s.pendings, serverID)
		if len(queue) == 0 {
			delete(s.connecting, serverID)
			s.mu.Unlock()
			return
		}
		befores, afters := s.befores, s.afters
		s.mu.Unlock()

		for _, p := range queue {
			s.send(p.ctx, befores, afters, middleware.Call{ServerID: serverID, Msg: p.msg, Opts: p.opts}, p.cb)
		}
	}
}

// watch forgets a mailbox once it closes, so the next call reconnects.
func (s *Station) watch(serverID string, mb transport.Mailbox) {
	<-mb.Done()
	s.mu.Lock()
	if s.mailboxes[serverID] == mb {
		delete(s.mailboxes, serverID)
	}
	s.mu.Unlock()
	s.opts.Hook.OnClose(serverID)
}
