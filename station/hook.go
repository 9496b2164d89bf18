package station

import (
	"go.uber.org/zap"

	"mailrpc/message"
)

// Hook observes the station. Its methods are called without any station lock
// held and must not block.
type Hook interface {
	// OnError sees every failure, including those that also reach a caller's
	// callback. msg is nil for connect failures.
	OnError(err *Error, msg *message.Message)
	OnClose(serverID string)
	OnAddServer(serverID string)
	OnRemoveServer(serverID string)
}

// LogHook is the default Hook: it logs.
type LogHook struct {
	Log *zap.Logger
}

func (h LogHook) OnError(err *Error, msg *message.Message) {
	h.Log.Error("rpc failure",
		zap.String("code", string(err.Code)),
		zap.String("server_id", err.ServerID),
		zap.Stringer("route", msg),
		zap.Error(err.Err))
}

func (h LogHook) OnClose(serverID string) {
	h.Log.Info("mailbox closed", zap.String("server_id", serverID))
}

func (h LogHook) OnAddServer(serverID string) {
	h.Log.Debug("server added", zap.String("server_id", serverID))
}

func (h LogHook) OnRemoveServer(serverID string) {
	h.Log.Debug("server removed", zap.String("server_id", serverID))
}

// HookFuncs builds a Hook from optional functions; nil ones do nothing.
type HookFuncs struct {
	Error        func(err *Error, msg *message.Message)
	Close        func(serverID string)
	AddServer    func(serverID string)
	RemoveServer func(serverID string)
}

func (h HookFuncs) OnError(err *Error, msg *message.Message) {
	if h.Error != nil {
		h.Error(err, msg)
	}
}

func (h HookFuncs) OnClose(serverID string) {
	if h.Close != nil {
		h.Close(serverID)
	}
}

func (h HookFuncs) OnAddServer(serverID string) {
	if h.AddServer != nil {
		h.AddServer(serverID)
	}
}

func (h HookFuncs) OnRemoveServer(serverID string) {
	if h.RemoveServer != nil {
		h.RemoveServer(serverID)
	}
}
