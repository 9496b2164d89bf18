package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRegistry struct {
	initial  []ServerInfo
	updates  chan []ServerInfo
	discover error
}

func (f *fakeRegistry) Register(context.Context, ServerInfo, int64) error { return nil }
func (f *fakeRegistry) Deregister(context.Context, ServerInfo) error { return nil }
func (f *fakeRegistry) Discover(context.Context) ([]ServerInfo, error) {
	return f.initial, f.discover
}
func (f *fakeRegistry) Watch(context.Context) <-chan []ServerInfo { return f.updates }

type recordingMembership struct {
	mu        sync.Mutex
	snapshots [][]ServerInfo
}

func (m *recordingMembership) ReplaceServers(servers []ServerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, servers)
}

func (m *recordingMembership) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func TestSyncPushesSnapshots(t *testing.T) {
	a := ServerInfo{ID: "a", ServerType: "chat"}
	b := ServerInfo{ID: "b", ServerType: "chat"}
	reg := &fakeRegistry{initial: []ServerInfo{a}, updates: make(chan []ServerInfo)}
	m := &recordingMembership{}

	done := make(chan error, 1)
	go func() { done <- Sync(context.Background(), reg, m, zap.NewNop()) }()

	reg.updates <- []ServerInfo{a, b}
	close(reg.updates)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sync did not return after watch closed")
	}
	require.Equal(t, 2, m.count())
	assert.Equal(t, []ServerInfo{a}, m.snapshots[0])
	assert.Equal(t, []ServerInfo{a, b}, m.snapshots[1])
}

func TestSyncStopsOnContext(t *testing.T) {
	reg := &fakeRegistry{updates: make(chan []ServerInfo)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sync(ctx, reg, &recordingMembership{}, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncDiscoverError(t *testing.T) {
	boom := errors.New("etcd down")
	m := &recordingMembership{}
	err := Sync(context.Background(), &fakeRegistry{discover: boom}, m, nil)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.count())
}

func TestServerInfoAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:3050", ServerInfo{Host: "10.0.0.1", Port: 3050}.Addr())
	assert.Equal(t, "[::1]:3050", ServerInfo{Host: "::1", Port: 3050}.Addr())
}
