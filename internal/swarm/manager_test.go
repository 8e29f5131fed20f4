package swarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/events"
)

type fakeConn struct {
	id   string
	data chan []byte

	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	writeErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, data: make(chan []byte, 16)}
}

func (c *fakeConn) RemotePeer() string   { return c.id }
func (c *fakeConn) Data() <-chan []byte { return c.data }

func (c *fakeConn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, p)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.data)
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeSwarm struct {
	conns   chan Conn
	errs    chan error
	joinErr error
	block   chan struct{}

	mu        sync.Mutex
	joined    []Topic
	left      bool
	destroyed bool
	once      sync.Once
}

func newFakeSwarm() *fakeSwarm {
	return &fakeSwarm{conns: make(chan Conn, 16), errs: make(chan error, 4)}
}

func (s *fakeSwarm) Join(_ context.Context, topic Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return s.joinErr
	}
	s.joined = append(s.joined, topic)
	return nil
}

func (s *fakeSwarm) Connections() <-chan Conn { return s.conns }
func (s *fakeSwarm) Errors() <-chan error     { return s.errs }

func (s *fakeSwarm) Leave(_ context.Context, _ Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = true
	return nil
}

func (s *fakeSwarm) Destroy(ctx context.Context) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.once.Do(func() {
		s.mu.Lock()
		s.destroyed = true
		s.mu.Unlock()
		close(s.conns)
		close(s.errs)
	})
	return nil
}

func (s *fakeSwarm) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

type fakeFactory struct {
	mu     sync.Mutex
	swarms []*fakeSwarm
	opts   []Options
	err    error
}

func (f *fakeFactory) open(opts Options) (Swarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sw := newFakeSwarm()
	f.swarms = append(f.swarms, sw)
	f.opts = append(f.opts, opts)
	return sw, nil
}

func (f *fakeFactory) last() *fakeSwarm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swarms[len(f.swarms)-1]
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(name string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events.Event{Name: name, Payload: payload})
}

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingHandler struct {
	mu       sync.Mutex
	received []string
}

func (h *recordingHandler) HandleMessage(peerID string, data []byte) {
	if string(data) == "panic" {
		panic("bad payload")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, peerID+":"+string(data))
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.received...)
}

func newTestManager(t *testing.T) (*Manager, *fakeFactory, *recordingBus, *recordingHandler) {
	t.Helper()
	factory := &fakeFactory{}
	bus := &recordingBus{}
	handler := &recordingHandler{}
	m := NewManager(factory.open, bus, zap.NewNop(), 200*time.Millisecond)
	m.SetHandler(handler)
	t.Cleanup(func() { m.LeaveRoom(context.Background()) })
	return m, factory, bus, handler
}

func TestLeaveRoomWhenIdleIsNoop(t *testing.T) {
	m, factory, bus, _ := newTestManager(t)

	require.NoError(t, m.LeaveRoom(context.Background()))
	require.NoError(t, m.LeaveRoom(context.Background()))

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, factory.swarms)
	assert.Empty(t, bus.named(events.PeerDisconnected))
}

func TestJoinRoomActivatesTopic(t *testing.T) {
	m, factory, _, _ := newTestManager(t)

	topic, err := m.JoinRoom(context.Background(), "  standup ")
	require.NoError(t, err)

	assert.Equal(t, TopicFromRoom("standup"), topic)
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, []Options{{Server: true, Client: true}}, factory.opts)
	assert.Equal(t, []Topic{topic}, factory.last().joined)

	room, active, ok := m.Room()
	assert.True(t, ok)
	assert.Equal(t, "standup", room)
	assert.Equal(t, topic, active)
}

func TestJoinRoomRequiresID(t *testing.T) {
	m, factory, _, _ := newTestManager(t)

	_, err := m.JoinRoom(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, factory.swarms)
}

func TestJoinRoomSurfacesTransportFailure(t *testing.T) {
	m, factory, _, _ := newTestManager(t)
	factory.err = errors.New("no relay")

	_, err := m.JoinRoom(context.Background(), "standup")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
	assert.Equal(t, StateIdle, m.State())
}

func TestJoinRoomJoinFailureReleasesSwarm(t *testing.T) {
	failing := newFakeSwarm()
	failing.joinErr = errors.New("relay refused")
	m := NewManager(func(Options) (Swarm, error) { return failing, nil }, &recordingBus{}, zap.NewNop(), time.Second)

	_, err := m.JoinRoom(context.Background(), "standup")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
	assert.True(t, failing.isDestroyed())
	assert.Equal(t, StateIdle, m.State())
}

func TestPeerLifecycleEvents(t *testing.T) {
	m, factory, bus, handler := newTestManager(t)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	conn := newFakeConn("peer-a")
	factory.last().conns <- conn

	require.Eventually(t, func() bool { return len(bus.named(events.PeerConnected)) == 1 }, time.Second, 5*time.Millisecond)
	connected := bus.named(events.PeerConnected)
	assert.True(t, m.HasPeer("peer-a"))
	assert.Equal(t, PeerEvent{PeerID: "peer-a", PeerCount: 1}, connected[0].Payload)

	conn.data <- []byte("hello")
	require.Eventually(t, func() bool { return len(handler.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"peer-a:hello"}, handler.snapshot())

	conn.Close()
	require.Eventually(t, func() bool { return len(bus.named(events.PeerDisconnected)) == 1 }, time.Second, 5*time.Millisecond)
	disconnected := bus.named(events.PeerDisconnected)
	assert.False(t, m.HasPeer("peer-a"))
	assert.Equal(t, PeerEvent{PeerID: "peer-a", PeerCount: 0}, disconnected[0].Payload)
}

func TestSendToUnknownPeerFailsWithoutWriting(t *testing.T) {
	m, factory, _, _ := newTestManager(t)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	known := newFakeConn("peer-a")
	factory.last().conns <- known
	require.Eventually(t, func() bool { return m.HasPeer("peer-a") }, time.Second, 5*time.Millisecond)

	err = m.Send("peer-z", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNoSuchPeer)
	assert.Zero(t, known.writeCount())

	require.NoError(t, m.Send("peer-a", []byte("x")))
	assert.Equal(t, 1, known.writeCount())
}

func TestSendWriteFailureIsTransportError(t *testing.T) {
	m, factory, _, _ := newTestManager(t)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	conn := newFakeConn("peer-a")
	conn.writeErr = errors.New("broken pipe")
	factory.last().conns <- conn
	require.Eventually(t, func() bool { return m.HasPeer("peer-a") }, time.Second, 5*time.Millisecond)

	err = m.Send("peer-a", []byte("x"))
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
}

func TestRejoinLeavesNoConnectionsFromPreviousRoom(t *testing.T) {
	m, factory, _, _ := newTestManager(t)

	_, err := m.JoinRoom(context.Background(), "room-1")
	require.NoError(t, err)
	first := factory.last()
	oldA, oldB := newFakeConn("old-a"), newFakeConn("old-b")
	first.conns <- oldA
	first.conns <- oldB
	require.Eventually(t, func() bool { return m.PeerCount() == 2 }, time.Second, 5*time.Millisecond)

	_, err = m.JoinRoom(context.Background(), "room-2")
	require.NoError(t, err)
	second := factory.last()
	require.NotSame(t, first, second)

	fresh := newFakeConn("new-a")
	second.conns <- fresh
	require.Eventually(t, func() bool { return m.HasPeer("new-a") }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"new-a"}, m.Peers())
	assert.True(t, oldA.isClosed())
	assert.True(t, oldB.isClosed())
	assert.True(t, first.isDestroyed())
	assert.False(t, second.isDestroyed())
	assert.Equal(t, StateActive, m.State())
}

func TestHandlerPanicKeepsConnectionOpen(t *testing.T) {
	m, factory, bus, handler := newTestManager(t)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	conn := newFakeConn("peer-a")
	factory.last().conns <- conn
	require.Eventually(t, func() bool { return m.HasPeer("peer-a") }, time.Second, 5*time.Millisecond)

	conn.data <- []byte("panic")
	conn.data <- []byte("after")

	require.Eventually(t, func() bool { return len(handler.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.HasPeer("peer-a"))
	assert.False(t, conn.isClosed())
	assert.NotEmpty(t, bus.named(events.NetworkError))
}

func TestLeaveRoomIsBounded(t *testing.T) {
	stuck := newFakeSwarm()
	stuck.block = make(chan struct{})
	defer close(stuck.block)

	m := NewManager(func(Options) (Swarm, error) { return stuck, nil }, &recordingBus{}, zap.NewNop(), 50*time.Millisecond)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, m.LeaveRoom(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateIdle, m.State())
}

func TestLeaveRoomClosesPeers(t *testing.T) {
	m, factory, bus, _ := newTestManager(t)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	conn := newFakeConn("peer-a")
	factory.last().conns <- conn
	require.Eventually(t, func() bool { return m.HasPeer("peer-a") }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.LeaveRoom(context.Background()))

	assert.True(t, conn.isClosed())
	assert.Zero(t, m.PeerCount())
	assert.True(t, factory.last().isDestroyed())
	assert.Len(t, bus.named(events.PeerDisconnected), 1)

	_, _, ok := m.Room()
	assert.False(t, ok)
}

func TestBroadcast(t *testing.T) {
	m, factory, _, _ := newTestManager(t)

	_, err := m.Broadcast([]byte("x"))
	assert.ErrorIs(t, err, apperr.ErrNoActiveRoom)

	_, err = m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)
	a, b := newFakeConn("a"), newFakeConn("b")
	factory.last().conns <- a
	factory.last().conns <- b
	require.Eventually(t, func() bool { return m.PeerCount() == 2 }, time.Second, 5*time.Millisecond)

	sent, err := m.Broadcast([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, a.writeCount())
	assert.Equal(t, 1, b.writeCount())
}

func TestSwarmErrorsBecomeNetworkEvents(t *testing.T) {
	m, factory, bus, _ := newTestManager(t)
	_, err := m.JoinRoom(context.Background(), "standup")
	require.NoError(t, err)

	factory.last().errs <- errors.New("relay connection lost")

	require.Eventually(t, func() bool { return len(bus.named(events.NetworkError)) == 1 }, time.Second, 5*time.Millisecond)
}
