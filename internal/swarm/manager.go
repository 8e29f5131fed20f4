package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/events"
)

// State is the room lifecycle: Idle -> Joining -> Active -> Leaving -> Idle.
type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateActive  State = "active"
	StateLeaving State = "leaving"
)

const defaultLeaveTimeout = 2 * time.Second

// MessageHandler receives every payload read from a peer connection.
type MessageHandler interface {
	HandleMessage(peerID string, data []byte)
}

// PeerEvent is the payload of peer-connected and peer-disconnected.
type PeerEvent struct {
	PeerID    string `json:"peerId"`
	PeerCount int    `json:"peerCount"`
}

// Manager owns at most one active room and the set of open peer
// connections in it.
type Manager struct {
	factory      Factory
	bus          events.Publisher
	logger       *zap.Logger
	leaveTimeout time.Duration

	// opMu serializes JoinRoom and LeaveRoom.
	opMu sync.Mutex

	mu      sync.RWMutex
	handler MessageHandler
	state   State
	roomID  string
	topic   Topic
	sw      Swarm
	conns   map[string]Conn
	// gen changes on every join and leave so late callbacks from a torn
	// down room are ignored.
	gen uint64
}

func NewManager(factory Factory, bus events.Publisher, logger *zap.Logger, leaveTimeout time.Duration) *Manager {
	if leaveTimeout <= 0 {
		leaveTimeout = defaultLeaveTimeout
	}
	return &Manager{
		factory:      factory,
		bus:          bus,
		logger:       logger,
		leaveTimeout: leaveTimeout,
		state:        StateIdle,
		conns:        make(map[string]Conn),
	}
}

// SetHandler installs the receiver for inbound payloads.
func (m *Manager) SetHandler(h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Room returns the active room name and topic. ok is false when idle.
func (m *Manager) Room() (roomID string, topic Topic, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomID, m.topic, m.state == StateActive
}

func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peers := make([]string, 0, len(m.conns))
	for id := range m.conns {
		peers = append(peers, id)
	}
	return peers
}

func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *Manager) HasPeer(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[peerID]
	return ok
}

// JoinRoom makes roomID the active room, leaving the current one first.
func (m *Manager) JoinRoom(ctx context.Context, roomID string) (Topic, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Topic{}, apperr.Validation("join room", errors.New("room id is required"))
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.leave(ctx)

	topic := TopicFromRoom(roomID)
	m.setState(StateJoining)

	sw, err := m.factory(Options{Server: true, Client: true})
	if err != nil {
		m.setState(StateIdle)
		return Topic{}, apperr.Transport("join room", fmt.Errorf("initialize swarm: %w", err))
	}

	if err := sw.Join(ctx, topic); err != nil {
		m.release(ctx, sw, topic)
		m.setState(StateIdle)
		return Topic{}, apperr.Transport("join room", err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.sw = sw
	m.topic = topic
	m.roomID = roomID
	m.conns = make(map[string]Conn)
	m.state = StateActive
	m.mu.Unlock()

	go m.acceptLoop(gen, sw)
	go m.errorLoop(gen, sw)

	m.logger.Info("Joined room",
		zap.String("room", roomID),
		zap.String("topic", topic.String()),
	)
	return topic, nil
}

// LeaveRoom tears down the active room. It is a no-op when idle.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.leave(ctx)
	return nil
}

// Send writes data to one tracked peer.
func (m *Manager) Send(peerID string, data []byte) error {
	m.mu.RLock()
	conn, ok := m.conns[peerID]
	m.mu.RUnlock()

	if !ok {
		return apperr.NotFound("send", apperr.ErrNoSuchPeer)
	}
	if err := conn.Write(data); err != nil {
		return apperr.Transport("send", fmt.Errorf("write to %s: %w", shortID(peerID), err))
	}
	return nil
}

// Broadcast writes data to every tracked peer and reports how many writes
// succeeded.
func (m *Manager) Broadcast(data []byte) (int, error) {
	m.mu.RLock()
	if m.state != StateActive {
		m.mu.RUnlock()
		return 0, apperr.Validation("broadcast", apperr.ErrNoActiveRoom)
	}
	conns := make(map[string]Conn, len(m.conns))
	for id, c := range m.conns {
		conns[id] = c
	}
	m.mu.RUnlock()

	var errs []error
	sent := 0
	for id, c := range conns {
		if err := c.Write(data); err != nil {
			errs = append(errs, fmt.Errorf("write to %s: %w", shortID(id), err))
			continue
		}
		sent++
	}
	if len(errs) > 0 {
		return sent, apperr.Transport("broadcast", errors.Join(errs...))
	}
	return sent, nil
}

// leave must be called with opMu held.
func (m *Manager) leave(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StateLeaving
	sw, topic, roomID, conns := m.sw, m.topic, m.roomID, m.conns
	m.sw = nil
	m.roomID = ""
	m.conns = make(map[string]Conn)
	m.gen++
	m.mu.Unlock()

	remaining := len(conns)
	for id, c := range conns {
		if err := c.Close(); err != nil {
			m.logger.Debug("Closing peer connection failed", zap.String("peer", shortID(id)), zap.Error(err))
		}
		remaining--
		m.bus.Publish(events.PeerDisconnected, PeerEvent{PeerID: id, PeerCount: remaining})
	}

	if sw != nil {
		m.release(ctx, sw, topic)
	}

	m.setState(StateIdle)
	m.logger.Info("Left room", zap.String("room", roomID), zap.Int("closedPeers", len(conns)))
}

// release leaves the topic and destroys the swarm, giving up after the
// leave timeout so shutdown is never blocked by the transport.
func (m *Manager) release(ctx context.Context, sw Swarm, topic Topic) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.leaveTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := sw.Leave(ctx, topic)
		if derr := sw.Destroy(ctx); err == nil {
			err = derr
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("Swarm teardown reported an error", zap.Error(err))
		}
	case <-ctx.Done():
		m.logger.Warn("Abandoning swarm teardown", zap.Duration("timeout", m.leaveTimeout))
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) acceptLoop(gen uint64, sw Swarm) {
	defer m.recoverPanic("accept loop")

	for conn := range sw.Connections() {
		m.track(gen, conn)
	}
}

func (m *Manager) errorLoop(gen uint64, sw Swarm) {
	defer m.recoverPanic("error loop")

	for err := range sw.Errors() {
		if !m.current(gen) {
			continue
		}
		m.logger.Warn("Swarm transport error", zap.Error(err))
		m.bus.Publish(events.NetworkError, map[string]string{"message": err.Error()})
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen == gen && m.state == StateActive
}

func (m *Manager) track(gen uint64, conn Conn) {
	id := conn.RemotePeer()

	m.mu.Lock()
	if m.gen != gen || m.state != StateActive {
		m.mu.Unlock()
		conn.Close()
		return
	}
	old, replaced := m.conns[id]
	m.conns[id] = conn
	count := len(m.conns)
	m.mu.Unlock()

	if replaced {
		old.Close()
	}

	m.logger.Info("Peer connected", zap.String("peer", shortID(id)), zap.Int("peers", count))
	m.bus.Publish(events.PeerConnected, PeerEvent{PeerID: id, PeerCount: count})

	go m.serve(gen, conn)
}

func (m *Manager) untrack(gen uint64, conn Conn) {
	id := conn.RemotePeer()

	m.mu.Lock()
	if m.gen != gen || m.conns[id] != conn {
		m.mu.Unlock()
		return
	}
	delete(m.conns, id)
	count := len(m.conns)
	m.mu.Unlock()

	m.logger.Info("Peer disconnected", zap.String("peer", shortID(id)), zap.Int("peers", count))
	m.bus.Publish(events.PeerDisconnected, PeerEvent{PeerID: id, PeerCount: count})
}

func (m *Manager) serve(gen uint64, conn Conn) {
	defer m.untrack(gen, conn)

	id := conn.RemotePeer()
	for data := range conn.Data() {
		m.dispatch(id, data)
	}
}

// dispatch isolates handler panics so one bad payload cannot end the
// connection's read loop.
func (m *Manager) dispatch(peerID string, data []byte) {
	defer m.recoverPanic("message handler")

	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()

	if h != nil {
		h.HandleMessage(peerID, data)
	}
}

func (m *Manager) recoverPanic(where string) {
	if r := recover(); r != nil {
		m.logger.Error("Recovered panic", zap.String("where", where), zap.Any("panic", r))
		m.bus.Publish(events.NetworkError, map[string]string{"message": fmt.Sprintf("internal error in %s", where)})
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
