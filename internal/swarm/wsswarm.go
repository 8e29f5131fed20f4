package swarm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 1 << 20
	peerBuffer   = 256
)

var (
	ErrSwarmClosed = errors.New("swarm closed")
	ErrConnClosed  = errors.New("connection closed")
)

// NewWSFactory returns a Factory whose swarms rendezvous through the relay
// at relayURL. Every swarm signs its join with identity.
func NewWSFactory(relayURL string, identity *Identity, logger *zap.Logger) Factory {
	return func(opts Options) (Swarm, error) {
		if relayURL == "" {
			return nil, errors.New("swarm relay URL is not configured")
		}
		u, err := url.Parse(relayURL)
		if err != nil {
			return nil, fmt.Errorf("invalid relay URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
		}
		if identity == nil {
			return nil, errors.New("swarm identity is required")
		}
		return newWSSwarm(u, identity, opts, logger), nil
	}
}

// WSSwarm reaches the peers on one topic through a relay WebSocket. Each
// remote peer appears as its own Conn.
type WSSwarm struct {
	relay    *url.URL
	identity *Identity
	opts     Options
	dialer   *websocket.Dialer
	logger   *zap.Logger

	conns  chan Conn
	errs   chan error
	send   chan Frame
	done   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	started bool
	joining bool
	topic   Topic
	peers   map[string]*wsConn

	closeOnce  sync.Once
	finishOnce sync.Once
}

func newWSSwarm(relay *url.URL, identity *Identity, opts Options, logger *zap.Logger) *WSSwarm {
	return &WSSwarm{
		relay:    relay,
		identity: identity,
		opts:     opts,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		conns:    make(chan Conn, 16),
		errs:     make(chan error, 8),
		send:     make(chan Frame, peerBuffer),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		peers:    make(map[string]*wsConn),
	}
}

func (s *WSSwarm) Connections() <-chan Conn { return s.conns }
func (s *WSSwarm) Errors() <-chan error     { return s.errs }

// Join dials the relay for topic. A swarm joins a single topic.
func (s *WSSwarm) Join(ctx context.Context, topic Topic) error {
	s.mu.Lock()
	if s.started || s.joining {
		s.mu.Unlock()
		return errors.New("swarm already joined a topic")
	}
	if s.isClosing() {
		s.mu.Unlock()
		return ErrSwarmClosed
	}
	s.joining = true
	s.mu.Unlock()

	ws, _, err := s.dialer.DialContext(ctx, s.joinURL(topic), nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.joining = false
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	if s.isClosing() {
		ws.Close()
		return ErrSwarmClosed
	}

	ws.SetReadLimit(maxFrameSize)
	s.started = true
	s.topic = topic

	go s.readPump(ws)
	go s.writePump(ws)
	return nil
}

// Leave disconnects from the relay; remote peers see this peer leave.
func (s *WSSwarm) Leave(ctx context.Context, topic Topic) error {
	s.mu.Lock()
	joined := s.started && s.topic == topic
	s.mu.Unlock()

	if !joined {
		return nil
	}
	return s.Destroy(ctx)
}

// Destroy closes the relay connection and every peer connection.
func (s *WSSwarm) Destroy(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		s.finish()
		return nil
	}

	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WSSwarm) joinURL(topic Topic) string {
	u := s.relay.JoinPath(topic.String())
	ts, sig := s.identity.SignJoin(topic, time.Now())

	q := u.Query()
	q.Set("peer", s.identity.ID())
	q.Set("ts", ts)
	q.Set("sig", sig)
	q.Set("announce", boolParam(s.opts.Server))
	q.Set("lookup", boolParam(s.opts.Client))
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *WSSwarm) isClosing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// finish closes the outbound channels. Only the read pump sends on them, so
// it runs after the pump exits or when the pump never started.
func (s *WSSwarm) finish() {
	s.finishOnce.Do(func() {
		close(s.conns)
		close(s.errs)
	})
}

func (s *WSSwarm) readPump(ws *websocket.Conn) {
	defer func() {
		ws.Close()
		s.dropAllPeers()
		s.finish()
		close(s.exited)
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := ws.ReadMessage()
		if err != nil {
			if !s.isClosing() {
				s.reportErr(fmt.Errorf("relay connection lost: %w", err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := DecodeFrame(message)
		if err != nil {
			s.logger.Warn("Dropping relay frame", zap.Error(err))
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *WSSwarm) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			data, err := EncodeFrame(frame)
			if err != nil {
				s.logger.Warn("Dropping outbound frame", zap.Error(err))
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.logger.Warn("Failed to write relay frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-s.exited:
			return
		}
	}
}

func (s *WSSwarm) handleFrame(f Frame) {
	switch f.Kind {
	case FrameWelcome:
		for _, peer := range f.Peers {
			s.openPeer(peer)
		}
	case FramePeerJoined:
		s.openPeer(f.From)
	case FramePeerLeft, FrameClose:
		s.dropPeer(f.From)
	case FrameData:
		if c := s.openPeer(f.From); c != nil {
			c.deliver(f.Data)
		}
	case FrameError:
		s.reportErr(fmt.Errorf("relay: %s", f.Error))
	default:
		s.logger.Debug("Ignoring relay frame", zap.String("kind", string(f.Kind)))
	}
}

// openPeer returns the connection for id, creating and announcing it on
// first sight.
func (s *WSSwarm) openPeer(id string) *wsConn {
	if id == "" || id == s.identity.ID() {
		return nil
	}

	s.mu.Lock()
	if c, ok := s.peers[id]; ok {
		s.mu.Unlock()
		return c
	}
	c := &wsConn{swarm: s, remote: id, data: make(chan []byte, peerBuffer)}
	s.peers[id] = c
	s.mu.Unlock()

	select {
	case s.conns <- c:
	case <-s.done:
		c.shutdown()
		return nil
	}
	return c
}

func (s *WSSwarm) dropPeer(id string) {
	s.mu.Lock()
	c, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if ok {
		c.shutdown()
	}
}

func (s *WSSwarm) dropAllPeers() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*wsConn)
	s.mu.Unlock()

	for _, c := range peers {
		c.shutdown()
	}
}

func (s *WSSwarm) forget(c *wsConn) {
	s.mu.Lock()
	if s.peers[c.remote] == c {
		delete(s.peers, c.remote)
	}
	s.mu.Unlock()
}

func (s *WSSwarm) reportErr(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("Swarm error dropped", zap.Error(err))
	}
}

func (s *WSSwarm) sendFrame(f Frame) error {
	select {
	case s.send <- f:
		return nil
	case <-s.done:
		return ErrSwarmClosed
	case <-s.exited:
		return ErrSwarmClosed
	}
}

type wsConn struct {
	swarm  *WSSwarm
	remote string

	mu     sync.Mutex
	closed bool
	data   chan []byte
}

func (c *wsConn) RemotePeer() string   { return c.remote }
func (c *wsConn) Data() <-chan []byte { return c.data }

func (c *wsConn) Write(p []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrConnClosed
	}
	return c.swarm.sendFrame(Frame{Kind: FrameData, To: c.remote, Data: append([]byte(nil), p...)})
}

// Close ends the stream locally and tells the remote side.
func (c *wsConn) Close() error {
	if !c.shutdown() {
		return nil
	}
	c.swarm.forget(c)

	select {
	case c.swarm.send <- Frame{Kind: FrameClose, To: c.remote}:
	default:
	}
	return nil
}

func (c *wsConn) deliver(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.data <- p:
	default:
		c.swarm.logger.Warn("Dropping payload, peer buffer full", zap.String("peer", shortID(c.remote)))
	}
}

func (c *wsConn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.data)
	return true
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
