package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/swarm"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendBuffer     = 256
	presenceWait   = 2 * time.Second
	defaultPresTTL = 24 * time.Hour
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Presence records which peers are on a topic outside this process.
type Presence interface {
	AddPeer(ctx context.Context, topic, peer string, ttl time.Duration) error
	RemovePeer(ctx context.Context, topic, peer string) error
	PeerCount(ctx context.Context, topic string) (int, error)
}

// Hub tracks the peers connected on each topic and forwards frames between
// them.
type Hub struct {
	presence    Presence
	presenceTTL time.Duration
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time

	// mu guards topics and every send on a client's channel, so a channel
	// is never written after unregister closes it.
	mu     sync.RWMutex
	topics map[string]map[string]*Client
}

// Client is one peer's relay connection.
type Client struct {
	PeerID   string
	Topic    string
	Announce bool
	Lookup   bool

	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. presence may be nil when Redis is disabled.
func NewHub(presence Presence, presenceTTL time.Duration, metrics *Metrics, logger *zap.Logger) *Hub {
	if presenceTTL <= 0 {
		presenceTTL = defaultPresTTL
	}
	return &Hub{
		presence:    presence,
		presenceTTL: presenceTTL,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		topics:      make(map[string]map[string]*Client),
	}
}

// HandleSwarm upgrades a signed join request for a topic.
func (h *Hub) HandleSwarm(c *gin.Context) {
	topic, err := swarm.ParseTopic(c.Param("topic"))
	if err != nil {
		h.reject(c, http.StatusBadRequest, "bad_topic", err.Error())
		return
	}

	peerID := c.Query("peer")
	if err := swarm.VerifyJoin(topic.String(), peerID, c.Query("ts"), c.Query("sig"), h.now()); err != nil {
		h.reject(c, http.StatusUnauthorized, "bad_signature", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	client := &Client{
		PeerID:   peerID,
		Topic:    topic.String(),
		Announce: c.DefaultQuery("announce", "1") == "1",
		Lookup:   c.DefaultQuery("lookup", "1") == "1",
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}

	h.register(client)

	go client.writePump(h.logger)
	go h.readPump(client)
}

// PeerCount is the number of peers connected on topic to this relay.
func (h *Hub) PeerCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) reject(c *gin.Context, status int, reason, msg string) {
	h.metrics.Rejected.WithLabelValues(reason).Inc()
	c.JSON(status, gin.H{"error": msg})
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	peers, ok := h.topics[client.Topic]
	if !ok {
		peers = make(map[string]*Client)
		h.topics[client.Topic] = peers
		h.metrics.Topics.Inc()
	}

	if old, dup := peers[client.PeerID]; dup {
		close(old.send)
	} else {
		h.metrics.Peers.Inc()
	}
	peers[client.PeerID] = client

	var visible []string
	for id, other := range peers {
		if id == client.PeerID {
			continue
		}
		if client.Lookup && other.Announce {
			visible = append(visible, id)
		}
		if client.Announce && other.Lookup {
			h.sendLocked(other, swarm.Frame{Kind: swarm.FramePeerJoined, From: client.PeerID})
		}
	}
	h.sendLocked(client, swarm.Frame{Kind: swarm.FrameWelcome, Peers: visible})
	count := len(peers)
	h.mu.Unlock()

	h.logger.Info("Peer joined topic",
		zap.String("peer", shortPeer(client.PeerID)),
		zap.String("topic", shortPeer(client.Topic)),
		zap.Int("peers", count),
	)
	h.updatePresence(func(ctx context.Context) error {
		return h.presence.AddPeer(ctx, client.Topic, client.PeerID, h.presenceTTL)
	})
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	peers := h.topics[client.Topic]
	if peers[client.PeerID] != client {
		// Replaced by a newer connection for the same peer.
		h.mu.Unlock()
		return
	}
	delete(peers, client.PeerID)
	close(client.send)
	h.metrics.Peers.Dec()

	for _, other := range peers {
		h.sendLocked(other, swarm.Frame{Kind: swarm.FramePeerLeft, From: client.PeerID})
	}
	if len(peers) == 0 {
		delete(h.topics, client.Topic)
		h.metrics.Topics.Dec()
	}
	h.mu.Unlock()

	h.logger.Info("Peer left topic",
		zap.String("peer", shortPeer(client.PeerID)),
		zap.String("topic", shortPeer(client.Topic)),
	)
	h.updatePresence(func(ctx context.Context) error {
		return h.presence.RemovePeer(ctx, client.Topic, client.PeerID)
	})
}

// forward routes a data or close frame to its addressee. Frames for a peer
// that is gone are answered with peer-left so the sender drops its stream.
func (h *Hub) forward(from *Client, f swarm.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	target, ok := h.topics[from.Topic][f.To]
	if !ok {
		if f.Kind == swarm.FrameData {
			h.sendLocked(from, swarm.Frame{Kind: swarm.FramePeerLeft, From: f.To})
		}
		return
	}

	h.metrics.Frames.WithLabelValues(string(f.Kind)).Inc()
	h.sendLocked(target, swarm.Frame{Kind: f.Kind, From: from.PeerID, Data: f.Data})
}

// sendLocked queues a frame for client. Callers hold mu.
func (h *Hub) sendLocked(client *Client, f swarm.Frame) {
	data, err := swarm.EncodeFrame(f)
	if err != nil {
		h.logger.Warn("Failed to encode frame", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("Failed to send frame, buffer full", zap.String("peer", shortPeer(client.PeerID)))
	}
}

func (h *Hub) updatePresence(fn func(ctx context.Context) error) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.logger.Warn("Failed to update presence", zap.Error(err))
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		f, err := swarm.DecodeFrame(message)
		if err != nil {
			h.logger.Debug("Dropping undecodable frame", zap.Error(err))
			continue
		}

		switch f.Kind {
		case swarm.FrameData, swarm.FrameClose:
			h.forward(c, f)
		default:
			h.logger.Debug("Ignoring client frame", zap.String("kind", string(f.Kind)))
		}
	}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				logger.Debug("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func shortPeer(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
