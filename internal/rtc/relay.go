package rtc

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/models"
)

// PeerSender is the part of the swarm manager the relay writes through.
type PeerSender interface {
	HasPeer(peerID string) bool
	Send(peerID string, data []byte) error
}

// Received is the signal-received event payload.
type Received struct {
	PeerID string `json:"peerId"`
	Signal Signal `json:"signal"`
}

// Relay sends UI signals to peers and hands peer signals to the UI.
type Relay struct {
	peers  PeerSender
	selfID string
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewRelay(peers PeerSender, selfID string, bus events.Publisher, logger *zap.Logger) *Relay {
	return &Relay{
		peers:  peers,
		selfID: selfID,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Send normalizes signal and writes it to peerID. Nothing is written when
// the peer is unknown or the signal is malformed.
func (r *Relay) Send(peerID string, signal json.RawMessage) error {
	if !r.peers.HasPeer(peerID) {
		return apperr.NotFound("send signal", apperr.ErrNoSuchPeer)
	}

	sig, err := Normalize(signal)
	if err != nil {
		r.logger.Warn("Refusing to send malformed signal", zap.String("peer", peerID), zap.Error(err))
		return apperr.Protocol("send signal", err)
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return apperr.Protocol("send signal", fmt.Errorf("encode signal: %w", err))
	}
	data, err := json.Marshal(models.NewSignalEnvelope(r.selfID, payload, r.now()))
	if err != nil {
		return apperr.Protocol("send signal", fmt.Errorf("encode envelope: %w", err))
	}

	if err := r.peers.Send(peerID, data); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	r.logger.Debug("Signal sent", zap.String("peer", peerID), zap.String("type", string(sig.Type)))
	return nil
}

// Receive reassembles a peer's signal and publishes it. Malformed signals
// are logged and dropped.
func (r *Relay) Receive(peerID string, env *models.SignalEnvelope) {
	sig, err := Normalize(env.Signal)
	if err != nil {
		r.logger.Warn("Discarding malformed signal", zap.String("peer", peerID), zap.Error(err))
		return
	}
	r.bus.Publish(events.SignalReceived, Received{PeerID: peerID, Signal: sig})
}
