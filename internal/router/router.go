// Package router dispatches peer payloads by envelope type.
package router

import (
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/models"
)

// SignalReceiver takes inbound rtc-signal envelopes.
type SignalReceiver interface {
	Receive(peerID string, env *models.SignalEnvelope)
}

// TranscriptSink records transcript lines shared by other participants.
type TranscriptSink interface {
	AddLine(speaker, text string, at int64)
}

// Router implements swarm.MessageHandler.
type Router struct {
	bus         events.Publisher
	signals     SignalReceiver
	transcripts TranscriptSink
	logger      *zap.Logger
}

func New(bus events.Publisher, signals SignalReceiver, transcripts TranscriptSink, logger *zap.Logger) *Router {
	return &Router{bus: bus, signals: signals, transcripts: transcripts, logger: logger}
}

// HandleMessage never fails: malformed and unknown payloads are logged and
// dropped so the connection stays usable.
func (r *Router) HandleMessage(peerID string, data []byte) {
	env, err := models.DecodeEnvelope(data)
	if err != nil {
		r.logger.Warn("Discarding malformed peer payload",
			zap.String("peer", peerID),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return
	}

	switch e := env.(type) {
	case *models.ChatMessage:
		// The transport authenticated peerID; a claimed sender id is not.
		e.SenderID = peerID
		r.bus.Publish(events.NewMessage, e)

	case *models.SignalEnvelope:
		r.signals.Receive(peerID, e)

	case *models.TranscriptEnvelope:
		if r.transcripts != nil {
			r.transcripts.AddLine(e.Sender, e.Text, e.Timestamp)
		}
		r.bus.Publish(events.TranscriptionResult, TranscriptLine{
			PeerID:    peerID,
			Speaker:   e.Sender,
			Text:      e.Text,
			Timestamp: e.Timestamp,
		})

	default:
		r.logger.Debug("Ignoring unknown envelope type",
			zap.String("peer", peerID),
			zap.String("type", string(env.EnvelopeType())),
		)
	}
}

// TranscriptLine is the transcription-result payload for a remote speaker.
type TranscriptLine struct {
	PeerID    string `json:"peerId,omitempty"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Local     bool   `json:"local"`
}
