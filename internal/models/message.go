package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeType is the discriminator carried by every peer payload.
type EnvelopeType string

const (
	EnvelopeChat       EnvelopeType = "chat-message"
	EnvelopeSignal     EnvelopeType = "rtc-signal"
	EnvelopeTranscript EnvelopeType = "transcription"
)

// SignalType is the kind of WebRTC negotiation payload inside an rtc-signal envelope.
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
)

// Envelope is one of ChatMessage, SignalEnvelope, TranscriptEnvelope or
// UnknownEnvelope.
type Envelope interface {
	EnvelopeType() EnvelopeType
}

// ChatMessage is a unit of relayed text.
type ChatMessage struct {
	Type      EnvelopeType `json:"type"`
	ID        string       `json:"id,omitempty"`
	Sender    string       `json:"sender"`
	SenderID  string       `json:"senderId,omitempty"`
	Text      string       `json:"text"`
	Timestamp int64        `json:"timestamp"`
}

func (*ChatMessage) EnvelopeType() EnvelopeType { return EnvelopeChat }

// SignalEnvelope wraps a normalized WebRTC signal. Signal is kept raw here and
// decoded by the signal relay.
type SignalEnvelope struct {
	Type      EnvelopeType    `json:"type"`
	Sender    string          `json:"sender"`
	Signal    json.RawMessage `json:"signal"`
	Timestamp int64           `json:"timestamp"`
}

func (*SignalEnvelope) EnvelopeType() EnvelopeType { return EnvelopeSignal }

// TranscriptEnvelope shares one transcribed line with the other participants.
type TranscriptEnvelope struct {
	Type      EnvelopeType `json:"type"`
	Sender    string       `json:"sender"`
	Text      string       `json:"text"`
	Timestamp int64        `json:"timestamp"`
}

func (*TranscriptEnvelope) EnvelopeType() EnvelopeType { return EnvelopeTranscript }

// UnknownEnvelope is any well-formed payload with a type this build does not handle.
type UnknownEnvelope struct {
	Type EnvelopeType `json:"type"`
}

func (u *UnknownEnvelope) EnvelopeType() EnvelopeType { return u.Type }

func NewChatMessage(id, sender, senderID, text string, at time.Time) *ChatMessage {
	return &ChatMessage{
		Type:      EnvelopeChat,
		ID:        id,
		Sender:    sender,
		SenderID:  senderID,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
}

func NewSignalEnvelope(sender string, signal json.RawMessage, at time.Time) *SignalEnvelope {
	return &SignalEnvelope{
		Type:      EnvelopeSignal,
		Sender:    sender,
		Signal:    signal,
		Timestamp: at.UnixMilli(),
	}
}

func NewTranscriptEnvelope(sender, text string, at time.Time) *TranscriptEnvelope {
	return &TranscriptEnvelope{
		Type:      EnvelopeTranscript,
		Sender:    sender,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
}

// DecodeEnvelope parses a peer payload. Invalid JSON is an error; an
// unrecognised type is not.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var header struct {
		Type EnvelopeType `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var env Envelope
	switch header.Type {
	case EnvelopeChat:
		env = &ChatMessage{}
	case EnvelopeSignal:
		env = &SignalEnvelope{}
	case EnvelopeTranscript:
		env = &TranscriptEnvelope{}
	default:
		return &UnknownEnvelope{Type: header.Type}, nil
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", header.Type, err)
	}
	return env, nil
}
