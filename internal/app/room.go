package app

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/swarm"
)

const (
	roomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
	maxMessageLen  = 8000
)

// JoinRoom makes roomID the active room. The call transcript starts over.
func (a *App) JoinRoom(ctx context.Context, roomID string) (swarm.Topic, error) {
	topic, err := a.manager.JoinRoom(ctx, roomID)
	if err != nil {
		return swarm.Topic{}, err
	}
	a.transcript.Reset()
	return topic, nil
}

func (a *App) LeaveRoom(ctx context.Context) error {
	return a.manager.LeaveRoom(ctx)
}

// CreateRoomCode generates a short room name that is easy to read aloud.
func (a *App) CreateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// SendMessage broadcasts a chat message to every connected peer and
// returns it for the local transcript.
func (a *App) SendMessage(text string) (*models.ChatMessage, error) {
	const op = "send message"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation(op, errors.New("message is empty"))
	}
	if len(text) > maxMessageLen {
		return nil, apperr.Validation(op, errors.New("message is too long"))
	}

	msg := models.NewChatMessage(uuid.New().String(), a.DisplayName(), a.OwnID(), text, a.now())
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, op, err)
	}

	if _, err := a.manager.Broadcast(data); err != nil {
		return msg, err
	}
	return msg, nil
}

// SendSignal forwards a WebRTC signal from the UI to one peer.
func (a *App) SendSignal(peerID string, signal json.RawMessage) error {
	return a.relay.Send(peerID, signal)
}
