package swarm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Topic is the 32-byte rendezvous key peers meet on.
type Topic [32]byte

// TopicFromRoom derives the topic for a human-chosen room name.
func TopicFromRoom(roomID string) Topic {
	return Topic(sha256.Sum256([]byte(roomID)))
}

// ParseTopic decodes the hex form used on the wire.
func ParseTopic(s string) (Topic, error) {
	var t Topic
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("invalid topic: %w", err)
	}
	if len(b) != len(t) {
		return t, fmt.Errorf("invalid topic: want %d bytes, got %d", len(t), len(b))
	}
	copy(t[:], b)
	return t, nil
}

func (t Topic) String() string {
	return hex.EncodeToString(t[:])
}
