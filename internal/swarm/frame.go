package swarm

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FrameKind identifies a relay frame.
type FrameKind string

const (
	FrameWelcome    FrameKind = "welcome"
	FramePeerJoined FrameKind = "peer-joined"
	FramePeerLeft   FrameKind = "peer-left"
	FrameData       FrameKind = "data"
	FrameClose      FrameKind = "close"
	FrameError      FrameKind = "error"
)

// Frame is the unit exchanged between a swarm client and the relay over a
// binary WebSocket message.
type Frame struct {
	Kind  FrameKind `msgpack:"k"`
	From  string    `msgpack:"f,omitempty"`
	To    string    `msgpack:"t,omitempty"`
	Peers []string  `msgpack:"p,omitempty"`
	Data  []byte    `msgpack:"d,omitempty"`
	Error string    `msgpack:"e,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	b, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind == "" {
		return Frame{}, fmt.Errorf("decode frame: missing kind")
	}
	return f, nil
}
