// Package swarm owns the lifetime of the active peer-to-peer room: topic
// derivation, the transport ports and the session manager.
package swarm

import "context"

// Options configures a swarm instance. Server announces this peer on the
// topic; Client looks up peers already there.
type Options struct {
	Server bool
	Client bool
}

// Swarm is one transport instance. A Manager creates one per room.
type Swarm interface {
	Join(ctx context.Context, topic Topic) error
	// Connections yields each new peer connection and is closed when the
	// swarm is destroyed or loses its transport.
	Connections() <-chan Conn
	// Errors reports transport failures that are not tied to a call.
	Errors() <-chan error
	Leave(ctx context.Context, topic Topic) error
	Destroy(ctx context.Context) error
}

// Conn is a live bidirectional stream to one remote participant.
type Conn interface {
	// RemotePeer is the hex public key of the other side.
	RemotePeer() string
	// Data yields inbound payloads and is closed when the stream ends.
	Data() <-chan []byte
	Write(p []byte) error
	Close() error
}

// Factory opens a new swarm instance.
type Factory func(opts Options) (Swarm, error)
