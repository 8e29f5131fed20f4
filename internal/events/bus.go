package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names delivered to the UI.
const (
	AuthStateChanged    = "auth-state-changed"
	NewMessage          = "new-message"
	PeerConnected       = "peer-connected"
	PeerDisconnected    = "peer-disconnected"
	SignalReceived      = "signal-received"
	NetworkError        = "network-error"
	TranscriptionResult = "transcription-result"
	SummaryGenerated    = "summary-generated"
	GenerateSummary     = "generate-summary"
	ScreenShareStarted  = "screen-share-started"
)

// Event is a fire-and-forget notification for the UI.
type Event struct {
	Name      string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher is what components depend on to emit events.
type Publisher interface {
	Publish(name string, payload any)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
	logger *zap.Logger
}

func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Bus) Publish(name string, payload any) {
	evt := Event{Name: name, Payload: payload, Timestamp: time.Now().UnixMilli()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("event", name),
				zap.Int("subscriber", id),
			)
		}
	}
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
