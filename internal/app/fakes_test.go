package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/atproto"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/session"
	"github.com/mossy-p/huddle/internal/settings"
	"github.com/mossy-p/huddle/internal/swarm"
)

// memNetwork connects every swarm that joins the same topic.
type memNetwork struct {
	mu     sync.Mutex
	topics map[swarm.Topic][]*memSwarm
}

func newMemNetwork() *memNetwork {
	return &memNetwork{topics: make(map[swarm.Topic][]*memSwarm)}
}

func (n *memNetwork) factory(selfID string) swarm.Factory {
	return func(swarm.Options) (swarm.Swarm, error) {
		return &memSwarm{
			net:   n,
			self:  selfID,
			conns: make(chan swarm.Conn, 16),
			errs:  make(chan error, 4),
		}, nil
	}
}

type memSwarm struct {
	net   *memNetwork
	self  string
	conns chan swarm.Conn
	errs  chan error

	mu     sync.Mutex
	topic  swarm.Topic
	open   []*memConn
	closed bool
	once   sync.Once
}

func (s *memSwarm) Join(_ context.Context, topic swarm.Topic) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()

	s.mu.Lock()
	s.topic = topic
	s.mu.Unlock()

	for _, other := range s.net.topics[topic] {
		mine := &memConn{remote: other.self, data: make(chan []byte, 64)}
		theirs := &memConn{remote: s.self, data: make(chan []byte, 64)}
		mine.peer, theirs.peer = theirs, mine
		s.add(mine)
		other.add(theirs)
	}
	s.net.topics[topic] = append(s.net.topics[topic], s)
	return nil
}

func (s *memSwarm) add(c *memConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.open = append(s.open, c)
	s.conns <- c
}

func (s *memSwarm) Connections() <-chan swarm.Conn { return s.conns }
func (s *memSwarm) Errors() <-chan error           { return s.errs }

func (s *memSwarm) Leave(context.Context, swarm.Topic) error { return nil }

func (s *memSwarm) Destroy(context.Context) error {
	s.once.Do(func() {
		s.net.mu.Lock()
		peers := s.net.topics[s.topic]
		for i, sw := range peers {
			if sw == s {
				s.net.topics[s.topic] = append(peers[:i:i], peers[i+1:]...)
				break
			}
		}
		s.net.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		open := s.open
		s.mu.Unlock()

		for _, c := range open {
			c.Close()
		}
		close(s.conns)
		close(s.errs)
	})
	return nil
}

type memConn struct {
	remote string
	peer   *memConn
	data   chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *memConn) RemotePeer() string   { return c.remote }
func (c *memConn) Data() <-chan []byte { return c.data }

func (c *memConn) Write(p []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return swarm.ErrConnClosed
	}
	c.peer.deliver(append([]byte(nil), p...))
	return nil
}

func (c *memConn) deliver(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.data <- p
	}
}

func (c *memConn) Close() error {
	c.shutdown()
	c.peer.shutdown()
	return nil
}

func (c *memConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.data)
	}
}

type fakeSocial struct {
	mu           sync.Mutex
	session      atproto.Session
	profile      atproto.Profile
	err          error
	refreshErr   error
	refreshCalls int
	deleted      []string
}

func (f *fakeSocial) CreateAccount(_ context.Context, in atproto.CreateAccountInput) (atproto.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return atproto.Session{}, f.err
	}
	s := f.session
	s.Handle, s.Email = in.Handle, in.Email
	return s, nil
}

func (f *fakeSocial) CreateSession(context.Context, string, string) (atproto.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.err
}

func (f *fakeSocial) RefreshSession(context.Context, string) (atproto.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return atproto.Session{}, f.refreshErr
	}
	return f.session, nil
}

func (f *fakeSocial) DeleteSession(_ context.Context, refresh string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, refresh)
	return nil
}

func (f *fakeSocial) GetProfile(context.Context, string, string) (atproto.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

type fakeAssistant struct {
	readyErr error
	text     string
	summary  string
	tasks    []string
	block    chan struct{}

	mu    sync.Mutex
	lines []string
}

func (f *fakeAssistant) Ready() error { return f.readyErr }

func (f *fakeAssistant) Transcribe(context.Context, string, string) (string, error) {
	return f.text, nil
}

func (f *fakeAssistant) Summarize(ctx context.Context, lines []string) (string, error) {
	f.mu.Lock()
	f.lines = lines
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.summary, nil
}

func (f *fakeAssistant) ExtractTasks(_ context.Context, lines []string) ([]string, error) {
	f.mu.Lock()
	f.lines = lines
	f.mu.Unlock()
	return f.tasks, nil
}

func (f *fakeAssistant) summarized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines
}

type testApp struct {
	*App
	events    <-chan events.Event
	social    *fakeSocial
	assistant *fakeAssistant
	sessions  *session.FileStore
	quits     chan struct{}
}

func newTestApp(t *testing.T, net *memNetwork) *testApp {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	store, err := settings.Open(dir, logger)
	require.NoError(t, err)
	sessions, err := session.NewFileStore(dir)
	require.NoError(t, err)
	id, err := swarm.NewIdentity()
	require.NoError(t, err)

	if net == nil {
		net = newMemNetwork()
	}

	bus := events.NewBus(256, logger)
	ch, _ := bus.Subscribe()

	social := &fakeSocial{}
	assistant := &fakeAssistant{}
	quits := make(chan struct{}, 4)

	a := New(Options{
		Logger:       logger,
		Bus:          bus,
		Settings:     store,
		Sessions:     sessions,
		Social:       social,
		Assistant:    assistant,
		Identity:     id,
		Swarms:       net.factory(id.ID()),
		TempDir:      dir,
		LeaveTimeout: time.Second,
		SummaryGrace: 200 * time.Millisecond,
		OnQuit:       func() { quits <- struct{}{} },
	})
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	return &testApp{App: a, events: ch, social: social, assistant: assistant, sessions: sessions, quits: quits}
}

// waitEvent returns the next event called name, skipping others.
func waitEvent(t *testing.T, ch <-chan events.Event, name string) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "event stream closed waiting for %s", name)
			if evt.Name == name {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
			return events.Event{}
		}
	}
}

var errBoom = errors.New("boom")
