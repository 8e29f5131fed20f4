package app

import (
	"context"
	"errors"
	"sync"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/events"
)

// Summary is the summary-generated payload.
type Summary struct {
	Room    string `json:"room,omitempty"`
	Summary string `json:"summary"`
	Lines   int    `json:"lines"`
}

// GenerateCallSummary summarizes the current call transcript. Shutdown
// waits briefly for summaries still in flight.
func (a *App) GenerateCallSummary(ctx context.Context) (Summary, error) {
	a.summaries.begin()
	defer a.summaries.end()

	lines := a.transcript.Lines()
	if len(lines) == 0 {
		return Summary{}, apperr.Validation("generate summary", errors.New("nothing has been transcribed yet"))
	}

	text, err := a.assistant.Summarize(ctx, lines)
	if err != nil {
		return Summary{}, err
	}

	room, _, _ := a.manager.Room()
	s := Summary{Room: room, Summary: text, Lines: len(lines)}
	a.bus.Publish(events.SummaryGenerated, s)
	return s, nil
}

// GenerateTaskFromConversation extracts action items from conversation, or
// from the call transcript when conversation is empty.
func (a *App) GenerateTaskFromConversation(ctx context.Context, conversation []string) ([]string, error) {
	if len(conversation) == 0 {
		conversation = a.transcript.Lines()
	}
	if len(conversation) == 0 {
		return nil, apperr.Validation("generate tasks", errors.New("conversation is empty"))
	}

	tasks, err := a.assistant.ExtractTasks(ctx, conversation)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []string{}
	}
	return tasks, nil
}

// summaryTracker counts running summaries. Unlike a WaitGroup it can be
// joined while shutdown is already waiting on it.
type summaryTracker struct {
	mu       sync.Mutex
	running  int
	finished int
	changed  chan struct{}
}

func newSummaryTracker() *summaryTracker {
	return &summaryTracker{changed: make(chan struct{})}
}

func (t *summaryTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running++
	t.notify()
}

func (t *summaryTracker) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running--
	t.finished++
	t.notify()
}

// notify must be called with mu held.
func (t *summaryTracker) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *summaryTracker) mark() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// state reports the running count and whether the tracker has settled: no
// summary running and at least one finished since mark. changed is closed
// on the next begin or end.
func (t *summaryTracker) state(mark int) (running int, settled bool, changed <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running, t.running == 0 && t.finished > mark, t.changed
}
