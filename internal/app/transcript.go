package app

import (
	"fmt"
	"sync"
)

const maxTranscriptLines = 5000

// TranscriptEntry is one spoken line in the current call.
type TranscriptEntry struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Transcript collects the lines of the current call, local and remote.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) AddLine(speaker, text string, at int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, TranscriptEntry{Speaker: speaker, Text: text, Timestamp: at})
	if len(t.entries) > maxTranscriptLines {
		t.entries = t.entries[len(t.entries)-maxTranscriptLines:]
	}
}

// Lines renders the transcript as "speaker: text".
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Speaker, e.Text))
	}
	return lines
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
