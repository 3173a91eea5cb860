package realtime

import (
	"sync"

	"github.com/interviewkit/ivk-go/pkg/core/types"
)

// transcriptLog is the append-only receipt-ordered transcript. Entries are
// never mutated once appended; snapshots copy so a finalize payload cannot be
// changed by later arrivals.
type transcriptLog struct {
	mu      sync.Mutex
	entries []types.TranscriptEntry
}

func newTranscriptLog() *transcriptLog {
	return &transcriptLog{entries: make([]types.TranscriptEntry, 0, 16)}
}

func (l *transcriptLog) append(e types.TranscriptEntry) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return len(l.entries)
}

func (l *transcriptLog) snapshot() []types.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *transcriptLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
