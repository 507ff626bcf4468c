// Package journal keeps an audit trail of the calls a bridge session dispatched.
package journal

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry is one dispatched call and its outcome.
type Entry struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	RequestID int64           `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Journal stores entries.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, sessionID string) ([]Entry, error)
	// Forget removes every entry of sessionID.
	Forget(ctx context.Context, sessionID string) error
	Close() error
}

// InMemoryJournal is an in-memory implementation of Journal
type InMemoryJournal struct {
	entries    map[string][]Entry
	maxEntries int
	mu         sync.RWMutex
}

// InMemoryOption configures an InMemoryJournal
type InMemoryOption func(*InMemoryJournal)

// UseMaxEntries keeps at most n entries per session, dropping the oldest
// recorded first. n <= 0 keeps everything.
func UseMaxEntries(n int) InMemoryOption {
	return func(j *InMemoryJournal) {
		j.maxEntries = n
	}
}

// NewInMemoryJournal creates a new instance of InMemoryJournal
func NewInMemoryJournal(opts ...InMemoryOption) *InMemoryJournal {
	j := &InMemoryJournal{
		entries: make(map[string][]Entry),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record appends entry to its session
func (j *InMemoryJournal) Record(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := append(j.entries[entry.SessionID], entry)
	if j.maxEntries > 0 && len(entries) > j.maxEntries {
		n := copy(entries, entries[len(entries)-j.maxEntries:])
		for i := n; i < len(entries); i++ {
			entries[i] = Entry{}
		}
		entries = entries[:n]
	}
	j.entries[entry.SessionID] = entries
	return nil
}

// Forget drops every entry of sessionID
func (j *InMemoryJournal) Forget(ctx context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.entries, sessionID)
	return nil
}

// Sessions returns how many sessions currently hold entries
func (j *InMemoryJournal) Sessions() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// List returns the entries of a session ordered by start time
func (j *InMemoryJournal) List(ctx context.Context, sessionID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries := make([]Entry, len(j.entries[sessionID]))
	copy(entries, j.entries[sessionID])
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].StartedAt.Before(entries[b].StartedAt)
	})
	return entries, nil
}

// Close is a no-op
func (j *InMemoryJournal) Close() error {
	return nil
}
