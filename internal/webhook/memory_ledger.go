package webhook

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for dev mode and tests.
type MemoryLedger struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed map[string]bool
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		seen:      make(map[string]bool),
		processed: make(map[string]bool),
	}
}

// Record claims the event id. Only an event whose side effects already
// committed is refused; an unprocessed one stays claimable for retries.
func (l *MemoryLedger) Record(_ context.Context, eventID, _, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.processed[eventID] {
		return false, nil
	}
	l.seen[eventID] = true
	return true, nil
}

// MarkProcessed stamps the event as handled.
func (l *MemoryLedger) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[eventID] = true
	return nil
}

// Processed reports whether the event's side effects committed.
func (l *MemoryLedger) Processed(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[eventID]
}
