package chain

import (
	"context"
	"sync"

	"github.com/penserai/acteon/pkg/acteon"
)

// InMemoryDLQ collects dead-lettered chain steps for inspection (tests,
// single-process deployments without an external queue).
type InMemoryDLQ struct {
	mu      sync.Mutex
	entries []acteon.DeadLetterEntry
}

func NewInMemoryDLQ() *InMemoryDLQ {
	return &InMemoryDLQ{}
}

func (d *InMemoryDLQ) Push(_ context.Context, entry acteon.DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	return nil
}

func (d *InMemoryDLQ) Entries() []acteon.DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]acteon.DeadLetterEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len, IsEmpty and Drain back Gateway.DLQLen/DLQIsEmpty/DLQDrain, the
// in-process equivalents of the out-of-scope HTTP contract's
// GET /v1/dlq/stats and POST /v1/dlq/drain.
func (d *InMemoryDLQ) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *InMemoryDLQ) IsEmpty() bool {
	return d.Len() == 0
}

// Drain removes and returns every queued entry.
func (d *InMemoryDLQ) Drain() []acteon.DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.entries
	d.entries = nil
	return out
}

var _ DLQSink = (*InMemoryDLQ)(nil)
