// Package batch groups jobs submitted together and emits one summary when
// the whole group has finished.
package batch

import (
	"fmt"
	"sync"

	"github.com/relayq/relayq/internal/relay"
)

// Summary is the single combined completion notice for a closed batch.
type Summary struct {
	BatchID   string       `json:"batch_id"`
	Origin    relay.Origin `json:"origin"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
}

type state struct {
	origin    relay.Origin
	total     int
	completed int
	failed    int
}

// Tracker owns the in-memory batch table. Batches are not persisted: one
// in progress at crash time is simply lost, its member jobs still complete
// individually through the ledger.
type Tracker struct {
	mu      sync.Mutex
	idGen   relay.IDGenerator
	batches map[string]*state
}

// NewTracker constructs a Tracker.
func NewTracker(idGen relay.IDGenerator) *Tracker {
	return &Tracker{idGen: idGen, batches: make(map[string]*state)}
}

// Open registers a batch sized by the number of jobs actually enqueued,
// not the number originally parsed. A batch never opens with fewer than
// two members; single jobs reply individually.
func (t *Tracker) Open(origin relay.Origin, expected int) (string, error) {
	if expected < 2 {
		return "", fmt.Errorf("batch requires at least 2 jobs, got %d", expected)
	}
	id, err := t.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[id] = &state{origin: origin, total: expected}
	return id, nil
}

// Record counts one member outcome. When the batch closes it returns its
// summary exactly once and discards the record. Unknown batch IDs (for
// example from before a restart) are ignored.
func (t *Tracker) Record(batchID string, success bool) (Summary, bool) {
	if batchID == "" {
		return Summary{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return Summary{}, false
	}
	if success {
		b.completed++
	} else {
		b.failed++
	}
	if b.completed+b.failed < b.total {
		return Summary{}, false
	}
	delete(t.batches, batchID)
	return Summary{
		BatchID:   batchID,
		Origin:    b.origin,
		Total:     b.total,
		Completed: b.completed,
		Failed:    b.failed,
	}, true
}

// Len reports how many batches are still open.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}
