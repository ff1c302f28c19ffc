// Package reservation tracks which items are committed to an in-flight offer.
//
// An asset id is either reserved or not; reserving twice or releasing an
// unreserved id is a no-op. The Handler consults the tracker so a decision
// policy never double-allocates an item across concurrent proposals.
package reservation

import (
	"sync"

	"github.com/mbd888/offerflow/internal/metrics"
)

// Tracker is a mutex-guarded set of reserved asset ids.
type Tracker struct {
	mu       sync.RWMutex
	reserved map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{reserved: make(map[string]struct{})}
}

// Reserve marks assetID as committed. Idempotent.
func (t *Tracker) Reserve(assetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reserved[assetID]; ok {
		return
	}
	t.reserved[assetID] = struct{}{}
	metrics.ReservedItems.Set(float64(len(t.reserved)))
}

// Release removes assetID from the reserved set. Idempotent.
func (t *Tracker) Release(assetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reserved[assetID]; !ok {
		return
	}
	delete(t.reserved, assetID)
	metrics.ReservedItems.Set(float64(len(t.reserved)))
}

// IsReserved reports whether assetID is committed to some in-flight offer.
func (t *Tracker) IsReserved(assetID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.reserved[assetID]
	return ok
}

// Snapshot returns the currently reserved asset ids (unordered).
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.reserved))
	for id := range t.reserved {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of reserved asset ids.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.reserved)
}
