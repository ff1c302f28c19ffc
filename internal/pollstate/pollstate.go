// Package pollstate persists the Gateway's poll-state snapshot.
//
// The blob is opaque: it is handed back to the Gateway for its own
// resumption, and read once at startup to rebuild reservations. Only the
// latest snapshot matters, so stores keep a single row.
package pollstate

import (
	"context"
	"errors"
)

// ErrNoState is returned by Load when no snapshot has been persisted yet.
var ErrNoState = errors.New("pollstate: no poll state persisted")

// Store persists the last-seen poll-state blob.
type Store interface {
	// Save replaces the persisted snapshot with blob.
	Save(ctx context.Context, blob []byte) error
	// Load returns the persisted snapshot, or ErrNoState.
	Load(ctx context.Context) ([]byte, error)
}
