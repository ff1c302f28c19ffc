// Package gateway hosts the Gateway-side plumbing that is not the wire
// protocol itself: a Poller that turns a snapshot source into the periodic
// poll-data and reconciliation callbacks, and an in-process Memory gateway
// used in development mode and end-to-end tests.
//
// A production integration implements offers.Gateway and Source against the
// real remote service and plugs into the same Poller.
package gateway

import (
	"context"

	"github.com/mbd888/offerflow/internal/offers"
)

// Source produces the periodic full snapshot of tracked offers.
type Source interface {
	// Poll returns the current poll data plus the live sent/received
	// offer lists for the reconciliation sweep.
	Poll(ctx context.Context) (offers.PollData, []*offers.Offer, []*offers.Offer, error)
}

// Notifier receives Gateway-originated events. *offers.Manager satisfies it.
type Notifier interface {
	HandleNewOffer(ctx context.Context, offer *offers.Offer)
	HandleOfferChanged(ctx context.Context, offer *offers.Offer, oldState offers.State)
	HandlePollData(ctx context.Context, data offers.PollData)
	HandleOfferList(ctx context.Context, sent, received []*offers.Offer)
}
