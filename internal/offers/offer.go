// Package offers implements the sequential trade-offer processing pipeline.
//
// Flow:
//  1. Gateway reports a new offer → intake reserves our items and enqueues it
//  2. Queue fetches the live offer (with retry) and asks the Handler to decide
//  3. Decision routed to accept/decline against the Gateway
//  4. State-change notifications release reservations and reconcile inventory
//
// Exactly one offer is fetched, decided, and acted on at a time; the Queue
// owns that invariant.
package offers

import (
	"context"
	"time"
)

// State is the lifecycle state of an offer, as reported by the Gateway.
type State string

const (
	StateActive                   State = "active"
	StateCreatedNeedsConfirmation State = "created_needs_confirmation"
	StateInEscrow                 State = "in_escrow"
	StateAccepted                 State = "accepted"
	StateDeclined                 State = "declined"
	StateCancelled                State = "cancelled"
	StateCountered                State = "countered"
	StateExpired                  State = "expired"
	StateInvalid                  State = "invalid"
)

// IsActiveFamily reports whether the state still holds our items:
// the offer is live or awaiting our mobile confirmation.
func (s State) IsActiveFamily() bool {
	return s == StateActive || s == StateCreatedNeedsConfirmation
}

// Item is a single tradable item. Only AssetID is used for reservation
// uniqueness within this process.
type Item struct {
	NamespaceID string `json:"namespaceId"`
	ContextID   string `json:"contextId"`
	AssetID     string `json:"assetId"`
}

// Metadata keys stamped into an offer's metadata bag. The bag is owned by
// the Gateway and round-trips through its poll state; we only annotate it.
const (
	MetaPartner             = "partner"
	MetaHandledByUs         = "handledByUs"
	MetaHandleTimestamp     = "handleTimestamp"
	MetaHandleDuration      = "handleDuration"
	MetaDecision            = "decision"
	MetaActionTimestamp     = "actionTimestamp"
	MetaOurItemsSnapshot    = "ourItemsSnapshot"
	MetaActedOnConfirmation = "actedOnConfirmation"
	MetaConfirmTimestamp    = "confirmTimestamp"
	MetaFinishTimestamp     = "finishTimestamp"
)

// Metadata is an offer's key→value bookkeeping bag.
type Metadata map[string]any

// GetBool returns the boolean value for key, false if absent or mistyped.
func (m Metadata) GetBool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

// GetTime returns the time stored under key, zero if absent.
func (m Metadata) GetTime(key string) time.Time {
	switch v := m[key].(type) {
	case time.Time:
		return v
	case int64:
		return time.UnixMilli(v)
	case float64:
		return time.UnixMilli(int64(v))
	}
	return time.Time{}
}

// SetTime stamps key with t as unix milliseconds, the form that survives a
// JSON round-trip through the persisted poll state.
func (m Metadata) SetTime(key string, t time.Time) {
	m[key] = t.UnixMilli()
}

// Items returns the item list stored under key, nil if absent.
func (m Metadata) Items(key string) []Item {
	switch v := m[key].(type) {
	case []Item:
		return v
	case []any:
		// Decoded from persisted JSON.
		items := make([]Item, 0, len(v))
		for _, e := range v {
			obj, ok := e.(map[string]any)
			if !ok {
				continue
			}
			it := Item{}
			it.NamespaceID, _ = obj["namespaceId"].(string)
			it.ContextID, _ = obj["contextId"].(string)
			it.AssetID, _ = obj["assetId"].(string)
			items = append(items, it)
		}
		return items
	}
	return nil
}

// Offer is a proposed exchange of items with a remote partner. Core fields
// are owned by the Gateway; this system mutates only the Meta bag.
type Offer struct {
	ID             string   `json:"id"`
	Partner        string   `json:"partner"`
	State          State    `json:"state"`
	ItemsToGive    []Item   `json:"itemsToGive"`
	ItemsToReceive []Item   `json:"itemsToReceive"`
	CreatedByUs    bool     `json:"createdByUs"`
	Glitched       bool     `json:"glitched"`
	Meta           Metadata `json:"meta"`
}

// EnsureMeta lazily allocates the metadata bag.
func (o *Offer) EnsureMeta() Metadata {
	if o.Meta == nil {
		o.Meta = Metadata{}
	}
	return o.Meta
}

// Clone returns a copy of the bag. Values are copied by reference; stored
// item slices are never mutated in place.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone returns a copy of the offer that is safe to hand to another
// goroutine: the metadata bag and item slices are copied.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	c := *o
	c.Meta = o.Meta.Clone()
	c.ItemsToGive = append([]Item(nil), o.ItemsToGive...)
	c.ItemsToReceive = append([]Item(nil), o.ItemsToReceive...)
	return &c
}

// Action is the Handler's verdict on an offer.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// Decision is the result of the Handler evaluating a new offer.
type Decision struct {
	Action Action `json:"action"`
}

// AcceptStatus is the Gateway's result for a successful accept call.
type AcceptStatus string

const (
	// AcceptedOutright means the trade went through immediately.
	AcceptedOutright AcceptStatus = "accepted"
	// AcceptedPending means the trade awaits a confirmation step.
	AcceptedPending AcceptStatus = "pending"
)

// PollData is the periodic snapshot of all tracked offers on both sides,
// plus the per-offer metadata bags. It is persisted verbatim as the durable
// poll state; ingestion reads only this shape.
type PollData struct {
	Sent      map[string]State    `json:"sent"`
	Received  map[string]State    `json:"received"`
	OfferData map[string]Metadata `json:"offerData"`
}

// Gateway is the external service integration that speaks the actual wire
// protocol for fetching and acting on offers.
type Gateway interface {
	// GetOffer retrieves a live offer by id. Returns ErrOfferNotFound when
	// the offer no longer exists.
	GetOffer(ctx context.Context, id string) (*Offer, error)
	// Accept accepts an offer. A *ProtocolError result is never retried.
	Accept(ctx context.Context, offer *Offer) (AcceptStatus, error)
	// Decline declines an offer.
	Decline(ctx context.Context, offer *Offer) error
	// RefreshSession re-establishes the remote session after expiry.
	RefreshSession(ctx context.Context, force bool) error
	// AcceptConfirmation completes the confirmation step for a pending
	// accept using the configured confirmation credential.
	AcceptConfirmation(ctx context.Context, secret, offerID string) error
}

// Handler is the external consumer that decides accept/decline and reacts
// to offer lifecycle events.
type Handler interface {
	// OnNewOffer evaluates a fetched offer and returns a Decision.
	// An error is fatal for this offer's processing pass.
	OnNewOffer(ctx context.Context, offer *Offer) (Decision, error)
	// OnOfferChanged is invoked after a state transition has been
	// reconciled (reservations released, inventory refreshed on success).
	OnOfferChanged(ctx context.Context, offer *Offer, oldState State)
	// OnPollData receives each snapshot after it has been persisted.
	OnPollData(ctx context.Context, data PollData)
}

// Inventory is the local item cache kept consistent after completed trades.
type Inventory interface {
	RemoveItem(assetID string)
	Refresh(ctx context.Context) error
}
