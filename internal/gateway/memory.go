package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbd888/offerflow/internal/idgen"
	"github.com/mbd888/offerflow/internal/offers"
)

// Memory is an in-process Gateway simulation for demo/development mode.
// It keeps offers and inventory in maps and delivers notifications
// synchronously, which also makes end-to-end tests deterministic.
//
// Every offer that leaves Memory (fetches, poll snapshots, notifications)
// is a clone taken under the lock; callers annotate their own copy and the
// accept/decline calls merge those annotations back into the stored record,
// the way a remote service round-trips the metadata bag.
type Memory struct {
	confirmSecret string
	// needsConfirmation makes accepts resolve "pending" and require the
	// confirmation step, mirroring a credential-protected remote account.
	needsConfirmation bool

	mu        sync.Mutex
	offers    map[string]*offers.Offer
	inventory map[string]offers.Item

	failGetErr  error
	failGetLeft int

	notifier Notifier
	logger   *slog.Logger
}

// NewMemory creates an empty in-memory gateway.
func NewMemory(confirmSecret string, needsConfirmation bool, logger *slog.Logger) *Memory {
	return &Memory{
		confirmSecret:     confirmSecret,
		needsConfirmation: needsConfirmation,
		offers:            make(map[string]*offers.Offer),
		inventory:         make(map[string]offers.Item),
		logger:            logger,
	}
}

// SetNotifier attaches the event consumer. Must be called before any offer
// traffic is injected.
func (m *Memory) SetNotifier(n Notifier) { m.notifier = n }

// --- offers.Gateway ---

func (m *Memory) GetOffer(ctx context.Context, id string) (*offers.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failGetLeft > 0 {
		m.failGetLeft--
		return nil, m.failGetErr
	}
	o, ok := m.offers[id]
	if !ok {
		return nil, offers.ErrOfferNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) Accept(ctx context.Context, offer *offers.Offer) (offers.AcceptStatus, error) {
	m.mu.Lock()
	o, ok := m.offers[offer.ID]
	if !ok {
		m.mu.Unlock()
		return "", offers.ErrOfferNotFound
	}
	if o.State != offers.StateActive {
		m.mu.Unlock()
		return "", &offers.ProtocolError{Code: 11, Message: "offer is not active"}
	}

	m.mergeMetaLocked(o, offer.Meta)
	old := o.State
	status := offers.AcceptedOutright
	if m.needsConfirmation {
		o.State = offers.StateCreatedNeedsConfirmation
		status = offers.AcceptedPending
	} else {
		o.State = offers.StateAccepted
	}
	snap := o.Clone()
	m.mu.Unlock()

	m.notifyChanged(ctx, snap, old)
	return status, nil
}

func (m *Memory) Decline(ctx context.Context, offer *offers.Offer) error {
	m.mu.Lock()
	o, ok := m.offers[offer.ID]
	if !ok {
		m.mu.Unlock()
		return offers.ErrOfferNotFound
	}
	m.mergeMetaLocked(o, offer.Meta)
	old := o.State
	o.State = offers.StateDeclined
	snap := o.Clone()
	m.mu.Unlock()

	m.notifyChanged(ctx, snap, old)
	return nil
}

func (m *Memory) RefreshSession(ctx context.Context, force bool) error {
	return nil
}

func (m *Memory) AcceptConfirmation(ctx context.Context, secret, offerID string) error {
	if secret != m.confirmSecret {
		return &offers.ProtocolError{Code: 2, Message: "invalid confirmation credential"}
	}

	m.mu.Lock()
	o, ok := m.offers[offerID]
	if !ok {
		m.mu.Unlock()
		return offers.ErrOfferNotFound
	}
	old := o.State
	o.State = offers.StateAccepted
	snap := o.Clone()
	m.mu.Unlock()

	m.notifyChanged(ctx, snap, old)
	return nil
}

// --- inventory.Source ---

// FetchInventory returns the current simulated inventory.
func (m *Memory) FetchInventory(ctx context.Context) ([]offers.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]offers.Item, 0, len(m.inventory))
	for _, item := range m.inventory {
		items = append(items, item)
	}
	return items, nil
}

// --- gateway.Source ---

// Poll synthesizes the poll snapshot from the current offer set.
func (m *Memory) Poll(ctx context.Context) (offers.PollData, []*offers.Offer, []*offers.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := offers.PollData{
		Sent:      make(map[string]offers.State),
		Received:  make(map[string]offers.State),
		OfferData: make(map[string]offers.Metadata),
	}
	var sent, received []*offers.Offer

	for id, o := range m.offers {
		snap := o.Clone()
		if o.CreatedByUs {
			data.Sent[id] = o.State
			sent = append(sent, snap)
		} else {
			data.Received[id] = o.State
			received = append(received, snap)
		}
		if len(snap.Meta) > 0 {
			data.OfferData[id] = snap.Meta
		}
	}
	return data, sent, received, nil
}

// --- simulation controls ---

// AddItems seeds the simulated inventory.
func (m *Memory) AddItems(items ...offers.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.inventory[item.AssetID] = item
	}
}

// ReceiveOffer simulates a partner proposing an exchange: the offer is
// stored Active and delivered through the new-offer notification.
func (m *Memory) ReceiveOffer(ctx context.Context, partner string, give, receive []offers.Item) *offers.Offer {
	o := &offers.Offer{
		ID:             idgen.WithPrefix("off_"),
		Partner:        partner,
		State:          offers.StateActive,
		ItemsToGive:    give,
		ItemsToReceive: receive,
	}
	m.InjectOffer(ctx, o)
	return o
}

// InjectOffer stores a prebuilt offer and delivers the new-offer
// notification. Tests use this to inject glitched or sent offers. The
// caller keeps its own copy; later mutations of it are not seen.
func (m *Memory) InjectOffer(ctx context.Context, o *offers.Offer) {
	stored := o.Clone()
	m.mu.Lock()
	m.offers[stored.ID] = stored
	m.mu.Unlock()

	if m.notifier != nil && !o.CreatedByUs {
		m.notifier.HandleNewOffer(ctx, stored.Clone())
	}
}

// SetOfferState forces a state transition, simulating a partner-side or
// remote-service change (cancelled, countered, escrow release, ...).
func (m *Memory) SetOfferState(ctx context.Context, id string, state offers.State) {
	m.mu.Lock()
	o, ok := m.offers[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	old := o.State
	o.State = state
	snap := o.Clone()
	m.mu.Unlock()

	m.notifyChanged(ctx, snap, old)
}

// FailNextGetOffer makes the next n GetOffer calls fail with err.
func (m *Memory) FailNextGetOffer(err error, n int) {
	m.mu.Lock()
	m.failGetErr = err
	m.failGetLeft = n
	m.mu.Unlock()
}

// mergeMetaLocked copies the caller's metadata annotations into the stored
// record so they survive into later fetches and poll snapshots. Caller must
// hold m.mu.
func (m *Memory) mergeMetaLocked(o *offers.Offer, meta offers.Metadata) {
	if len(meta) == 0 {
		return
	}
	stored := o.EnsureMeta()
	for k, v := range meta {
		stored[k] = v
	}
}

func (m *Memory) notifyChanged(ctx context.Context, o *offers.Offer, old offers.State) {
	if m.notifier != nil && o.State != old {
		m.notifier.HandleOfferChanged(ctx, o, old)
	}
}
