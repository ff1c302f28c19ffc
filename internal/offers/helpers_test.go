package offers

import (
	"context"
	"log/slog"
	"sync"
)

// fakeGateway scripts Gateway behavior through function fields. Nil fields
// succeed with zero values.
type fakeGateway struct {
	mu sync.Mutex

	getOffer       func(ctx context.Context, id string) (*Offer, error)
	accept         func(ctx context.Context, offer *Offer) (AcceptStatus, error)
	decline        func(ctx context.Context, offer *Offer) error
	refreshSession func(ctx context.Context, force bool) error
	acceptConfirm  func(ctx context.Context, secret, offerID string) error

	getOfferCalls int
	refreshCalls  []bool
	confirmCalls  []string
}

func (g *fakeGateway) GetOffer(ctx context.Context, id string) (*Offer, error) {
	g.mu.Lock()
	g.getOfferCalls++
	g.mu.Unlock()
	if g.getOffer != nil {
		return g.getOffer(ctx, id)
	}
	return &Offer{ID: id, State: StateActive}, nil
}

func (g *fakeGateway) Accept(ctx context.Context, offer *Offer) (AcceptStatus, error) {
	if g.accept != nil {
		return g.accept(ctx, offer)
	}
	return AcceptedOutright, nil
}

func (g *fakeGateway) Decline(ctx context.Context, offer *Offer) error {
	if g.decline != nil {
		return g.decline(ctx, offer)
	}
	return nil
}

func (g *fakeGateway) RefreshSession(ctx context.Context, force bool) error {
	g.mu.Lock()
	g.refreshCalls = append(g.refreshCalls, force)
	g.mu.Unlock()
	if g.refreshSession != nil {
		return g.refreshSession(ctx, force)
	}
	return nil
}

func (g *fakeGateway) AcceptConfirmation(ctx context.Context, secret, offerID string) error {
	g.mu.Lock()
	g.confirmCalls = append(g.confirmCalls, offerID)
	g.mu.Unlock()
	if g.acceptConfirm != nil {
		return g.acceptConfirm(ctx, secret, offerID)
	}
	return nil
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOfferCalls
}

func (g *fakeGateway) confirmed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.confirmCalls))
	copy(out, g.confirmCalls)
	return out
}

func (g *fakeGateway) refreshed() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]bool, len(g.refreshCalls))
	copy(out, g.refreshCalls)
	return out
}

// fakeHandler records callbacks and scripts decisions.
type fakeHandler struct {
	mu sync.Mutex

	decide func(ctx context.Context, offer *Offer) (Decision, error)

	decided   []string
	changed   []string
	pollCalls int
}

func (h *fakeHandler) OnNewOffer(ctx context.Context, offer *Offer) (Decision, error) {
	h.mu.Lock()
	h.decided = append(h.decided, offer.ID)
	h.mu.Unlock()
	if h.decide != nil {
		return h.decide(ctx, offer)
	}
	return Decision{Action: ActionDecline}, nil
}

func (h *fakeHandler) OnOfferChanged(ctx context.Context, offer *Offer, oldState State) {
	h.mu.Lock()
	h.changed = append(h.changed, offer.ID)
	h.mu.Unlock()
}

func (h *fakeHandler) OnPollData(ctx context.Context, data PollData) {
	h.mu.Lock()
	h.pollCalls++
	h.mu.Unlock()
}

func (h *fakeHandler) decidedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.decided))
	copy(out, h.decided)
	return out
}

func (h *fakeHandler) changedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.changed))
	copy(out, h.changed)
	return out
}

func (h *fakeHandler) pollDataCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pollCalls
}

// fakeInventory tracks removals and refreshes.
type fakeInventory struct {
	mu         sync.Mutex
	removed    []string
	refreshes  int
	refreshErr error
}

func (i *fakeInventory) RemoveItem(assetID string) {
	i.mu.Lock()
	i.removed = append(i.removed, assetID)
	i.mu.Unlock()
}

func (i *fakeInventory) Refresh(ctx context.Context) error {
	i.mu.Lock()
	i.refreshes++
	i.mu.Unlock()
	return i.refreshErr
}

func (i *fakeInventory) removedItems() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.removed))
	copy(out, i.removed)
	return out
}

func (i *fakeInventory) refreshCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refreshes
}

// blobStore is an in-memory PollStateStore.
type blobStore struct {
	mu    sync.Mutex
	blob  []byte
	saves int
}

func (s *blobStore) Save(ctx context.Context, blob []byte) error {
	s.mu.Lock()
	s.blob = append([]byte(nil), blob...)
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *blobStore) saved() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.blob...), s.saves
}

// sinkRecorder captures emitted events.
type sinkRecorder struct {
	mu     sync.Mutex
	events []string
}

func (s *sinkRecorder) Emit(eventType string, data map[string]any) {
	s.mu.Lock()
	s.events = append(s.events, eventType)
	s.mu.Unlock()
}

func (s *sinkRecorder) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

func testLogger() *slog.Logger { return slog.Default() }
