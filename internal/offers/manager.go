package offers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mbd888/offerflow/internal/metrics"
	"github.com/mbd888/offerflow/internal/reservation"
	"github.com/mbd888/offerflow/internal/traces"
)

// summaryInterval is how much elapsed polling time passes between offer
// count summary log lines.
const summaryInterval = 2 * time.Minute

// PollStateStore persists the opaque poll-state blob. The blob is handed
// back to the Gateway for its own resumption; this system only reads it to
// rebuild reservations after a restart.
type PollStateStore interface {
	Save(ctx context.Context, blob []byte) error
}

// Config holds the Manager tunables.
type Config struct {
	// PollInterval is the Gateway's snapshot polling interval; used only
	// to derive the reconciliation summary cadence.
	PollInterval time.Duration
	// ConfirmationSecret is the credential for confirmation acceptance.
	ConfirmationSecret string
	// Retry tunables; zero values use the package defaults.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Manager orchestrates the offer pipeline: it owns the processing queue and
// wires the Fetcher, the Handler's decision, and the Dispatcher together,
// keeping reservations and inventory consistent along the way.
type Manager struct {
	queue      *Queue
	fetcher    *Fetcher
	dispatcher *Dispatcher

	handler   Handler
	inventory Inventory
	tracker   *reservation.Tracker
	pollStore PollStateStore

	logger *slog.Logger
	events EventSink

	pollInterval time.Duration
	summaryEvery int
	pollCycles   int
}

// NewManager creates a Manager. The handler decides accept/decline; the
// tracker and inventory are shared with it so its policy can see what is
// already committed.
func NewManager(gw Gateway, handler Handler, inv Inventory, tracker *reservation.Tracker,
	store PollStateStore, cfg Config, logger *slog.Logger) *Manager {

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	summaryEvery := int(summaryInterval / cfg.PollInterval)
	if summaryEvery < 1 {
		summaryEvery = 1
	}

	m := &Manager{
		fetcher:      NewFetcher(gw, logger),
		dispatcher:   NewDispatcher(gw, cfg.ConfirmationSecret, logger),
		handler:      handler,
		inventory:    inv,
		tracker:      tracker,
		pollStore:    store,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		summaryEvery: summaryEvery,
	}
	if cfg.MaxAttempts > 0 || cfg.BaseDelay > 0 || cfg.MaxDelay > 0 {
		m.fetcher.SetRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay)
		m.dispatcher.SetRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay)
	}
	m.queue = NewQueue(m.processOffer, logger)
	return m
}

// SetEventSink attaches a lifecycle event sink for the realtime feed.
func (m *Manager) SetEventSink(sink EventSink) {
	m.events = sink
	m.dispatcher.SetEventSink(sink)
}

// Reservations returns the shared reservation tracker.
func (m *Manager) Reservations() *reservation.Tracker { return m.tracker }

// QueueSnapshot returns the queued offer ids and the in-flight flag.
func (m *Manager) QueueSnapshot() ([]string, bool) { return m.queue.Snapshot() }

// HandleNewOffer is the intake for a newly received offer notification.
// Glitched offers are discarded. Otherwise every item we would give away is
// reserved, the partner identity is stamped, and the offer is enqueued.
func (m *Manager) HandleNewOffer(ctx context.Context, offer *Offer) {
	if offer.Glitched {
		m.logger.Error("received glitched offer, discarding", "offer_id", offer.ID, "partner", offer.Partner)
		return
	}

	for _, item := range offer.ItemsToGive {
		m.tracker.Reserve(item.AssetID)
	}
	offer.EnsureMeta()[MetaPartner] = offer.Partner

	m.logger.Info("new offer received",
		"offer_id", offer.ID, "partner", offer.Partner,
		"giving", len(offer.ItemsToGive), "receiving", len(offer.ItemsToReceive))
	m.emit("offer.received", map[string]any{"offerId": offer.ID, "partner": offer.Partner})

	m.queue.Enqueue(ctx, offer.ID)
}

// HandlePollData ingests a periodic snapshot: items given away by any
// active-family sent offer or Active received offer are re-reserved, the
// snapshot is persisted as the durable poll state, and the Handler is
// notified. Running this against the last persisted snapshot on startup is
// what rebuilds the reservation set after a restart.
func (m *Manager) HandlePollData(ctx context.Context, data PollData) {
	reserveFrom := func(id string) {
		meta, ok := data.OfferData[id]
		if !ok {
			return
		}
		for _, item := range meta.Items(MetaOurItemsSnapshot) {
			m.tracker.Reserve(item.AssetID)
		}
	}

	for id, state := range data.Sent {
		if state.IsActiveFamily() {
			reserveFrom(id)
		}
	}
	for id, state := range data.Received {
		if state == StateActive {
			reserveFrom(id)
		}
	}

	blob, err := json.Marshal(data)
	if err != nil {
		m.logger.Error("failed to encode poll state", "error", err)
	} else if err := m.pollStore.Save(ctx, blob); err != nil {
		// Durability is best-effort: the next snapshot supersedes this one.
		m.logger.Warn("failed to persist poll state", "error", err)
	} else {
		metrics.PollSnapshots.Inc()
	}

	m.handler.OnPollData(ctx, data)
}

// HandleOfferList is the once-per-poll-cycle reconciliation sweep. Every
// ~2 minutes of elapsed polling time it logs a one-line offer count
// summary. Independently, every Active received offer we have not yet
// handled is re-enqueued; queue dedupe makes this safe.
func (m *Manager) HandleOfferList(ctx context.Context, sent, received []*Offer) {
	m.pollCycles++
	if m.pollCycles%m.summaryEvery == 0 {
		var sentActive, sentHold, recvActive, recvHold int
		for _, o := range sent {
			switch o.State {
			case StateActive:
				sentActive++
			case StateInEscrow:
				sentHold++
			}
		}
		for _, o := range received {
			switch o.State {
			case StateActive:
				recvActive++
			case StateInEscrow:
				recvHold++
			}
		}
		m.logger.Info("offer summary",
			"sent_active", sentActive, "sent_on_hold", sentHold,
			"received_active", recvActive, "received_on_hold", recvHold)
	}

	for _, o := range received {
		if o.State == StateActive && !o.EnsureMeta().GetBool(MetaHandledByUs) {
			m.queue.Enqueue(ctx, o.ID)
		}
	}

	// A lone id whose fetch exhausted its retries stays at the queue front;
	// this is where it gets its next chance.
	m.queue.Advance(ctx)
}

// HandleOfferChanged is the state-change reactor. It maintains the
// reservation set across the offer's lifecycle and, on a successful trade,
// reconciles the local inventory before the Handler observes the change.
func (m *Manager) HandleOfferChanged(ctx context.Context, offer *Offer, oldState State) {
	meta := offer.EnsureMeta()
	m.logger.Info("offer state changed",
		"offer_id", offer.ID, "old_state", oldState, "new_state", offer.State)
	m.emit("offer.state_changed", map[string]any{
		"offerId": offer.ID, "oldState": string(oldState), "newState": string(offer.State),
	})

	if offer.State.IsActiveFamily() {
		for _, item := range offer.ItemsToGive {
			m.tracker.Reserve(item.AssetID)
		}
		// The Gateway may clear the live item list once the trade moves
		// on; snapshot it while it is still populated.
		if offer.CreatedByUs && meta[MetaOurItemsSnapshot] == nil {
			meta[MetaOurItemsSnapshot] = offer.ItemsToGive
		}
		m.handler.OnOfferChanged(ctx, offer, oldState)
		return
	}

	items := offer.ItemsToGive
	if snap := meta.Items(MetaOurItemsSnapshot); len(snap) > 0 {
		items = snap
	}
	for _, item := range items {
		m.tracker.Release(item.AssetID)
	}
	delete(meta, MetaOurItemsSnapshot)

	now := time.Now()
	meta.SetTime(MetaFinishTimestamp, now)
	if start := meta.GetTime(MetaHandleTimestamp); !start.IsZero() {
		elapsed := now.Sub(start)
		metrics.ProcessingDuration.Observe(elapsed.Seconds())
		m.logger.Info("offer finished", "offer_id", offer.ID, "state", offer.State, "took", elapsed)
	} else {
		m.logger.Info("offer finished", "offer_id", offer.ID, "state", offer.State, "took", "unknown")
	}

	if offer.State != StateAccepted && offer.State != StateInEscrow {
		m.handler.OnOfferChanged(ctx, offer, oldState)
		return
	}

	// Success path: drop the traded items from the local cache and refresh
	// it from the Gateway so the Handler sees a post-trade-consistent view.
	for _, item := range items {
		m.inventory.RemoveItem(item.AssetID)
	}
	if err := m.inventory.Refresh(ctx); err != nil {
		m.logger.Warn("inventory refresh failed", "offer_id", offer.ID, "error", err)
	}
	m.handler.OnOfferChanged(ctx, offer, oldState)
}

// processOffer runs one queue pass: fetch the live offer, ask the Handler
// to decide, and dispatch the chosen action.
func (m *Manager) processOffer(ctx context.Context, id string) PassResult {
	ctx, span := traces.StartSpan(ctx, "offers.process", traces.OfferID(id))
	defer span.End()

	offer, err := m.fetcher.Fetch(ctx, id)
	if err != nil {
		m.logger.Error("offer fetch failed", "offer_id", id, "error", err)
		return PassRequeue
	}
	if offer == nil {
		// Vanished or no longer active; treated as completed.
		m.logger.Debug("offer absent, nothing to process", "offer_id", id)
		return PassCompleted
	}

	meta := offer.EnsureMeta()
	start := time.Now()
	meta.SetTime(MetaHandleTimestamp, start)

	decision, err := m.handler.OnNewOffer(ctx, offer)
	if err != nil {
		// Fatal for this offer's pass. Finishing keeps the queue moving;
		// the reconciliation sweep re-submits the offer if it stays active.
		metrics.OffersProcessed.WithLabelValues("none", "decision_error").Inc()
		m.logger.Error("handler decision failed, skipping offer", "offer_id", id, "error", err)
		return PassCompleted
	}

	meta[MetaHandleDuration] = time.Since(start).Milliseconds()
	meta[MetaDecision] = string(decision.Action)
	span.SetAttributes(traces.DecisionAction(string(decision.Action)), traces.Partner(offer.Partner))
	m.emit("offer.decided", map[string]any{"offerId": id, "action": string(decision.Action)})

	switch decision.Action {
	case ActionAccept:
		status, aerr := m.dispatcher.Accept(ctx, offer)
		if aerr != nil {
			metrics.OffersProcessed.WithLabelValues("accept", "error").Inc()
			m.logger.Error("offer accept failed, skipping offer", "offer_id", id, "error", aerr)
			return PassCompleted
		}
		metrics.OffersProcessed.WithLabelValues("accept", "ok").Inc()
		m.logger.Info("offer accepted", "offer_id", id, "status", status)
	case ActionDecline:
		if derr := m.dispatcher.Decline(ctx, offer); derr != nil {
			metrics.OffersProcessed.WithLabelValues("decline", "error").Inc()
			m.logger.Error("offer decline failed, skipping offer", "offer_id", id, "error", derr)
			return PassCompleted
		}
		metrics.OffersProcessed.WithLabelValues("decline", "ok").Inc()
		m.logger.Info("offer declined", "offer_id", id)
	default:
		metrics.OffersProcessed.WithLabelValues(string(decision.Action), "unknown_action").Inc()
		m.logger.Error("handler returned unknown action, skipping offer",
			"offer_id", id, "action", decision.Action)
	}

	return PassCompleted
}

func (m *Manager) emit(eventType string, data map[string]any) {
	if m.events != nil {
		m.events.Emit(eventType, data)
	}
}
