package offers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/offerflow/internal/metrics"
	"github.com/mbd888/offerflow/internal/retry"
)

const confirmTimeout = 30 * time.Second

// EventSink receives offer lifecycle events for observers (the realtime
// feed). Implementations must not block.
type EventSink interface {
	Emit(eventType string, data map[string]any)
}

// Dispatcher drives accept/decline/confirm actions against the Gateway.
type Dispatcher struct {
	gw            Gateway
	confirmSecret string
	logger        *slog.Logger
	events        EventSink

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewDispatcher creates a Dispatcher. confirmSecret is the credential used
// for the confirmation-acceptance step of pending accepts.
func NewDispatcher(gw Gateway, confirmSecret string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gw:            gw,
		confirmSecret: confirmSecret,
		logger:        logger,
		maxAttempts:   DefaultMaxAttempts,
		baseDelay:     DefaultBaseDelay,
		maxDelay:      DefaultMaxDelay,
	}
}

// SetRetryPolicy overrides the accept attempt cap and backoff bounds.
func (d *Dispatcher) SetRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) {
	if maxAttempts > 0 {
		d.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		d.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		d.maxDelay = maxDelay
	}
}

// SetEventSink attaches a lifecycle event sink.
func (d *Dispatcher) SetEventSink(sink EventSink) { d.events = sink }

// Accept accepts the offer, retrying transient Gateway errors with backoff.
// An expired session triggers a forced refresh before the retry. A
// protocol-level rejection or an exhausted attempt cap is permanent.
// When the Gateway reports the accept as pending, a detached confirmation
// task is started; its failure never fails the accept.
func (d *Dispatcher) Accept(ctx context.Context, offer *Offer) (AcceptStatus, error) {
	meta := offer.EnsureMeta()
	meta[MetaHandledByUs] = true
	meta.SetTime(MetaActionTimestamp, time.Now())

	var status AcceptStatus
	err := retry.Do(ctx, d.maxAttempts, d.baseDelay, d.maxDelay, func() error {
		s, aerr := d.gw.Accept(ctx, offer)
		if errors.Is(aerr, ErrSessionExpired) {
			// Same carve-out as the fetch path: force a refresh and retry
			// right away instead of waiting out the backoff.
			if rerr := d.gw.RefreshSession(ctx, true); rerr != nil {
				d.logger.Warn("session refresh failed", "offer_id", offer.ID, "error", rerr)
				return aerr
			}
			s, aerr = d.gw.Accept(ctx, offer)
		}
		if aerr != nil {
			if IsProtocolRejection(aerr) {
				return retry.Permanent(aerr)
			}
			return aerr
		}
		status = s
		return nil
	})
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("accept", "error").Inc()
		if IsProtocolRejection(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &RetriesExhaustedError{Op: "accept", Attempts: d.maxAttempts, LastErr: err}
	}

	metrics.ActionsTotal.WithLabelValues("accept", string(status)).Inc()
	if status == AcceptedPending {
		// Fire-and-forget: the confirmation must not be awaited by the
		// pipeline's completion path.
		go d.Confirm(offer)
	}
	return status, nil
}

// Decline declines the offer. Single attempt, no retry.
func (d *Dispatcher) Decline(ctx context.Context, offer *Offer) error {
	meta := offer.EnsureMeta()
	meta[MetaHandledByUs] = true
	meta.SetTime(MetaActionTimestamp, time.Now())

	if err := d.gw.Decline(ctx, offer); err != nil {
		metrics.ActionsTotal.WithLabelValues("decline", "error").Inc()
		return err
	}
	metrics.ActionsTotal.WithLabelValues("decline", "ok").Inc()
	return nil
}

// Confirm performs the confirmation-acceptance step for a pending accept.
// Single attempt; failure is logged and reported to observers, nothing else.
func (d *Dispatcher) Confirm(offer *Offer) {
	meta := offer.EnsureMeta()
	meta[MetaActedOnConfirmation] = true
	meta.SetTime(MetaConfirmTimestamp, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()

	if err := d.gw.AcceptConfirmation(ctx, d.confirmSecret, offer.ID); err != nil {
		metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
		d.logger.Error("offer confirmation failed", "offer_id", offer.ID, "error", err)
		d.emit("offer.confirmation_failed", map[string]any{"offerId": offer.ID, "error": err.Error()})
		return
	}
	metrics.ConfirmationsTotal.WithLabelValues("ok").Inc()
	d.logger.Info("offer confirmed", "offer_id", offer.ID)
	d.emit("offer.confirmed", map[string]any{"offerId": offer.ID})
}

func (d *Dispatcher) emit(eventType string, data map[string]any) {
	if d.events != nil {
		d.events.Emit(eventType, data)
	}
}
