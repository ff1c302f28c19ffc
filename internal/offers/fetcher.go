package offers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/offerflow/internal/metrics"
	"github.com/mbd888/offerflow/internal/retry"
)

// Retry defaults. Backoff constants are a tunable, not a contract; override
// via SetRetryPolicy.
const (
	DefaultMaxAttempts = 6
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Fetcher retrieves live offers from the Gateway with bounded retry.
type Fetcher struct {
	gw     Gateway
	logger *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewFetcher creates a Fetcher with the default retry policy.
func NewFetcher(gw Gateway, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		gw:          gw,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
	}
}

// SetRetryPolicy overrides the attempt cap and backoff bounds.
func (f *Fetcher) SetRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) {
	if maxAttempts > 0 {
		f.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		f.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		f.maxDelay = maxDelay
	}
}

// Fetch retrieves the offer with the given id. It returns:
//   - (offer, nil) when the offer exists and is Active
//   - (nil, nil) when the offer vanished or is no longer Active ("absent")
//   - (nil, *RetriesExhaustedError) when the attempt cap was hit
//
// Transient Gateway errors are retried with exponential backoff. A
// session-expired error triggers a forced session refresh first; if the
// refresh succeeds the retry happens immediately.
func (f *Fetcher) Fetch(ctx context.Context, id string) (*Offer, error) {
	var lastErr error

	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		metrics.FetchAttempts.Inc()

		offer, err := f.gw.GetOffer(ctx, id)
		if err == nil {
			if offer.State != StateActive {
				f.logger.Debug("offer no longer active", "offer_id", id, "state", offer.State)
				return nil, nil
			}
			return offer, nil
		}

		if errors.Is(err, ErrOfferNotFound) {
			// The offer vanished; not an error.
			return nil, nil
		}

		lastErr = err
		if attempt == f.maxAttempts-1 {
			break
		}

		wait := retry.Delay(f.baseDelay, f.maxDelay, attempt)
		if errors.Is(err, ErrSessionExpired) {
			if rerr := f.gw.RefreshSession(ctx, true); rerr == nil {
				wait = 0
			} else {
				f.logger.Warn("session refresh failed", "offer_id", id, "error", rerr)
			}
		}

		f.logger.Debug("offer fetch failed, retrying",
			"offer_id", id, "attempt", attempt+1, "wait", wait, "error", err)
		if serr := retry.Sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}

	metrics.FetchExhausted.Inc()
	return nil, &RetriesExhaustedError{Op: "fetch", Attempts: f.maxAttempts, LastErr: lastErr}
}
