package offers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(gw Gateway) *Fetcher {
	f := NewFetcher(gw, testLogger())
	f.SetRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	return f
}

func TestFetcher_ReturnsActiveOffer(t *testing.T) {
	gw := &fakeGateway{}
	f := newTestFetcher(gw)

	offer, err := f.Fetch(context.Background(), "off_1")
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, "off_1", offer.ID)
	assert.Equal(t, 1, gw.fetchCount())
}

func TestFetcher_NotFoundIsAbsent(t *testing.T) {
	gw := &fakeGateway{
		getOffer: func(ctx context.Context, id string) (*Offer, error) {
			return nil, ErrOfferNotFound
		},
	}
	f := newTestFetcher(gw)

	offer, err := f.Fetch(context.Background(), "off_1")
	require.NoError(t, err)
	assert.Nil(t, offer)
	assert.Equal(t, 1, gw.fetchCount(), "a vanished offer is not retried")
}

func TestFetcher_InactiveOfferIsAbsent(t *testing.T) {
	gw := &fakeGateway{
		getOffer: func(ctx context.Context, id string) (*Offer, error) {
			return &Offer{ID: id, State: StateDeclined}, nil
		},
	}
	f := newTestFetcher(gw)

	offer, err := f.Fetch(context.Background(), "off_1")
	require.NoError(t, err)
	assert.Nil(t, offer)
}

func TestFetcher_RetriesTransientErrors(t *testing.T) {
	calls := 0
	gw := &fakeGateway{}
	gw.getOffer = func(ctx context.Context, id string) (*Offer, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("gateway hiccup")
		}
		return &Offer{ID: id, State: StateActive}, nil
	}
	f := newTestFetcher(gw)

	offer, err := f.Fetch(context.Background(), "off_1")
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, 3, calls)
}

func TestFetcher_ExhaustsRetries(t *testing.T) {
	transient := errors.New("gateway down")
	gw := &fakeGateway{
		getOffer: func(ctx context.Context, id string) (*Offer, error) {
			return nil, transient
		},
	}
	f := newTestFetcher(gw)

	offer, err := f.Fetch(context.Background(), "off_1")
	assert.Nil(t, offer)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "fetch", exhausted.Op)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, gw.fetchCount())
}

func TestFetcher_SessionExpiredForcesRefresh(t *testing.T) {
	calls := 0
	gw := &fakeGateway{}
	gw.getOffer = func(ctx context.Context, id string) (*Offer, error) {
		calls++
		if calls == 1 {
			return nil, ErrSessionExpired
		}
		return &Offer{ID: id, State: StateActive}, nil
	}
	f := newTestFetcher(gw)

	start := time.Now()
	offer, err := f.Fetch(context.Background(), "off_1")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, offer)
	require.Equal(t, []bool{true}, gw.refreshed(), "refresh must be forced")
	// A successful refresh retries immediately, without the backoff wait.
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestFetcher_SessionRefreshFailureKeepsBackoff(t *testing.T) {
	gw := &fakeGateway{
		getOffer: func(ctx context.Context, id string) (*Offer, error) {
			return nil, ErrSessionExpired
		},
		refreshSession: func(ctx context.Context, force bool) error {
			return errors.New("login throttled")
		},
	}
	f := newTestFetcher(gw)

	offer, err := f.Fetch(context.Background(), "off_1")
	assert.Nil(t, offer)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, ErrSessionExpired)
	// One refresh per failed attempt that still has retries left.
	assert.Len(t, gw.refreshed(), 2)
}

func TestFetcher_ContextCancelledDuringBackoff(t *testing.T) {
	gw := &fakeGateway{
		getOffer: func(ctx context.Context, id string) (*Offer, error) {
			return nil, errors.New("transient")
		},
	}
	f := NewFetcher(gw, testLogger())
	f.SetRetryPolicy(5, time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	offer, err := f.Fetch(ctx, "off_1")
	assert.Nil(t, offer)
	assert.ErrorIs(t, err, context.Canceled)
}
