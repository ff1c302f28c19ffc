package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Poller periodically pulls a snapshot from a Source and feeds it to the
// Notifier: poll-data ingestion first, then the reconciliation sweep.
type Poller struct {
	source   Source
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPoller creates a poller with the given interval.
func NewPoller(source Source, notifier Notifier, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		source:   source,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the poll loop. Call in a goroutine; an immediate first cycle
// runs before the ticker takes over.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.done)

	p.cycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// Stop signals the poller to stop and waits for the loop to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in poll cycle", "panic", fmt.Sprint(r))
		}
	}()

	data, sent, received, err := p.source.Poll(ctx)
	if err != nil {
		p.logger.Warn("poll cycle failed", "error", err)
		return
	}

	p.notifier.HandlePollData(ctx, data)
	p.notifier.HandleOfferList(ctx, sent, received)
}
