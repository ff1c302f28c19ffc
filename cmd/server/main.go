// Offerflow - trade offer mediation between an exchange gateway and a
// decision handler.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mbd888/offerflow/internal/config"
	"github.com/mbd888/offerflow/internal/logging"
	"github.com/mbd888/offerflow/internal/offers"
	"github.com/mbd888/offerflow/internal/server"
	"github.com/mbd888/offerflow/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting offerflow",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"poll_interval", cfg.PollInterval.String(),
		"needs_confirmation", cfg.NeedsConfirmation,
	)

	ctx := context.Background()

	// Tracing is optional; without an OTLP endpoint spans are dropped.
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// The built-in handler is a stand-in for a real decision policy:
	// it accepts offers that give us items for nothing and declines the
	// rest. Production deployments embed the server with their own
	// Handler and Gateway via server options.
	handler := &giftHandler{logger: logger}

	srv, err := server.New(cfg, handler, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// giftHandler accepts pure gifts and declines anything that costs us items.
type giftHandler struct {
	logger *slog.Logger
}

func (h *giftHandler) OnNewOffer(ctx context.Context, offer *offers.Offer) (offers.Decision, error) {
	if len(offer.ItemsToGive) == 0 && len(offer.ItemsToReceive) > 0 {
		return offers.Decision{Action: offers.ActionAccept}, nil
	}
	return offers.Decision{Action: offers.ActionDecline}, nil
}

func (h *giftHandler) OnOfferChanged(ctx context.Context, offer *offers.Offer, oldState offers.State) {
	h.logger.Info("offer state changed",
		"offer_id", offer.ID,
		"old_state", oldState,
		"new_state", offer.State,
	)
}

func (h *giftHandler) OnPollData(ctx context.Context, data offers.PollData) {
	h.logger.Debug("poll snapshot received",
		"sent", len(data.Sent),
		"received", len(data.Received),
	)
}
