// Package server sets up the HTTP ops surface and owns process lifecycle.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/offerflow/internal/config"
	"github.com/mbd888/offerflow/internal/gateway"
	"github.com/mbd888/offerflow/internal/health"
	"github.com/mbd888/offerflow/internal/inventory"
	"github.com/mbd888/offerflow/internal/logging"
	"github.com/mbd888/offerflow/internal/metrics"
	"github.com/mbd888/offerflow/internal/offers"
	"github.com/mbd888/offerflow/internal/pollstate"
	"github.com/mbd888/offerflow/internal/ratelimit"
	"github.com/mbd888/offerflow/internal/realtime"
	"github.com/mbd888/offerflow/internal/reservation"
)

// Server wraps the HTTP server and the offer pipeline dependencies.
type Server struct {
	cfg *config.Config

	gw        offers.Gateway
	source    gateway.Source
	invSource inventory.Source
	handler   offers.Handler

	manager     *offers.Manager
	inv         *inventory.Cache
	tracker     *reservation.Tracker
	pollStore   pollstate.Store
	poller      *gateway.Poller
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry

	demo *gateway.Memory // non-nil in development mode without a real gateway

	db           *sql.DB // nil if using in-memory poll state
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway plugs in a real Gateway integration instead of the in-process
// simulation: the offer operations, the poll snapshot source, and the
// inventory source (usually one value implementing all three).
func WithGateway(gw offers.Gateway, src gateway.Source, inv inventory.Source) Option {
	return func(s *Server) {
		s.gw = gw
		s.source = src
		s.invSource = inv
	}
}

// New creates a new server instance. The handler owns accept/decline
// decisions and receives lifecycle notifications.
func New(cfg *config.Config, handler offers.Handler, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	if s.handler == nil {
		return nil, fmt.Errorf("server: handler is required")
	}

	ctx := context.Background()

	// Without a real gateway integration, run against the in-process
	// simulation. Refuse in production: the simulation holds no real items.
	if s.gw == nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("server: a gateway integration is required in production")
		}
		s.demo = gateway.NewMemory(cfg.ConfirmationSecret, cfg.NeedsConfirmation, s.logger)
		s.gw = s.demo
		s.source = s.demo
		s.invSource = s.demo
		s.logger.Warn("no gateway configured, using in-process simulation")
	}

	// Poll state storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("server: open database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("server: ping database: %w", err)
		}
		s.db = db
		s.pollStore = pollstate.NewPostgresStore(db)
		s.logger.Info("using postgres poll state store")
	} else {
		s.pollStore = pollstate.NewMemoryStore()
		s.logger.Info("using in-memory poll state store")
	}

	s.tracker = reservation.NewTracker()
	s.inv = inventory.NewCache(s.invSource)

	s.manager = offers.NewManager(s.gw, s.handler, s.inv, s.tracker, s.pollStore, offers.Config{
		PollInterval:       cfg.PollInterval,
		ConfirmationSecret: cfg.ConfirmationSecret,
		MaxAttempts:        cfg.RetryMaxAttempts,
		BaseDelay:          cfg.RetryBaseDelay,
		MaxDelay:           cfg.RetryMaxDelay,
	}, s.logger)

	s.realtimeHub = realtime.NewHub(s.logger)
	s.manager.SetEventSink(s.realtimeHub)

	if s.demo != nil {
		s.demo.SetNotifier(s.manager)
	}
	s.poller = gateway.NewPoller(s.source, s.manager, cfg.PollInterval, s.logger)

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPS * 60,
		BurstSize:         cfg.RateLimitRPS,
		CleanupInterval:   5 * time.Minute,
	})

	s.healthReg = health.NewRegistry()
	s.registerHealthChecks()

	s.setupRouter()

	return s, nil
}

// Manager exposes the offer pipeline, mainly for tests and embedding.
func (s *Server) Manager() *offers.Manager { return s.manager }

// DemoGateway returns the in-process simulation, or nil when a real
// gateway integration is configured.
func (s *Server) DemoGateway() *gateway.Memory { return s.demo }

func (s *Server) registerHealthChecks() {
	s.healthReg.Register("poll_state", func(ctx context.Context) health.Status {
		st := health.Status{Name: "poll_state", Healthy: true}
		if pg, ok := s.pollStore.(*pollstate.PostgresStore); ok {
			if err := pg.Ping(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
		}
		return st
	})
	s.healthReg.Register("gateway_session", func(ctx context.Context) health.Status {
		st := health.Status{Name: "gateway_session", Healthy: true}
		if err := s.gw.RefreshSession(ctx, false); err != nil {
			st.Healthy = false
			st.Detail = err.Error()
		}
		return st
	})
}

// restorePollState replays the last persisted snapshot so the reservation
// set is rebuilt before any fresh Gateway traffic arrives.
func (s *Server) restorePollState(ctx context.Context) {
	blob, err := s.pollStore.Load(ctx)
	if err != nil {
		if !errors.Is(err, pollstate.ErrNoState) {
			s.logger.Warn("failed to load poll state", "error", err)
		}
		return
	}

	var data offers.PollData
	if err := json.Unmarshal(blob, &data); err != nil {
		s.logger.Warn("discarding corrupt poll state", "error", err)
		return
	}

	s.manager.HandlePollData(ctx, data)
	s.logger.Info("poll state restored",
		"sent", len(data.Sent),
		"received", len(data.Received),
		"reserved_items", s.tracker.Len(),
	)
}

// Run starts the HTTP server and the poll loop, blocking until a shutdown
// signal, a server error, or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"poll_interval", s.cfg.PollInterval.String(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Rebuild reservations from the last snapshot before polling starts.
	s.restorePollState(runCtx)

	// Warm the inventory cache; non-fatal, the first trade refresh retries.
	if err := s.inv.Refresh(runCtx); err != nil {
		s.logger.Warn("initial inventory refresh failed", "error", err)
	}

	go s.realtimeHub.Run(runCtx)
	go s.poller.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains the HTTP server and stops background work.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.poller.Stop()
	s.logger.Info("poller stopped")

	s.rateLimiter.Stop()
	s.logger.Info("rate limiter stopped")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}
