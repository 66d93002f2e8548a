package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"livefeed/src/auth"
	"livefeed/src/handler"
	"livefeed/src/metrics"
	"livefeed/src/model"
)

// Market is the feed manager as seen by the control surface.
type Market interface {
	Snapshot(name string) (model.Tick, bool)
	Snapshots() map[string]model.Tick
	Status() model.ConnectionStatus
	Reconnect() error
}

type Refresher interface {
	FetchNow(ctx context.Context, name string) (model.Tick, error)
}

type Pipeline interface {
	AuditTrail(limit int) []model.PipelineEvent
	AgentStatuses() []model.AgentStatus
	Trades() []model.Trade
	RiskMetrics() model.RiskMetrics
	Mode() model.ExecutionMode
	SetMode(mode model.ExecutionMode) error
	ResetRisk() model.RiskMetrics
	SquareOffAll(ctx context.Context, snapshots map[string]model.Tick) ([]model.Trade, error)
}

type Deps struct {
	Market    Market
	Poller    Refresher
	Control   handler.InstrumentControl
	Pipeline  Pipeline
	TokenHash string
}

func NewRouter(d Deps) http.Handler {
	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/market/snapshots", handler.GetSnapshotsHandler(d.Market))
		r.Get("/market/snapshots/{name}", handler.GetSnapshotHandler(d.Market))
		r.Get("/market/status", handler.GetConnectionStatusHandler(d.Market))
		r.Get("/pipeline/audit", handler.GetAuditTrailHandler(d.Pipeline))
		r.Get("/pipeline/agents", handler.GetAgentStatusesHandler(d.Pipeline))
		r.Get("/pipeline/trades", handler.GetTradesHandler(d.Pipeline))
		r.Get("/pipeline/risk", handler.GetRiskMetricsHandler(d.Pipeline))

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOperator(d.TokenHash))
			r.Post("/market/reconnect", handler.ReconnectHandler(d.Market))
			r.Post("/market/snapshots/{name}/refresh", handler.RefreshSnapshotHandler(d.Poller))
			r.Post("/market/instruments", handler.SubscribeInstrumentHandler(d.Control))
			r.Delete("/market/instruments/{name}", handler.UnsubscribeInstrumentHandler(d.Control))
			r.Post("/pipeline/mode", handler.SetExecutionModeHandler(d.Pipeline))
			r.Post("/pipeline/risk/reset", handler.ResetRiskHandler(d.Pipeline))
			r.Post("/pipeline/square-off", handler.SquareOffHandler(d.Pipeline, d.Market))
		})
	})
	return r
}

// StartServer serves h on port until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, port string, h http.Handler, shutdownTimeout time.Duration) error {
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
