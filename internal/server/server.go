package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spot-price-alerts/internal/config"
	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/service"
	"spot-price-alerts/internal/storage"
)

// Options wire the HTTP API dependencies.
type Options struct {
	Config      *config.Config
	Store       storage.SubscriptionStore
	Snapshots   storage.PredictionStore
	Spot        fetcher.SpotPriceFetcher
	Predictions fetcher.PredictionFetcher
	Weather     fetcher.WeatherFetcher
	Service     *service.Service
}

// Server exposes the subscriber, trigger, and data proxy endpoints.
type Server struct {
	opts   Options
	logger zerolog.Logger
	mux    *http.ServeMux
}

// New constructs the API server and registers all routes.
func New(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		opts:   opts,
		logger: logger.With().Str("component", "server").Logger(),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/notifications/subscribe", s.handleSubscribe)
	s.mux.HandleFunc("GET /api/notifications/settings", s.handleGetSettings)
	s.mux.HandleFunc("POST /api/notifications/settings", s.handleUpdateSettings)
	s.mux.HandleFunc("POST /api/notifications/unsubscribe", s.handleUnsubscribe)
	s.mux.HandleFunc("GET /api/cron/check-prices", s.handleCheckPrices)
	s.mux.HandleFunc("GET /api/prices", s.handlePrices)
	s.mux.HandleFunc("GET /api/prices/cheap", s.handleCheapHours)
	s.mux.HandleFunc("GET /api/prices/prediction", s.handlePrediction)
	s.mux.HandleFunc("GET /api/prices/prediction/history", s.handlePredictionHistory)
	s.mux.HandleFunc("GET /api/weather", s.handleWeather)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	return s
}

// Handler returns the routing handler for embedding into an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.opts.Config.Server
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	if s.opts.Store != nil {
		if count, err := s.opts.Store.CountSubscriptions(r.Context()); err == nil {
			payload["subscriptions"] = count
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decimalFromFloat(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
