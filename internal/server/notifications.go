package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"spot-price-alerts/internal/storage"
)

type subscribeRequest struct {
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	Settings *struct {
		LowPriceThreshold  *float64 `json:"lowPriceThreshold"`
		HighPriceThreshold *float64 `json:"highPriceThreshold"`
	} `json:"settings"`
}

type settingsRequest struct {
	Endpoint string `json:"endpoint"`
	Settings struct {
		LowPriceThreshold  *float64 `json:"lowPriceThreshold"`
		HighPriceThreshold *float64 `json:"highPriceThreshold"`
		AlertsEnabled      *bool    `json:"alertsEnabled"`
	} `json:"settings"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type settingsView struct {
	LowPriceThreshold  float64 `json:"lowPriceThreshold"`
	HighPriceThreshold float64 `json:"highPriceThreshold"`
	AlertsEnabled      bool    `json:"alertsEnabled"`
}

func viewSettings(sub storage.Subscription) settingsView {
	return settingsView{
		LowPriceThreshold:  sub.LowThreshold.InexactFloat64(),
		HighPriceThreshold: sub.HighThreshold.InexactFloat64(),
		AlertsEnabled:      sub.AlertsEnabled,
	}
}

// requireStore rejects subscriber endpoints when no database is configured.
func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.opts.Store == nil {
		writeError(w, http.StatusInternalServerError, "Database not configured")
		return false
	}
	return true
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub := req.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "Invalid subscription data")
		return
	}

	low := decimal.NewFromFloat(s.opts.Config.Alerting.DefaultLowThreshold)
	high := decimal.NewFromFloat(s.opts.Config.Alerting.DefaultHighThreshold)
	if req.Settings != nil {
		if v := decimalFromFloat(req.Settings.LowPriceThreshold); v != nil {
			low = *v
		}
		if v := decimalFromFloat(req.Settings.HighPriceThreshold); v != nil {
			high = *v
		}
	}

	created, err := s.opts.Store.UpsertSubscription(r.Context(), sub.Endpoint, storage.Credentials{
		P256dhKey: sub.Keys.P256dh,
		AuthKey:   sub.Keys.Auth,
	}, low, high)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save subscription")
		writeError(w, http.StatusInternalServerError, "Failed to save subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      created.ID,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "Missing endpoint")
		return
	}

	sub, err := s.opts.Store.GetSubscription(r.Context(), endpoint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to fetch settings")
		writeError(w, http.StatusInternalServerError, "Failed to fetch settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"settings": viewSettings(sub)})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "Missing endpoint")
		return
	}

	patch := storage.SettingsPatch{
		LowThreshold:  decimalFromFloat(req.Settings.LowPriceThreshold),
		HighThreshold: decimalFromFloat(req.Settings.HighPriceThreshold),
		AlertsEnabled: req.Settings.AlertsEnabled,
	}

	updated, err := s.opts.Store.UpdateSettings(r.Context(), req.Endpoint, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to update settings")
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"settings": viewSettings(updated),
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "Missing endpoint")
		return
	}

	if err := s.opts.Store.DeleteSubscription(r.Context(), req.Endpoint); err != nil {
		s.logger.Error().Err(err).Msg("failed to remove subscription")
		writeError(w, http.StatusInternalServerError, "Failed to remove subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
