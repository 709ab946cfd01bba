package server

import (
	"errors"
	"net/http"

	"spot-price-alerts/internal/service"
)

// handleCheckPrices is the authenticated trigger for one evaluation pass.
// Unauthorized invocations are rejected before any work begins.
func (s *Server) handleCheckPrices(w http.ResponseWriter, r *http.Request) {
	secret := s.opts.Config.Server.CronSecret
	if secret != "" && r.Header.Get("Authorization") != "Bearer "+secret {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if !s.opts.Config.PushConfigured() {
		writeError(w, http.StatusInternalServerError, "VAPID keys not configured")
		return
	}
	if s.opts.Service == nil {
		writeError(w, http.StatusInternalServerError, "Database not configured")
		return
	}

	summary, err := s.opts.Service.RunPass(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrPassInProgress) {
			writeError(w, http.StatusConflict, "Evaluation pass already running")
			return
		}
		s.logger.Error().Err(err).Msg("evaluation pass failed")
		writeError(w, http.StatusInternalServerError, "Could not fetch current price")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
