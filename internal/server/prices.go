package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/storage"
)

type pricePointView struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

func viewPricePoints(points []fetcher.PricePoint) []pricePointView {
	views := make([]pricePointView, 0, len(points))
	for _, p := range points {
		views = append(views, pricePointView{
			Date:  formatTime(p.Date),
			Value: p.Value.InexactFloat64(),
		})
	}
	return views
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	startParam := r.URL.Query().Get("start")
	endParam := r.URL.Query().Get("end")
	if startParam == "" || endParam == "" {
		writeError(w, http.StatusBadRequest, "Missing start or end parameter")
		return
	}

	start, err := time.Parse(time.RFC3339, startParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start parameter")
		return
	}
	end, err := time.Parse(time.RFC3339, endParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end parameter")
		return
	}

	points, err := s.opts.Spot.FetchRange(r.Context(), start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch prices")
		writeError(w, http.StatusInternalServerError, "Failed to fetch prices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prices": viewPricePoints(points)})
}

// handleCheapHours returns the N cheapest future hours of the next 48h,
// sorted by time for display.
func (s *Server) handleCheapHours(w http.ResponseWriter, r *http.Request) {
	hours := 5
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid hours parameter")
			return
		}
		hours = parsed
	}

	now := time.Now().UTC()
	start := now.Truncate(time.Hour)
	end := start.Add(48 * time.Hour)

	points, err := s.opts.Spot.FetchRange(r.Context(), start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch cheapest hours")
		writeError(w, http.StatusInternalServerError, "Failed to fetch cheapest hours")
		return
	}

	nextHour := start.Add(time.Hour)
	future := make([]fetcher.PricePoint, 0, len(points))
	for _, p := range points {
		if !p.Date.Before(nextHour) {
			future = append(future, p)
		}
	}

	sort.Slice(future, func(i, j int) bool {
		return future[i].Value.LessThan(future[j].Value)
	})
	if len(future) > hours {
		future = future[:hours]
	}
	sort.Slice(future, func(i, j int) bool {
		return future[i].Date.Before(future[j].Date)
	})

	// The dashboard consumes the legacy Finnish field names.
	type cheapHourView struct {
		Timestamp string  `json:"aikaleima_suomi"`
		Price     float64 `json:"hinta"`
	}
	views := make([]cheapHourView, 0, len(future))
	for _, p := range future {
		views = append(views, cheapHourView{
			Timestamp: formatTime(p.Date),
			Price:     p.Value.InexactFloat64(),
		})
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	points, err := s.opts.Predictions.FetchPredictions(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch predictions")
		writeError(w, http.StatusInternalServerError, "Failed to fetch price predictions")
		return
	}

	type predictionView struct {
		Date         string  `json:"date"`
		Value        float64 `json:"value"`
		IsPrediction bool    `json:"isPrediction"`
	}
	views := make([]predictionView, 0, len(points))
	for _, p := range points {
		views = append(views, predictionView{
			Date:         formatTime(p.Date),
			Value:        p.Value.InexactFloat64(),
			IsPrediction: true,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"predictions": views})
}

func (s *Server) handlePredictionHistory(w http.ResponseWriter, r *http.Request) {
	startParam := r.URL.Query().Get("start")
	endParam := r.URL.Query().Get("end")
	if startParam == "" || endParam == "" {
		writeError(w, http.StatusBadRequest, "Missing start or end parameter")
		return
	}

	start, err := time.Parse(time.RFC3339, startParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format")
		return
	}
	end, err := time.Parse(time.RFC3339, endParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format")
		return
	}

	if s.opts.Snapshots == nil {
		// No database configured: an empty history, not an error.
		writeJSON(w, http.StatusOK, map[string]any{"historicalPredictions": []any{}})
		return
	}

	snapshots, err := s.opts.Snapshots.ListEarliestPredictionsBetween(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			writeJSON(w, http.StatusOK, map[string]any{"historicalPredictions": []any{}})
			return
		}
		s.logger.Error().Err(err).Msg("failed to fetch historical predictions")
		writeError(w, http.StatusInternalServerError, "Failed to fetch historical predictions")
		return
	}

	type historyView struct {
		Date        string  `json:"date"`
		Value       float64 `json:"value"`
		PredictedAt string  `json:"predictedAt"`
	}
	views := make([]historyView, 0, len(snapshots))
	for _, snap := range snapshots {
		views = append(views, historyView{
			Date:        formatTime(snap.TargetTime),
			Value:       snap.PredictedPrice.InexactFloat64(),
			PredictedAt: formatTime(snap.FetchedAt),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"historicalPredictions": views})
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	pastDays := 1
	forecastDays := 7
	if raw := r.URL.Query().Get("past_days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			pastDays = parsed
		}
	}
	if raw := r.URL.Query().Get("forecast_days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			forecastDays = parsed
		}
	}

	points, err := s.opts.Weather.FetchTemperatures(r.Context(), pastDays, forecastDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch weather")
		writeError(w, http.StatusInternalServerError, "Failed to fetch weather data")
		return
	}

	type temperatureView struct {
		Date        string  `json:"date"`
		Temperature float64 `json:"temperature"`
	}
	views := make([]temperatureView, 0, len(points))
	for _, p := range points {
		views = append(views, temperatureView{
			Date:        p.Date.Format("2006-01-02T15:04"),
			Temperature: p.Temperature,
		})
	}

	writeJSON(w, http.StatusOK, views)
}
