package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PredictionOptions parameterise the forecast curve fetcher.
type PredictionOptions struct {
	URL     string
	Timeout time.Duration
}

// Prediction fetches the published nordpool-predict-fi forecast curve.
// The payload is an array of [unix_millis, price] pairs.
type Prediction struct {
	opts   PredictionOptions
	logger zerolog.Logger
	client *http.Client
}

// NewPrediction constructs a prediction fetcher.
func NewPrediction(opts PredictionOptions, logger zerolog.Logger) *Prediction {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prediction{
		opts:   opts,
		logger: logger.With().Str("component", "prediction_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchPredictions returns the current prediction curve as hourly points.
func (p *Prediction) FetchPredictions(ctx context.Context) ([]PricePoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch predictions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("prediction api", resp.StatusCode, body)
	}

	var pairs [][2]float64
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}

	points := make([]PricePoint, 0, len(pairs))
	for _, pair := range pairs {
		points = append(points, PricePoint{
			Date:  time.UnixMilli(int64(pair[0])).UTC(),
			Value: decimal.NewFromFloat(pair[1]),
		})
	}
	return points, nil
}

var _ PredictionFetcher = (*Prediction)(nil)
