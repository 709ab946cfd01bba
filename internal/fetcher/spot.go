package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const spotPricesPath = "/prices"

// SpotOptions parameterise the spot price fetcher.
type SpotOptions struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
}

// Spot fetches Finnish spot prices (c/kWh, VAT included) from sahkotin.fi.
type Spot struct {
	opts    SpotOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewSpot constructs a spot price fetcher.
func NewSpot(opts SpotOptions, logger zerolog.Logger) *Spot {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://sahkotin.fi"
	}

	return &Spot{
		opts:    opts,
		logger:  logger.With().Str("component", "spot_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCurrent returns the price for the hour containing now. An empty
// result from the source is ErrNoCurrentPrice, never a zero value.
func (s *Spot) FetchCurrent(ctx context.Context) (decimal.Decimal, error) {
	start := time.Now().UTC().Truncate(time.Hour)
	end := start.Add(time.Hour)

	prices, err := s.FetchRange(ctx, start, end)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, ErrNoCurrentPrice
	}
	return prices[0].Value, nil
}

// FetchRange returns hourly prices within [from, to).
func (s *Spot) FetchRange(ctx context.Context, from, to time.Time) ([]PricePoint, error) {
	query := url.Values{}
	query.Set("start", from.UTC().Format(time.RFC3339))
	query.Set("end", to.UTC().Format(time.RFC3339))
	// fix and vat are flags without values on this API
	endpoint := fmt.Sprintf("%s%s?%s&fix&vat", s.baseURL, spotPricesPath, query.Encode())

	var payload []byte
	attempts := uint(s.opts.MaxRetries)
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Accept", "application/json")
			if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
				req.Header.Set("User-Agent", ua)
			}

			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				httpErr := parseHTTPError("price api", resp.StatusCode, body)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(httpErr)
				}
				return httpErr
			}

			payload = body
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Uint("attempt", n).Err(err).Msg("retrying price fetch")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	var res pricesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	points := make([]PricePoint, 0, len(res.Prices))
	for _, p := range res.Prices {
		ts, err := time.Parse(time.RFC3339, p.Date)
		if err != nil {
			return nil, fmt.Errorf("parse price timestamp %q: %w", p.Date, err)
		}
		points = append(points, PricePoint{
			Date:  ts,
			Value: decimal.NewFromFloat(p.Value),
		})
	}
	return points, nil
}

type pricesResponse struct {
	Prices []struct {
		Date  string  `json:"date"`
		Value float64 `json:"value"`
	} `json:"prices"`
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("%s error (%d): %s", source, status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s error (%d): %s", source, status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s error (%d): %s", source, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s error (%d)", source, status)
}

var _ SpotPriceFetcher = (*Spot)(nil)
