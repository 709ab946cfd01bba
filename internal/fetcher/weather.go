package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const weatherForecastPath = "/v1/forecast"

// WeatherOptions parameterise the open-meteo fetcher.
type WeatherOptions struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timezone  string
	Timeout   time.Duration
}

// Weather fetches hourly temperatures from open-meteo.
type Weather struct {
	opts    WeatherOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewWeather constructs a weather fetcher.
func NewWeather(opts WeatherOptions, logger zerolog.Logger) *Weather {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com"
	}

	return &Weather{
		opts:    opts,
		logger:  logger.With().Str("component", "weather_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchTemperatures returns hourly temperature_2m values for the window.
func (w *Weather) FetchTemperatures(ctx context.Context, pastDays, forecastDays int) ([]TemperaturePoint, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(w.opts.Latitude, 'f', 2, 64))
	query.Set("longitude", strconv.FormatFloat(w.opts.Longitude, 'f', 2, 64))
	query.Set("hourly", "temperature_2m")
	query.Set("past_days", strconv.Itoa(pastDays))
	query.Set("forecast_days", strconv.Itoa(forecastDays))
	if w.opts.Timezone != "" {
		query.Set("timezone", w.opts.Timezone)
	}

	endpoint := w.baseURL + weatherForecastPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("weather api", resp.StatusCode, body)
	}

	var res weatherResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}

	if len(res.Hourly.Time) != len(res.Hourly.Temperature2m) {
		return nil, fmt.Errorf("weather api returned %d times but %d temperatures",
			len(res.Hourly.Time), len(res.Hourly.Temperature2m))
	}

	points := make([]TemperaturePoint, 0, len(res.Hourly.Time))
	for i, raw := range res.Hourly.Time {
		// open-meteo emits local time without zone info
		ts, err := time.Parse("2006-01-02T15:04", raw)
		if err != nil {
			return nil, fmt.Errorf("parse weather timestamp %q: %w", raw, err)
		}
		points = append(points, TemperaturePoint{
			Date:        ts,
			Temperature: res.Hourly.Temperature2m[i],
		})
	}
	return points, nil
}

type weatherResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature2m []float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

var _ WeatherFetcher = (*Weather)(nil)
