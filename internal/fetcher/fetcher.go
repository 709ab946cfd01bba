package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoCurrentPrice indicates the source answered but had no price for the
// present hour. Distinct from a valid zero price.
var ErrNoCurrentPrice = errors.New("fetcher: no price for current hour")

// PricePoint is one hourly spot price in c/kWh.
type PricePoint struct {
	Date  time.Time
	Value decimal.Decimal
}

// TemperaturePoint is one hourly temperature observation or forecast.
type TemperaturePoint struct {
	Date        time.Time
	Temperature float64
}

// SpotPriceFetcher retrieves spot prices from the upstream price source.
type SpotPriceFetcher interface {
	// FetchCurrent returns the price for the present hour window.
	FetchCurrent(ctx context.Context) (decimal.Decimal, error)
	// FetchRange returns hourly prices within [from, to).
	FetchRange(ctx context.Context, from, to time.Time) ([]PricePoint, error)
}

// PredictionFetcher retrieves the published price prediction curve.
type PredictionFetcher interface {
	FetchPredictions(ctx context.Context) ([]PricePoint, error)
}

// WeatherFetcher retrieves hourly temperatures.
type WeatherFetcher interface {
	FetchTemperatures(ctx context.Context, pastDays, forecastDays int) ([]TemperaturePoint, error)
}
