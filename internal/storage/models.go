package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind distinguishes low and high price alerts.
type AlertKind string

const (
	// AlertLow fires when the price drops below the subscriber's low threshold.
	AlertLow AlertKind = "low"
	// AlertHigh fires when the price rises above the subscriber's high threshold.
	AlertHigh AlertKind = "high"
)

// Subscription is one registered push endpoint with its alert configuration
// and throttling bookkeeping.
type Subscription struct {
	ID              int64
	Endpoint        string
	P256dhKey       string
	AuthKey         string
	AlertsEnabled   bool
	LowThreshold    decimal.Decimal
	HighThreshold   decimal.Decimal
	LastLowAlertAt  *time.Time
	LastHighAlertAt *time.Time
	// LastAlertPrice is shared across both alert kinds.
	LastAlertPrice *decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Credentials carry the encryption material handed over at registration.
type Credentials struct {
	P256dhKey string
	AuthKey   string
}

// SettingsPatch applies only the fields that are non-nil.
type SettingsPatch struct {
	LowThreshold  *decimal.Decimal
	HighThreshold *decimal.Decimal
	AlertsEnabled *bool
}

// PredictionSnapshot records what price was predicted for a target hour and
// when that prediction was fetched.
type PredictionSnapshot struct {
	ID             int64
	TargetTime     time.Time
	PredictedPrice decimal.Decimal
	FetchedAt      time.Time
}
