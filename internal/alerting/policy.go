package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"spot-price-alerts/internal/storage"
)

// Policy suppresses alerts that would re-notify too frequently for an
// unchanged condition.
type Policy struct {
	// MinInterval is the minimum time between alerts of the same kind.
	MinInterval time.Duration
	// MinPriceChange is the minimum absolute price movement (c/kWh) since
	// the last alert of either kind.
	MinPriceChange decimal.Decimal
}

// ShouldAlert reports whether a qualifying alert of the given kind may fire.
// A recorded alert price within MinPriceChange of the current price always
// suppresses, even long after the time window passed: an idle subscription
// needs some price movement to re-alert. A movement of at least
// MinPriceChange bypasses the same-kind time throttle, so a large swing can
// re-alert inside the minimum interval.
func (p Policy) ShouldAlert(kind storage.AlertKind, sub storage.Subscription, price decimal.Decimal, now time.Time) bool {
	if sub.LastAlertPrice != nil {
		change := price.Sub(*sub.LastAlertPrice).Abs()
		return change.GreaterThanOrEqual(p.MinPriceChange)
	}

	// No recorded price to judge movement by; fall back to the same-kind
	// time throttle alone.
	lastAlertAt := sub.LastLowAlertAt
	if kind == storage.AlertHigh {
		lastAlertAt = sub.LastHighAlertAt
	}
	if lastAlertAt != nil && now.Sub(*lastAlertAt) < p.MinInterval {
		return false
	}

	return true
}
