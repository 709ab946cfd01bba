package push

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Outcome classifies a delivery attempt at the transport boundary so callers
// never inspect status codes or error internals.
type Outcome int

const (
	// OutcomeDelivered means the push service accepted the message.
	OutcomeDelivered Outcome = iota
	// OutcomeGone means the endpoint no longer exists and never will again.
	OutcomeGone
	// OutcomeTransient means delivery failed but may succeed later.
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeGone:
		return "gone"
	default:
		return "transient"
	}
}

// Subscription carries the destination and encryption material for one send.
type Subscription struct {
	Endpoint  string
	P256dhKey string
	AuthKey   string
}

// Payload is the notification body shown by the client.
type Payload struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Tag   string  `json:"tag"`
	Type  string  `json:"type"`
	Price float64 `json:"price"`
	URL   string  `json:"url"`
}

// Result reports one delivery attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload Payload) Result
}

// LowPayload renders the low price alert notification.
func LowPayload(price, threshold decimal.Decimal, clickURL string) Payload {
	return Payload{
		Title: "⚡ Low Price Alert!",
		Body: fmt.Sprintf("Electricity price is now %s c/kWh - below your %s c/kWh threshold!",
			price.StringFixed(2), threshold.String()),
		Tag:   "low-price-alert",
		Type:  "low",
		Price: price.InexactFloat64(),
		URL:   clickURL,
	}
}

// HighPayload renders the high price alert notification.
func HighPayload(price, threshold decimal.Decimal, clickURL string) Payload {
	return Payload{
		Title: "⚠️ High Price Alert!",
		Body: fmt.Sprintf("Electricity price is now %s c/kWh - above your %s c/kWh threshold!",
			price.StringFixed(2), threshold.String()),
		Tag:   "high-price-alert",
		Type:  "high",
		Price: price.InexactFloat64(),
		URL:   clickURL,
	}
}

// TruncateEndpoint shortens a push endpoint for logging.
func TruncateEndpoint(endpoint string) string {
	if len(endpoint) > 50 {
		return endpoint[:50]
	}
	return endpoint
}
