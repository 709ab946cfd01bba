package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/push"
	"spot-price-alerts/internal/storage"
)

// Summary aggregates one evaluation pass. Per-subscriber detail stays in the
// logs; callers only see counts.
type Summary struct {
	CurrentPrice       float64 `json:"currentPrice"`
	TotalSubscriptions int     `json:"totalSubscriptions"`
	LowAlertsSent      int     `json:"lowAlertsSent"`
	HighAlertsSent     int     `json:"highAlertsSent"`
	Errors             int     `json:"errors"`
}

// Options tune an evaluation pass.
type Options struct {
	Policy      Policy
	ClickURL    string
	MaxParallel int
}

// Evaluator runs one pass over all enabled subscriptions against one freshly
// fetched current price.
type Evaluator struct {
	store  storage.SubscriptionStore
	prices fetcher.SpotPriceFetcher
	sender push.Sender
	opts   Options
	logger zerolog.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(store storage.SubscriptionStore, prices fetcher.SpotPriceFetcher, sender push.Sender, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.ClickURL == "" {
		opts.ClickURL = "/"
	}
	return &Evaluator{
		store:  store,
		prices: prices,
		sender: sender,
		opts:   opts,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// RunPass fetches the current price and evaluates every enabled subscription.
// A price fetch failure aborts the whole pass before any subscriber side
// effects: an unknown price must never be partially evaluated.
func (e *Evaluator) RunPass(ctx context.Context, now time.Time) (Summary, error) {
	price, err := e.prices.FetchCurrent(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch current price: %w", err)
	}

	subs, err := e.store.ListEnabledSubscriptions(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list enabled subscriptions: %w", err)
	}

	var lowSent, highSent, errCount atomic.Int64

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.MaxParallel)

	for _, sub := range subs {
		group.Go(func() error {
			e.evaluateSubscription(gctx, sub, price, now, &lowSent, &highSent, &errCount)
			return nil
		})
	}
	_ = group.Wait()

	summary := Summary{
		CurrentPrice:       price.InexactFloat64(),
		TotalSubscriptions: len(subs),
		LowAlertsSent:      int(lowSent.Load()),
		HighAlertsSent:     int(highSent.Load()),
		Errors:             int(errCount.Load()),
	}

	e.logger.Info().
		Str("current_price", price.StringFixed(2)).
		Int("subscriptions", summary.TotalSubscriptions).
		Int("low_sent", summary.LowAlertsSent).
		Int("high_sent", summary.HighAlertsSent).
		Int("errors", summary.Errors).
		Msg("evaluation pass complete")

	return summary, nil
}

// evaluateSubscription checks both kinds for one subscriber. Low then high
// run sequentially so the two bookkeeping writes for the same record never
// interleave. Both may fire in one pass when thresholds are misconfigured
// with low above high; that is not defended against.
func (e *Evaluator) evaluateSubscription(ctx context.Context, sub storage.Subscription, price decimal.Decimal, now time.Time, lowSent, highSent, errCount *atomic.Int64) {
	if price.LessThan(sub.LowThreshold) && e.opts.Policy.ShouldAlert(storage.AlertLow, sub, price, now) {
		payload := push.LowPayload(price, sub.LowThreshold, e.opts.ClickURL)
		if e.dispatch(ctx, sub, storage.AlertLow, payload, price, now, errCount) {
			lowSent.Add(1)
		}
	}

	if price.GreaterThan(sub.HighThreshold) && e.opts.Policy.ShouldAlert(storage.AlertHigh, sub, price, now) {
		payload := push.HighPayload(price, sub.HighThreshold, e.opts.ClickURL)
		if e.dispatch(ctx, sub, storage.AlertHigh, payload, price, now, errCount) {
			highSent.Add(1)
		}
	}
}

// dispatch attempts one delivery and reconciles subscriber state. Returns
// true when the alert counts as sent.
func (e *Evaluator) dispatch(ctx context.Context, sub storage.Subscription, kind storage.AlertKind, payload push.Payload, price decimal.Decimal, now time.Time, errCount *atomic.Int64) bool {
	result := e.sender.Send(ctx, push.Subscription{
		Endpoint:  sub.Endpoint,
		P256dhKey: sub.P256dhKey,
		AuthKey:   sub.AuthKey,
	}, payload)

	endpoint := push.TruncateEndpoint(sub.Endpoint)

	switch result.Outcome {
	case push.OutcomeDelivered:
		if err := e.store.RecordAlert(ctx, sub.ID, kind, now, price); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Unsubscribed mid-run; the delete wins.
				e.logger.Debug().Int64("id", sub.ID).Str("kind", string(kind)).
					Msg("subscription deleted during pass, bookkeeping dropped")
				return true
			}
			// Correctness hazard: the user got the notification but the
			// throttle state was not advanced, so a duplicate is possible
			// next pass.
			errCount.Add(1)
			e.logger.Error().Err(err).Int64("id", sub.ID).Str("kind", string(kind)).
				Msg("alert delivered but bookkeeping update failed")
			return true
		}
		e.logger.Info().Int64("id", sub.ID).Str("kind", string(kind)).
			Str("endpoint", endpoint).Msg("alert sent")
		return true

	case push.OutcomeGone:
		errCount.Add(1)
		e.logger.Info().Int64("id", sub.ID).Int("status", result.StatusCode).
			Str("endpoint", endpoint).Msg("removing invalid subscription")
		if err := e.store.DeleteSubscriptionByID(ctx, sub.ID); err != nil {
			e.logger.Error().Err(err).Int64("id", sub.ID).Msg("failed to delete gone subscription")
		}
		return false

	default:
		errCount.Add(1)
		e.logger.Warn().Err(result.Err).Int64("id", sub.ID).Int("status", result.StatusCode).
			Str("endpoint", endpoint).Msg("push delivery failed, will retry next pass")
		return false
	}
}
