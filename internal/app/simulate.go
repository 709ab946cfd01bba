package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/push"
	"spot-price-alerts/internal/service"
	"spot-price-alerts/internal/storage"
)

// SimulateOptions configure a simulated evaluation pass.
type SimulateOptions struct {
	Price  decimal.Decimal
	DryRun bool
}

// SimulateAlert 以给定的当前价格模拟一次完整的评估流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !opts.DryRun && !a.Config.PushConfigured() {
		return errors.New("push 密钥未配置，无法模拟推送")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法模拟")
	}
	if closeStore != nil {
		defer closeStore()
	}

	spot := &staticSpotFetcher{price: opts.Price}

	var subStore storage.SubscriptionStore = store
	var sender push.Sender
	if opts.DryRun {
		a.Logger.Warn().Msg("dry-run：不发送推送也不写入告警状态")
		subStore = readOnlyStore{SubscriptionStore: store}
		sender = dryRunSender{logger: a.Logger}
	} else {
		sender = a.newSender()
	}

	evaluator := a.newEvaluator(subStore, spot, sender)

	svc := service.New(a.Config, nil, evaluator, nil, nil, store, a.Logger)

	summary, err := svc.RunPass(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}

type staticSpotFetcher struct {
	price decimal.Decimal
}

func (s *staticSpotFetcher) FetchCurrent(ctx context.Context) (decimal.Decimal, error) {
	return s.price, nil
}

func (s *staticSpotFetcher) FetchRange(ctx context.Context, from, to time.Time) ([]fetcher.PricePoint, error) {
	return []fetcher.PricePoint{{Date: time.Now().UTC().Truncate(time.Hour), Value: s.price}}, nil
}

var _ fetcher.SpotPriceFetcher = (*staticSpotFetcher)(nil)

// readOnlyStore swallows the mutating calls an evaluation pass makes.
type readOnlyStore struct {
	storage.SubscriptionStore
}

func (readOnlyStore) RecordAlert(ctx context.Context, id int64, kind storage.AlertKind, at time.Time, price decimal.Decimal) error {
	return nil
}

func (readOnlyStore) DeleteSubscriptionByID(ctx context.Context, id int64) error {
	return nil
}

// dryRunSender reports every payload as delivered without touching the wire.
type dryRunSender struct {
	logger zerolog.Logger
}

func (d dryRunSender) Send(ctx context.Context, sub push.Subscription, payload push.Payload) push.Result {
	d.logger.Info().
		Str("endpoint", push.TruncateEndpoint(sub.Endpoint)).
		Str("tag", payload.Tag).
		Str("title", payload.Title).
		Msg("dry-run notification")
	return push.Result{Outcome: push.OutcomeDelivered, StatusCode: 200}
}
