package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spot-price-alerts/internal/alerting"
	"spot-price-alerts/internal/config"
	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/push"
	"spot-price-alerts/internal/scheduler"
	"spot-price-alerts/internal/server"
	"spot-price-alerts/internal/service"
	"spot-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (fetcher.SpotPriceFetcher, fetcher.PredictionFetcher, fetcher.WeatherFetcher) {
	spot := fetcher.NewSpot(fetcher.SpotOptions{
		BaseURL:    a.Config.Prices.BaseURL,
		Timeout:    a.Config.Prices.RequestTimeout,
		UserAgent:  a.Config.Prices.UserAgent,
		MaxRetries: a.Config.Prices.MaxRetries,
	}, a.Logger)

	prediction := fetcher.NewPrediction(fetcher.PredictionOptions{
		URL:     a.Config.Prediction.URL,
		Timeout: a.Config.Prediction.RequestTimeout,
	}, a.Logger)

	weather := fetcher.NewWeather(fetcher.WeatherOptions{
		BaseURL:   a.Config.Weather.BaseURL,
		Latitude:  a.Config.Weather.Latitude,
		Longitude: a.Config.Weather.Longitude,
		Timezone:  a.Config.Weather.Timezone,
		Timeout:   a.Config.Weather.RequestTimeout,
	}, a.Logger)

	return spot, prediction, weather
}

func (a *App) newSender() push.Sender {
	if !a.Config.PushConfigured() {
		return nil
	}
	return push.NewWebPush(push.Options{
		VAPIDPublicKey:  a.Config.Push.VAPIDPublicKey,
		VAPIDPrivateKey: a.Config.Push.VAPIDPrivateKey,
		Subject:         a.Config.Push.Subject,
		TTL:             a.Config.Push.TTL,
		Timeout:         a.Config.Push.RequestTimeout,
	}, a.Logger)
}

func (a *App) newEvaluator(store storage.SubscriptionStore, spot fetcher.SpotPriceFetcher, sender push.Sender) *alerting.Evaluator {
	return alerting.NewEvaluator(store, spot, sender, alerting.Options{
		Policy: alerting.Policy{
			MinInterval:    a.Config.Alerting.MinInterval,
			MinPriceChange: decimal.NewFromFloat(a.Config.Alerting.MinPriceChange),
		},
		ClickURL:    a.Config.Alerting.ClickURL,
		MaxParallel: a.Config.Alerting.MaxParallel,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running alert service plus the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	spot, prediction, weather := a.newFetchers()
	sender := a.newSender()
	if sender == nil {
		a.Logger.Warn().Msg("push keys not configured; alert delivery disabled")
	}

	var svc *service.Service
	var subStore storage.SubscriptionStore
	var snapStore storage.PredictionStore
	if store != nil {
		subStore = store
		snapStore = store

		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)

		var evaluator *alerting.Evaluator
		if sender != nil {
			evaluator = a.newEvaluator(store, spot, sender)
		}

		svc = service.New(a.Config, sched, evaluator, prediction, snapStore, store, a.Logger)
	}

	srv := server.New(server.Options{
		Config:      a.Config,
		Store:       subStore,
		Snapshots:   snapStore,
		Spot:        spot,
		Predictions: prediction,
		Weather:     weather,
		Service:     svc,
	}, a.Logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Start(gctx)
	})
	if svc != nil {
		group.Go(func() error {
			return svc.Run(gctx)
		})
	}

	a.Logger.Info().Msg("starting alert service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
