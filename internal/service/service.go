package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spot-price-alerts/internal/alerting"
	"spot-price-alerts/internal/config"
	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/scheduler"
	"spot-price-alerts/internal/storage"
)

// ErrPassInProgress signals another evaluation pass holds the advisory lock.
var ErrPassInProgress = errors.New("service: evaluation pass already in progress")

// Service orchestrates the periodic evaluation and snapshot capture.
type Service struct {
	scheduler   *scheduler.Scheduler
	evaluator   *alerting.Evaluator
	predictions fetcher.PredictionFetcher
	snapshots   storage.PredictionStore
	locker      storage.AdvisoryLocker
	logger      zerolog.Logger

	lockKey           int64
	snapshotOnTick    bool
	snapshotRetention time.Duration
}

// New constructs the alert service.
func New(cfg *config.Config, sched *scheduler.Scheduler, evaluator *alerting.Evaluator, predictions fetcher.PredictionFetcher, snapshots storage.PredictionStore, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:      sched,
		evaluator:      evaluator,
		predictions:    predictions,
		snapshots:      snapshots,
		locker:         locker,
		logger:         logger.With().Str("component", "service").Logger(),
		lockKey:           cfg.Scheduler.AdvisoryLockKey,
		snapshotOnTick:    cfg.Prediction.SnapshotOnTick,
		snapshotRetention: cfg.Prediction.SnapshotRetention,
	}
}

// Run begins the aligned evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessHour)
}

// ProcessHour 执行单个整点的评估逻辑。
func (s *Service) ProcessHour(ctx context.Context, hour time.Time) error {
	if s.evaluator == nil {
		s.logger.Debug().Time("hour", hour).Msg("no evaluator configured, skipping alert pass")
	} else {
		summary, err := s.RunPass(ctx)
		if err != nil {
			if errors.Is(err, ErrPassInProgress) {
				s.logger.Debug().Time("hour", hour).Msg("skip hour because advisory lock held elsewhere")
				return nil
			}
			return err
		}

		s.logger.Info().Time("hour", hour).
			Int("low_sent", summary.LowAlertsSent).
			Int("high_sent", summary.HighAlertsSent).
			Int("errors", summary.Errors).
			Msg("hourly pass finished")
	}

	if s.snapshotOnTick {
		if err := s.CaptureSnapshots(ctx); err != nil {
			// Snapshot capture never fails the pass.
			s.logger.Error().Err(err).Msg("failed to capture prediction snapshots")
		}
	}
	return nil
}

// RunPass runs one evaluation pass under the advisory lock. Callers racing a
// running pass get ErrPassInProgress instead of a second evaluation.
func (s *Service) RunPass(ctx context.Context) (alerting.Summary, error) {
	if s.evaluator == nil {
		return alerting.Summary{}, errors.New("evaluator not configured")
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return alerting.Summary{}, err
	}
	if !proceed {
		return alerting.Summary{}, ErrPassInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	return s.evaluator.RunPass(ctx, time.Now().UTC())
}

// CaptureSnapshots fetches the current prediction curve and persists one
// snapshot row per target hour.
func (s *Service) CaptureSnapshots(ctx context.Context) error {
	if s.predictions == nil || s.snapshots == nil {
		return nil
	}

	points, err := s.predictions.FetchPredictions(ctx)
	if err != nil {
		return fmt.Errorf("fetch predictions: %w", err)
	}
	if len(points) == 0 {
		return nil
	}

	fetchedAt := time.Now().UTC()
	snapshots := make([]storage.PredictionSnapshot, 0, len(points))
	for _, p := range points {
		snapshots = append(snapshots, storage.PredictionSnapshot{
			TargetTime:     p.Date,
			PredictedPrice: p.Value,
			FetchedAt:      fetchedAt,
		})
	}

	if err := s.snapshots.InsertPredictionSnapshots(ctx, snapshots); err != nil {
		return fmt.Errorf("insert prediction snapshots: %w", err)
	}

	if s.snapshotRetention > 0 {
		cutoff := fetchedAt.Add(-s.snapshotRetention)
		if err := s.snapshots.DeleteSnapshotsBefore(ctx, cutoff); err != nil {
			// Pruning failure only delays cleanup until the next capture.
			s.logger.Warn().Err(err).Time("cutoff", cutoff).Msg("failed to prune old prediction snapshots")
		}
	}

	s.logger.Info().Int("snapshots", len(snapshots)).Msg("prediction snapshots captured")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
