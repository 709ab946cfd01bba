package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	upsertSubscriptionSQL = `INSERT INTO push_subscriptions (
        endpoint,
        p256dh_key,
        auth_key,
        alerts_enabled,
        low_threshold,
        high_threshold
    ) VALUES (
        $1,$2,$3,TRUE,$4,$5
    )
    ON CONFLICT (endpoint) DO UPDATE
    SET
        p256dh_key     = EXCLUDED.p256dh_key,
        auth_key       = EXCLUDED.auth_key,
        alerts_enabled = TRUE,
        low_threshold  = EXCLUDED.low_threshold,
        high_threshold = EXCLUDED.high_threshold,
        updated_at     = NOW()
    RETURNING ` + subscriptionColumns + `;`

	subscriptionColumns = `id, endpoint, p256dh_key, auth_key, alerts_enabled,
        low_threshold, high_threshold,
        last_low_alert_at, last_high_alert_at, last_alert_price,
        created_at, updated_at`

	getSubscriptionSQL = `SELECT ` + subscriptionColumns + `
    FROM push_subscriptions
    WHERE endpoint = $1;`

	updateSettingsSQL = `UPDATE push_subscriptions
    SET
        low_threshold  = COALESCE($2, low_threshold),
        high_threshold = COALESCE($3, high_threshold),
        alerts_enabled = COALESCE($4, alerts_enabled),
        updated_at     = NOW()
    WHERE endpoint = $1
    RETURNING ` + subscriptionColumns + `;`

	deleteSubscriptionSQL     = `DELETE FROM push_subscriptions WHERE endpoint = $1;`
	deleteSubscriptionByIDSQL = `DELETE FROM push_subscriptions WHERE id = $1;`

	listEnabledSubscriptionsSQL = `SELECT ` + subscriptionColumns + `
    FROM push_subscriptions
    WHERE alerts_enabled = TRUE
    ORDER BY id;`

	listRecentSubscriptionsSQL = `SELECT ` + subscriptionColumns + `
    FROM push_subscriptions
    ORDER BY updated_at DESC
    LIMIT $1;`

	recordLowAlertSQL = `UPDATE push_subscriptions
    SET last_low_alert_at = $2, last_alert_price = $3, updated_at = NOW()
    WHERE id = $1;`

	recordHighAlertSQL = `UPDATE push_subscriptions
    SET last_high_alert_at = $2, last_alert_price = $3, updated_at = NOW()
    WHERE id = $1;`

	countSubscriptionsSQL = `SELECT COUNT(*) FROM push_subscriptions;`

	insertPredictionSnapshotSQL = `INSERT INTO prediction_snapshots (
        target_time,
        predicted_price,
        fetched_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (target_time, fetched_at) DO NOTHING;`

	listEarliestPredictionsSQL = `SELECT DISTINCT ON (target_time)
        id,
        target_time,
        predicted_price,
        fetched_at
    FROM prediction_snapshots
    WHERE target_time >= $1
      AND target_time <= $2
      AND fetched_at < target_time
    ORDER BY target_time, fetched_at ASC;`

	deleteSnapshotsBeforeSQL = `DELETE FROM prediction_snapshots WHERE target_time < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SubscriptionStore defines durable access to push subscriptions.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, endpoint string, creds Credentials, low, high decimal.Decimal) (Subscription, error)
	GetSubscription(ctx context.Context, endpoint string) (Subscription, error)
	UpdateSettings(ctx context.Context, endpoint string, patch SettingsPatch) (Subscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	DeleteSubscriptionByID(ctx context.Context, id int64) error
	ListEnabledSubscriptions(ctx context.Context) ([]Subscription, error)
	RecordAlert(ctx context.Context, id int64, kind AlertKind, at time.Time, price decimal.Decimal) error
	CountSubscriptions(ctx context.Context) (int64, error)
}

// PredictionStore defines prediction snapshot persistence.
type PredictionStore interface {
	InsertPredictionSnapshots(ctx context.Context, snapshots []PredictionSnapshot) error
	ListEarliestPredictionsBetween(ctx context.Context, from, to time.Time) ([]PredictionSnapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to subscriptions and prediction snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSubscription creates or refreshes the subscription for an endpoint.
// Re-registering always re-enables alerts and replaces credentials.
func (s *Store) UpsertSubscription(ctx context.Context, endpoint string, creds Credentials, low, high decimal.Decimal) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	row := pool.QueryRow(ctx, upsertSubscriptionSQL,
		endpoint,
		creds.P256dhKey,
		creds.AuthKey,
		low.String(),
		high.String(),
	)

	sub, scanErr := scanSubscriptionRow(row)
	if scanErr != nil {
		return Subscription{}, fmt.Errorf("upsert subscription: %w", scanErr)
	}
	return sub, nil
}

// GetSubscription fetches one subscription by endpoint.
func (s *Store) GetSubscription(ctx context.Context, endpoint string) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	row := pool.QueryRow(ctx, getSubscriptionSQL, endpoint)
	sub, scanErr := scanSubscriptionRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("get subscription: %w", scanErr)
	}
	return sub, nil
}

// UpdateSettings applies a partial settings update. Unset fields are kept.
func (s *Store) UpdateSettings(ctx context.Context, endpoint string, patch SettingsPatch) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	var low, high interface{}
	if patch.LowThreshold != nil {
		low = patch.LowThreshold.String()
	}
	if patch.HighThreshold != nil {
		high = patch.HighThreshold.String()
	}
	var enabled interface{}
	if patch.AlertsEnabled != nil {
		enabled = *patch.AlertsEnabled
	}

	row := pool.QueryRow(ctx, updateSettingsSQL, endpoint, low, high, enabled)
	sub, scanErr := scanSubscriptionRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("update settings: %w", scanErr)
	}
	return sub, nil
}

// DeleteSubscription removes a subscription; absent endpoints are a no-op.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSubscriptionSQL, endpoint); execErr != nil {
		return fmt.Errorf("delete subscription: %w", execErr)
	}
	return nil
}

// DeleteSubscriptionByID removes a subscription by primary key.
func (s *Store) DeleteSubscriptionByID(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSubscriptionByIDSQL, id); execErr != nil {
		return fmt.Errorf("delete subscription by id: %w", execErr)
	}
	return nil
}

// ListEnabledSubscriptions returns all subscriptions with alerts enabled.
func (s *Store) ListEnabledSubscriptions(ctx context.Context) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEnabledSubscriptionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list enabled subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscriptionRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// ListRecentSubscriptions returns the most recently touched subscriptions.
func (s *Store) ListRecentSubscriptions(ctx context.Context, limit int) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, queryErr := pool.Query(ctx, listRecentSubscriptionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscriptionRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// RecordAlert updates the per-kind alert timestamp and the shared last alert
// price. A plain UPDATE keyed by id: if the row was deleted mid-run the write
// affects zero rows and the delete wins.
func (s *Store) RecordAlert(ctx context.Context, id int64, kind AlertKind, at time.Time, price decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	query := recordLowAlertSQL
	if kind == AlertHigh {
		query = recordHighAlertSQL
	}

	cmdTag, execErr := pool.Exec(ctx, query, id, at, price.String())
	if execErr != nil {
		return fmt.Errorf("record %s alert: %w", kind, execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSubscriptions counts all stored subscriptions.
func (s *Store) CountSubscriptions(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSubscriptionsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count subscriptions: %w", scanErr)
	}
	return count, nil
}

// InsertPredictionSnapshots persists a batch of prediction points. Duplicate
// (target_time, fetched_at) pairs are skipped.
func (s *Store) InsertPredictionSnapshots(ctx context.Context, snapshots []PredictionSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(insertPredictionSnapshotSQL,
			snap.TargetTime,
			snap.PredictedPrice.String(),
			snap.FetchedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range snapshots {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert prediction snapshot: %w", execErr)
		}
	}
	return nil
}

// ListEarliestPredictionsBetween returns, per target hour in the window, the
// earliest prediction fetched before that hour arrived.
func (s *Store) ListEarliestPredictionsBetween(ctx context.Context, from, to time.Time) ([]PredictionSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEarliestPredictionsSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list earliest predictions: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]PredictionSnapshot, 0)
	for rows.Next() {
		var snap PredictionSnapshot
		var priceStr string
		if err := rows.Scan(&snap.ID, &snap.TargetTime, &priceStr, &snap.FetchedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse predicted price: %w", convErr)
		}
		snap.PredictedPrice = price
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// DeleteSnapshotsBefore prunes historical prediction snapshots.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return nil
}

func scanSubscriptionRow(row pgx.Row) (Subscription, error) {
	var (
		sub             Subscription
		lowStr          string
		highStr         string
		lastLowAlertAt  sql.NullTime
		lastHighAlertAt sql.NullTime
		lastAlertPrice  sql.NullString
	)

	if err := row.Scan(
		&sub.ID,
		&sub.Endpoint,
		&sub.P256dhKey,
		&sub.AuthKey,
		&sub.AlertsEnabled,
		&lowStr,
		&highStr,
		&lastLowAlertAt,
		&lastHighAlertAt,
		&lastAlertPrice,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return Subscription{}, err
	}

	low, err := decimal.NewFromString(lowStr)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse low threshold: %w", err)
	}
	high, err := decimal.NewFromString(highStr)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse high threshold: %w", err)
	}
	sub.LowThreshold = low
	sub.HighThreshold = high

	if lastLowAlertAt.Valid {
		t := lastLowAlertAt.Time
		sub.LastLowAlertAt = &t
	}
	if lastHighAlertAt.Valid {
		t := lastHighAlertAt.Time
		sub.LastHighAlertAt = &t
	}
	if lastAlertPrice.Valid {
		price, convErr := decimal.NewFromString(lastAlertPrice.String)
		if convErr != nil {
			return Subscription{}, fmt.Errorf("parse last alert price: %w", convErr)
		}
		sub.LastAlertPrice = &price
	}

	return sub, nil
}
