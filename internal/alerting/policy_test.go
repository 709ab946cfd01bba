package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spot-price-alerts/internal/storage"
)

func testPolicy() Policy {
	return Policy{
		MinInterval:    time.Hour,
		MinPriceChange: decimal.NewFromFloat(0.5),
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func TestShouldAlertNoPriorState(t *testing.T) {
	sub := storage.Subscription{}
	now := time.Now()

	if !testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(2.0), now) {
		t.Fatal("无历史记录时应允许告警")
	}
	if !testPolicy().ShouldAlert(storage.AlertHigh, sub, decimal.NewFromFloat(18.0), now) {
		t.Fatal("无历史记录时应允许告警")
	}
}

func TestShouldAlertSuppressedByTimeAndDelta(t *testing.T) {
	now := time.Now()
	sub := storage.Subscription{
		LastLowAlertAt: timePtr(now.Add(-10 * time.Minute)),
		LastAlertPrice: decPtr(decimal.NewFromFloat(2.0)),
	}

	// 10 minutes elapsed and the price only moved 0.1: suppressed.
	if testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(2.1), now) {
		t.Fatal("时间与价差都不满足时应抑制")
	}
}

func TestShouldAlertLargeSwingBypassesTimeThrottle(t *testing.T) {
	now := time.Now()
	sub := storage.Subscription{
		LastLowAlertAt: timePtr(now.Add(-10 * time.Minute)),
		LastAlertPrice: decPtr(decimal.NewFromFloat(2.0)),
	}

	// Only 10 minutes elapsed, but delta 0.6 >= 0.5 lets it through.
	if !testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(1.4), now) {
		t.Fatal("大幅价格波动应绕过时间节流")
	}
}

func TestShouldAlertIdleSubscriptionStillNeedsMovement(t *testing.T) {
	now := time.Now()
	sub := storage.Subscription{
		LastLowAlertAt: timePtr(now.Add(-90 * time.Minute)),
		LastAlertPrice: decPtr(decimal.NewFromFloat(2.0)),
	}

	// The hour window passed long ago, but the price barely moved.
	if testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(2.2), now) {
		t.Fatal("价差不足时即使超过间隔仍应抑制")
	}
	if !testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(1.2), now) {
		t.Fatal("间隔与价差都满足时应允许")
	}
}

func TestShouldAlertCrossKindDeltaThrottle(t *testing.T) {
	now := time.Now()
	sub := storage.Subscription{
		LastHighAlertAt: timePtr(now.Add(-2 * time.Hour)),
		LastAlertPrice:  decPtr(decimal.NewFromFloat(16.0)),
	}

	// Low has never fired, but the last alert price is shared across
	// kinds and still throttles it.
	if testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(16.2), now) {
		t.Fatal("共享 lastAlertPrice 应跨类型抑制")
	}
	if !testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(15.0), now) {
		t.Fatal("价差达到阈值后应允许")
	}
}

func TestShouldAlertTimeThrottleWithoutRecordedPrice(t *testing.T) {
	now := time.Now()
	sub := storage.Subscription{
		LastLowAlertAt: timePtr(now.Add(-10 * time.Minute)),
	}

	// No recorded price to judge movement by: the same-kind time throttle
	// decides alone.
	if testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(1.0), now) {
		t.Fatal("无记录价格时一小时内应抑制同类型告警")
	}
	if !testPolicy().ShouldAlert(storage.AlertHigh, sub, decimal.NewFromFloat(20.0), now) {
		t.Fatal("另一类型无近期告警时应允许")
	}

	sub.LastLowAlertAt = timePtr(now.Add(-2 * time.Hour))
	if !testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(1.0), now) {
		t.Fatal("超过间隔后应允许")
	}
}

func TestShouldAlertExactBoundaries(t *testing.T) {
	now := time.Now()
	sub := storage.Subscription{
		LastLowAlertAt: timePtr(now.Add(-time.Hour)),
		LastAlertPrice: decPtr(decimal.NewFromFloat(2.0)),
	}

	// Exactly 0.5 movement counts as enough.
	if !testPolicy().ShouldAlert(storage.AlertLow, sub, decimal.NewFromFloat(1.5), now) {
		t.Fatal("恰好达到价差阈值应允许")
	}
}
