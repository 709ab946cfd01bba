package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spot-price-alerts/internal/alerting"
	"spot-price-alerts/internal/config"
	"spot-price-alerts/internal/fetcher"
	"spot-price-alerts/internal/push"
	"spot-price-alerts/internal/service"
	"spot-price-alerts/internal/storage"
)

type memoryStore struct {
	nextID int64
	subs   map[string]storage.Subscription
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 1, subs: make(map[string]storage.Subscription)}
}

func (m *memoryStore) UpsertSubscription(ctx context.Context, endpoint string, creds storage.Credentials, low, high decimal.Decimal) (storage.Subscription, error) {
	sub, ok := m.subs[endpoint]
	if !ok {
		sub = storage.Subscription{ID: m.nextID, Endpoint: endpoint}
		m.nextID++
	}
	sub.P256dhKey = creds.P256dhKey
	sub.AuthKey = creds.AuthKey
	sub.AlertsEnabled = true
	sub.LowThreshold = low
	sub.HighThreshold = high
	m.subs[endpoint] = sub
	return sub, nil
}

func (m *memoryStore) GetSubscription(ctx context.Context, endpoint string) (storage.Subscription, error) {
	sub, ok := m.subs[endpoint]
	if !ok {
		return storage.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

func (m *memoryStore) UpdateSettings(ctx context.Context, endpoint string, patch storage.SettingsPatch) (storage.Subscription, error) {
	sub, ok := m.subs[endpoint]
	if !ok {
		return storage.Subscription{}, storage.ErrNotFound
	}
	if patch.LowThreshold != nil {
		sub.LowThreshold = *patch.LowThreshold
	}
	if patch.HighThreshold != nil {
		sub.HighThreshold = *patch.HighThreshold
	}
	if patch.AlertsEnabled != nil {
		sub.AlertsEnabled = *patch.AlertsEnabled
	}
	m.subs[endpoint] = sub
	return sub, nil
}

func (m *memoryStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	delete(m.subs, endpoint)
	return nil
}

func (m *memoryStore) DeleteSubscriptionByID(ctx context.Context, id int64) error {
	for endpoint, sub := range m.subs {
		if sub.ID == id {
			delete(m.subs, endpoint)
		}
	}
	return nil
}

func (m *memoryStore) ListEnabledSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	subs := make([]storage.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.AlertsEnabled {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (m *memoryStore) RecordAlert(ctx context.Context, id int64, kind storage.AlertKind, at time.Time, price decimal.Decimal) error {
	for endpoint, sub := range m.subs {
		if sub.ID == id {
			if kind == storage.AlertLow {
				sub.LastLowAlertAt = &at
			} else {
				sub.LastHighAlertAt = &at
			}
			sub.LastAlertPrice = &price
			m.subs[endpoint] = sub
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memoryStore) CountSubscriptions(ctx context.Context) (int64, error) {
	return int64(len(m.subs)), nil
}

type staticSpot struct {
	price  decimal.Decimal
	points []fetcher.PricePoint
	err    error
}

func (s *staticSpot) FetchCurrent(ctx context.Context) (decimal.Decimal, error) {
	return s.price, s.err
}

func (s *staticSpot) FetchRange(ctx context.Context, from, to time.Time) ([]fetcher.PricePoint, error) {
	return s.points, s.err
}

type deliverAllSender struct{ sent int }

func (d *deliverAllSender) Send(ctx context.Context, sub push.Subscription, payload push.Payload) push.Result {
	d.sent++
	return push.Result{Outcome: push.OutcomeDelivered, StatusCode: 201}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			CronSecret: "s3cret",
		},
		Push: config.PushConfig{
			VAPIDPublicKey:  "pub",
			VAPIDPrivateKey: "priv",
		},
		Alerting: config.AlertingConfig{
			DefaultLowThreshold:  3.0,
			DefaultHighThreshold: 15.0,
			MinInterval:          time.Hour,
			MinPriceChange:       0.5,
			MaxParallel:          2,
			ClickURL:             "/",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, store storage.SubscriptionStore, spot fetcher.SpotPriceFetcher, svc *service.Service) *httptest.Server {
	t.Helper()
	srv := New(Options{
		Config:  cfg,
		Store:   store,
		Spot:    spot,
		Service: svc,
	}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestService(cfg *config.Config, store storage.SubscriptionStore, spot fetcher.SpotPriceFetcher, sender push.Sender) *service.Service {
	eval := alerting.NewEvaluator(store, spot, sender, alerting.Options{
		Policy: alerting.Policy{
			MinInterval:    cfg.Alerting.MinInterval,
			MinPriceChange: decimal.NewFromFloat(cfg.Alerting.MinPriceChange),
		},
		ClickURL:    cfg.Alerting.ClickURL,
		MaxParallel: cfg.Alerting.MaxParallel,
	}, zerolog.Nop())
	return service.New(cfg, nil, eval, nil, nil, nil, zerolog.Nop())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s 失败: %v", url, err)
	}
	return resp
}

func TestSubscribeValidation(t *testing.T) {
	ts := newTestServer(t, testConfig(), newMemoryStore(), &staticSpot{}, nil)

	resp := postJSON(t, ts.URL+"/api/notifications/subscribe", `{"subscription":{"endpoint":"","keys":{}}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("缺少字段应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestSubscribeUpsertIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	ts := newTestServer(t, testConfig(), store, &staticSpot{}, nil)

	body := `{"subscription":{"endpoint":"https://push/a","keys":{"p256dh":"k1","auth":"a1"}}}`
	resp := postJSON(t, ts.URL+"/api/notifications/subscribe", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("注册应成功, 实际 %d", resp.StatusCode)
	}

	// Same endpoint, new credentials: one record, latest credentials.
	body2 := `{"subscription":{"endpoint":"https://push/a","keys":{"p256dh":"k2","auth":"a2"}}}`
	resp2 := postJSON(t, ts.URL+"/api/notifications/subscribe", body2)
	resp2.Body.Close()

	if len(store.subs) != 1 {
		t.Fatalf("重复注册应只保留一条记录, 实际 %d", len(store.subs))
	}
	if store.subs["https://push/a"].P256dhKey != "k2" {
		t.Fatal("应保留最新的凭证")
	}
	if store.subs["https://push/a"].LowThreshold.Cmp(decimal.NewFromFloat(3.0)) != 0 {
		t.Fatal("未提供阈值时应使用默认值 3.0")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newMemoryStore()
	ts := newTestServer(t, testConfig(), store, &staticSpot{}, nil)

	resp := postJSON(t, ts.URL+"/api/notifications/subscribe",
		`{"subscription":{"endpoint":"https://push/a","keys":{"p256dh":"k","auth":"a"}},"settings":{"lowPriceThreshold":2.0}}`)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/notifications/settings",
		`{"endpoint":"https://push/a","settings":{"highPriceThreshold":20.0,"alertsEnabled":false}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("更新设置应成功, 实际 %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/notifications/settings?endpoint=" + "https://push/a")
	if err != nil {
		t.Fatalf("读取设置失败: %v", err)
	}
	defer getResp.Body.Close()

	var payload struct {
		Settings settingsView `json:"settings"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析设置失败: %v", err)
	}
	if payload.Settings.LowPriceThreshold != 2.0 {
		t.Fatalf("部分更新不应改动 low, 实际 %f", payload.Settings.LowPriceThreshold)
	}
	if payload.Settings.HighPriceThreshold != 20.0 || payload.Settings.AlertsEnabled {
		t.Fatalf("设置未生效: %+v", payload.Settings)
	}
}

func TestSettingsUnknownEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig(), newMemoryStore(), &staticSpot{}, nil)

	resp := postJSON(t, ts.URL+"/api/notifications/settings",
		`{"endpoint":"https://push/unknown","settings":{"alertsEnabled":true}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("未知 endpoint 应返回 404, 实际 %d", resp.StatusCode)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	ts := newTestServer(t, testConfig(), newMemoryStore(), &staticSpot{}, nil)

	resp := postJSON(t, ts.URL+"/api/notifications/unsubscribe", `{"endpoint":"https://push/ghost"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("删除不存在的订阅应成功, 实际 %d", resp.StatusCode)
	}
}

func TestCheckPricesUnauthorized(t *testing.T) {
	ts := newTestServer(t, testConfig(), newMemoryStore(), &staticSpot{}, nil)

	resp, err := http.Get(ts.URL + "/api/cron/check-prices")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("缺少令牌应返回 401, 实际 %d", resp.StatusCode)
	}
}

func TestCheckPricesMissingVAPID(t *testing.T) {
	cfg := testConfig()
	cfg.Push.VAPIDPublicKey = ""
	cfg.Push.VAPIDPrivateKey = ""
	ts := newTestServer(t, cfg, newMemoryStore(), &staticSpot{}, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/cron/check-prices", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("缺少 VAPID 应返回 500, 实际 %d", resp.StatusCode)
	}
}

func TestCheckPricesRunsPass(t *testing.T) {
	cfg := testConfig()
	store := newMemoryStore()
	_, _ = store.UpsertSubscription(context.Background(), "https://push/a",
		storage.Credentials{P256dhKey: "k", AuthKey: "a"},
		decimal.NewFromFloat(3.0), decimal.NewFromFloat(15.0))

	spot := &staticSpot{price: decimal.NewFromFloat(2.0)}
	sender := &deliverAllSender{}
	svc := newTestService(cfg, store, spot, sender)
	ts := newTestServer(t, cfg, store, spot, svc)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/cron/check-prices", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("触发应成功, 实际 %d", resp.StatusCode)
	}

	var summary alerting.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("解析汇总失败: %v", err)
	}
	if summary.TotalSubscriptions != 1 || summary.LowAlertsSent != 1 {
		t.Fatalf("汇总错误: %+v", summary)
	}
	if sender.sent != 1 {
		t.Fatalf("期望 1 次推送, 实际 %d", sender.sent)
	}
}

func TestCheckPricesFetchFailure(t *testing.T) {
	cfg := testConfig()
	store := newMemoryStore()
	spot := &staticSpot{err: errors.New("upstream down")}
	svc := newTestService(cfg, store, spot, &deliverAllSender{})
	ts := newTestServer(t, cfg, store, spot, svc)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/cron/check-prices", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	// A missing price is an error, never a silently empty success.
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("价格获取失败应返回 500, 实际 %d", resp.StatusCode)
	}
}

func TestPricesMissingParams(t *testing.T) {
	ts := newTestServer(t, testConfig(), newMemoryStore(), &staticSpot{}, nil)

	resp, err := http.Get(ts.URL + "/api/prices")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("缺少参数应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestCheapHoursSelection(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)
	points := []fetcher.PricePoint{
		{Date: now, Value: decimal.NewFromFloat(1.0)}, // current hour, excluded
		{Date: now.Add(1 * time.Hour), Value: decimal.NewFromFloat(9.0)},
		{Date: now.Add(2 * time.Hour), Value: decimal.NewFromFloat(2.0)},
		{Date: now.Add(3 * time.Hour), Value: decimal.NewFromFloat(7.0)},
		{Date: now.Add(4 * time.Hour), Value: decimal.NewFromFloat(3.0)},
	}
	ts := newTestServer(t, testConfig(), newMemoryStore(), &staticSpot{points: points}, nil)

	resp, err := http.Get(ts.URL + "/api/prices/cheap?hours=2")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	var views []struct {
		Timestamp string  `json:"aikaleima_suomi"`
		Price     float64 `json:"hinta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("期望 2 个便宜时段, 实际 %d", len(views))
	}
	// Cheapest two future hours (2.0 and 3.0), re-sorted by time.
	if views[0].Price != 2.0 || views[1].Price != 3.0 {
		t.Fatalf("时段选择错误: %+v", views)
	}
}
