package push

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifyOutcomes(t *testing.T) {
	cases := []struct {
		status int
		want   Outcome
	}{
		{http.StatusCreated, OutcomeDelivered},
		{http.StatusOK, OutcomeDelivered},
		{http.StatusNotFound, OutcomeGone},
		{http.StatusGone, OutcomeGone},
		{http.StatusTooManyRequests, OutcomeTransient},
		{http.StatusInternalServerError, OutcomeTransient},
		{http.StatusBadRequest, OutcomeTransient},
	}

	for _, tc := range cases {
		got := classify(tc.status)
		if got.Outcome != tc.want {
			t.Fatalf("状态码 %d 期望 %s, 实际 %s", tc.status, tc.want, got.Outcome)
		}
		if got.StatusCode != tc.status {
			t.Fatalf("状态码未透传: %d", got.StatusCode)
		}
	}
}

func TestLowPayloadFields(t *testing.T) {
	p := LowPayload(decimal.NewFromFloat(2.5), decimal.NewFromFloat(3), "/")

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("payload 序列化失败: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("payload 解析失败: %v", err)
	}

	if decoded["tag"] != "low-price-alert" {
		t.Fatalf("tag 错误: %v", decoded["tag"])
	}
	if decoded["type"] != "low" {
		t.Fatalf("type 错误: %v", decoded["type"])
	}
	if decoded["price"] != 2.5 {
		t.Fatalf("price 应为数值 2.5, 实际 %v", decoded["price"])
	}
	if decoded["url"] != "/" {
		t.Fatalf("url 错误: %v", decoded["url"])
	}
}

func TestHighPayloadMentionsThreshold(t *testing.T) {
	p := HighPayload(decimal.NewFromFloat(18.2), decimal.NewFromInt(15), "/")
	if p.Tag != "high-price-alert" || p.Type != "high" {
		t.Fatalf("高价告警字段错误: %+v", p)
	}
	if p.Body == "" {
		t.Fatal("body 应非空")
	}
}

func TestTruncateEndpoint(t *testing.T) {
	long := make([]byte, 120)
	for i := range long {
		long[i] = 'a'
	}
	if got := TruncateEndpoint(string(long)); len(got) != 50 {
		t.Fatalf("期望截断到 50, 实际 %d", len(got))
	}
	if got := TruncateEndpoint("short"); got != "short" {
		t.Fatalf("短 endpoint 不应截断: %s", got)
	}
}
