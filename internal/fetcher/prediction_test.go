package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPredictionFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[1736935200000, 4.21], [1736938800000, 3.87]]`))
	}))
	defer srv.Close()

	p := NewPrediction(PredictionOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())

	points, err := p.FetchPredictions(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("期望 2 个预测点, 实际 %d", len(points))
	}
	if !points[0].Date.Equal(time.UnixMilli(1736935200000).UTC()) {
		t.Fatalf("时间戳解析错误: %s", points[0].Date)
	}
	if points[1].Value.Cmp(decimal.NewFromFloat(3.87)) != 0 {
		t.Fatalf("预测价解析错误: %s", points[1].Value.String())
	}
}

func TestPredictionFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewPrediction(PredictionOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := p.FetchPredictions(context.Background()); err == nil {
		t.Fatal("HTTP 404 应返回错误")
	}
}

func TestWeatherFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hourly") != "temperature_2m" {
			t.Fatalf("hourly 参数错误: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hourly":{"time":["2025-01-15T10:00","2025-01-15T11:00"],"temperature_2m":[-4.2,-3.8]}}`))
	}))
	defer srv.Close()

	f := NewWeather(WeatherOptions{BaseURL: srv.URL, Latitude: 60.17, Longitude: 24.94, Timeout: time.Second}, noopLogger())

	points, err := f.FetchTemperatures(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("期望 2 个温度点, 实际 %d", len(points))
	}
	if points[0].Temperature != -4.2 {
		t.Fatalf("温度解析错误: %f", points[0].Temperature)
	}
}

func TestWeatherFetchMismatchedSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hourly":{"time":["2025-01-15T10:00"],"temperature_2m":[]}}`))
	}))
	defer srv.Close()

	f := NewWeather(WeatherOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := f.FetchTemperatures(context.Background(), 1, 1); err == nil {
		t.Fatal("长度不一致应返回错误")
	}
}
