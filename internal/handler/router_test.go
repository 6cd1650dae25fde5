package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkondo/jobalerts/internal/metrics"
	"github.com/mkondo/jobalerts/internal/middleware"
	"github.com/mkondo/jobalerts/internal/model"
)

func newFullRouter(t *testing.T, service AlertServiceInterface) (http.Handler, *middleware.RateLimiter) {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	router := NewRouter(&RouterDeps{
		AlertService:    service,
		RateLimiter:     rl,
		Logger:          logger,
		DB:              nil,
		MetricsRegistry: reg,
	})
	return router, rl
}

// TestRouter_Health はヘルスチェックエンドポイントを検証する。
// DBが未構成の場合は疎通確認をスキップして200を返す。
func TestRouter_Health(t *testing.T) {
	router, _ := newFullRouter(t, &mockAlertService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// TestRouter_Metrics はメトリクスエンドポイントがPrometheus形式で
// 応答することを検証する。
func TestRouter_Metrics(t *testing.T) {
	router, _ := newFullRouter(t, &mockAlertService{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "jobalerts_") {
		t.Errorf("metrics output missing jobalerts metrics: %s", rec.Body.String())
	}
}

// TestRouter_SubscribeRoute は登録エンドポイントがルーティングされている
// ことを検証する。
func TestRouter_SubscribeRoute(t *testing.T) {
	service := &mockAlertService{
		subscribeFunc: func(ctx context.Context, email, keyword string, ff model.FacetFilters) (*model.JobAlert, error) {
			return &model.JobAlert{ID: "alert-1"}, nil
		},
	}
	router, _ := newFullRouter(t, service)

	body := `{"email":"dev@example.com","keyword":"golang"}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/subscribe", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

// TestRouter_UnknownRoute は未定義のルートが404になることを検証する。
func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newFullRouter(t, &mockAlertService{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nonexistent", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestRouter_PanicRecovered はハンドラのpanicが500に変換されることを検証する。
func TestRouter_PanicRecovered(t *testing.T) {
	service := &mockAlertService{
		confirmFunc: func(ctx context.Context, token string) (bool, error) {
			panic("boom")
		},
	}
	router, _ := newFullRouter(t, service)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/confirm/tok-123", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
