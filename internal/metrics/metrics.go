// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// バッチランナーやサービス層から利用する。
type MetricsCollector interface {
	RecordAlertChecked()
	RecordDigestSent(hitCount int)
	RecordAlertFailure(reason string)
	RecordNoHits()
	RecordRunDuration(duration time.Duration)
}

// NopCollector は何も記録しないMetricsCollector実装。テスト用。
type NopCollector struct{}

func (NopCollector) RecordAlertChecked()               {}
func (NopCollector) RecordDigestSent(hitCount int)     {}
func (NopCollector) RecordAlertFailure(reason string)  {}
func (NopCollector) RecordNoHits()                     {}
func (NopCollector) RecordRunDuration(d time.Duration) {}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	alertsChecked prometheus.Counter
	digestsSent   prometheus.Counter
	hitsDelivered prometheus.Counter
	alertFailures *prometheus.CounterVec
	noHits        prometheus.Counter
	runDuration   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		alertsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobalerts_alerts_checked_total",
			Help: "バッチ実行で処理したアラートの合計数",
		}),
		digestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobalerts_digests_sent_total",
			Help: "送信に成功したダイジェストメールの合計数",
		}),
		hitsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobalerts_hits_delivered_total",
			Help: "ダイジェストメールで通知した求人の合計数",
		}),
		alertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobalerts_alert_failures_total",
			Help: "原因別のアラート処理失敗数",
		}, []string{"reason"}),
		noHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobalerts_no_hits_total",
			Help: "新着ヒットがなかったアラート処理の合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobalerts_run_duration_seconds",
			Help:    "バッチ実行1回の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.alertsChecked,
		c.digestsSent,
		c.hitsDelivered,
		c.alertFailures,
		c.noHits,
		c.runDuration,
	)

	return c
}

// RecordAlertChecked はアラート1件の処理開始を記録する。
func (c *Collector) RecordAlertChecked() {
	c.alertsChecked.Inc()
}

// RecordDigestSent はダイジェスト送信成功と通知求人数を記録する。
func (c *Collector) RecordDigestSent(hitCount int) {
	c.digestsSent.Inc()
	c.hitsDelivered.Add(float64(hitCount))
}

// RecordAlertFailure は原因別のアラート処理失敗を記録する。
func (c *Collector) RecordAlertFailure(reason string) {
	c.alertFailures.WithLabelValues(reason).Inc()
}

// RecordNoHits は新着ヒットなしのアラート処理を記録する。
func (c *Collector) RecordNoHits() {
	c.noHits.Inc()
}

// RecordRunDuration はバッチ実行の所要時間を記録する。
func (c *Collector) RecordRunDuration(d time.Duration) {
	c.runDuration.Observe(d.Seconds())
}

// Handler は/metricsエンドポイント用のHTTPハンドラーを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
