// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// コラボレーションエンジンとハンドラー層から利用する。
type MetricsCollector interface {
	RecordEvent(eventType string)
	RecordBroadcast(recipients int)
	SetConnections(n int)
	SetActiveSessions(n int)
	RecordReviewLatency(d time.Duration)
	RecordReviewFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	events          *prometheus.CounterVec
	broadcasts      prometheus.Counter
	broadcastFrames prometheus.Counter
	connections     prometheus.Gauge
	activeSessions  prometheus.Gauge
	reviewLatency   prometheus.Histogram
	reviewFailures  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coderev_events_total",
			Help: "受信イベントのタイプ別合計数",
		}, []string{"event_type"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coderev_broadcasts_total",
			Help: "ブロードキャストの合計数",
		}),
		broadcastFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coderev_broadcast_frames_total",
			Help: "ブロードキャストで配信されたフレームの合計数",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coderev_connections",
			Help: "現在のWebSocket接続数",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coderev_active_sessions",
			Help: "現在のアクティブセッション数",
		}),
		reviewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coderev_review_latency_seconds",
			Help:    "AIレビューのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		reviewFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coderev_review_failures_total",
			Help: "AIレビュー失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.events,
		c.broadcasts,
		c.broadcastFrames,
		c.connections,
		c.activeSessions,
		c.reviewLatency,
		c.reviewFailures,
	)

	return c
}

// RecordEvent は受信イベントをタイプ別に記録する。
func (c *Collector) RecordEvent(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// RecordBroadcast はブロードキャスト1回とその配信フレーム数を記録する。
func (c *Collector) RecordBroadcast(recipients int) {
	c.broadcasts.Inc()
	c.broadcastFrames.Add(float64(recipients))
}

// SetConnections は現在の接続数を記録する。
func (c *Collector) SetConnections(n int) {
	c.connections.Set(float64(n))
}

// SetActiveSessions は現在のアクティブセッション数を記録する。
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// RecordReviewLatency はAIレビューのレイテンシを記録する。
func (c *Collector) RecordReviewLatency(d time.Duration) {
	c.reviewLatency.Observe(d.Seconds())
}

// RecordReviewFailure はAIレビューの失敗を記録する。
func (c *Collector) RecordReviewFailure() {
	c.reviewFailures.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
