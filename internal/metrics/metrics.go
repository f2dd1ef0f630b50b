// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ポータルクライアントとスケジューラ層から利用する。
type MetricsCollector interface {
	RecordPortalRequest(operation string, success bool)
	RecordPortalLatency(operation string, duration time.Duration)
	RecordBooking()
	RecordCancellation()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	portalRequests *prometheus.CounterVec
	portalLatency  *prometheus.HistogramVec
	bookings       prometheus.Counter
	cancellations  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		portalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "akscheduler_portal_request_total",
			Help: "ポータルへのリクエスト数（操作・結果別）",
		}, []string{"operation", "result"}),
		portalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "akscheduler_portal_latency_seconds",
			Help:    "ポータルリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		bookings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "akscheduler_booking_total",
			Help: "成功した予約の合計数",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "akscheduler_cancellation_total",
			Help: "実行したキャンセルの合計数",
		}),
	}

	reg.MustRegister(
		c.portalRequests,
		c.portalLatency,
		c.bookings,
		c.cancellations,
	)

	return c
}

// RecordPortalRequest はポータルリクエストの結果を記録する。
func (c *Collector) RecordPortalRequest(operation string, success bool) {
	result := "success"
	if !success {
		result = "fail"
	}
	c.portalRequests.WithLabelValues(operation, result).Inc()
}

// RecordPortalLatency はポータルリクエストのレイテンシを記録する。
func (c *Collector) RecordPortalLatency(operation string, duration time.Duration) {
	c.portalLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBooking は予約成功を記録する。
func (c *Collector) RecordBooking() {
	c.bookings.Inc()
}

// RecordCancellation はキャンセル実行を記録する。
func (c *Collector) RecordCancellation() {
	c.cancellations.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
