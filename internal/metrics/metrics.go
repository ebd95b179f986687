// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordLogin(outcome string)
	RecordStoreOperation(op, result string)
	RecordStoreRetry(op string)
}

// ログイン結果のラベル値。失敗時はauth.ErrorKindの値を使う。
const LoginSuccess = "success"

// ストア操作結果のラベル値。
const (
	StoreResultOK          = "ok"
	StoreResultNotFound    = "not_found"
	StoreResultInvalid     = "invalid"
	StoreResultUnavailable = "unavailable"
	StoreResultError       = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	logins       *prometheus.CounterVec
	storeOps     *prometheus.CounterVec
	storeRetries *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usergate_http_requests_total",
			Help: "ルートとステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usergate_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usergate_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usergate_store_operations_total",
			Help: "操作と結果別のドキュメントストア操作数",
		}, []string{"op", "result"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usergate_store_retries_total",
			Help: "操作別のドキュメントストア読み取りリトライ数",
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.logins,
		c.storeOps,
		c.storeRetries,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはchiのルートパターンを渡し、ラベルの種類数を抑える。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordStoreOperation はドキュメントストア操作の結果を記録する。
func (c *Collector) RecordStoreOperation(op, result string) {
	c.storeOps.WithLabelValues(op, result).Inc()
}

// RecordStoreRetry は読み取りのリトライを記録する。
func (c *Collector) RecordStoreRetry(op string) {
	c.storeRetries.WithLabelValues(op).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
