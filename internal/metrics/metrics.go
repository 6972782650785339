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
// APIクライアント、検証フロー、embedサーバーから利用する。
type MetricsCollector interface {
	RecordAPIRequest(endpoint string, statusCode int)
	RecordAPILatency(endpoint string, duration time.Duration)
	RecordGeoFallback()
	RecordVerification(purpose, outcome string)
	RecordEmbedRender(format string)
	RecordWallCache(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	geoFallback   prometheus.Counter
	verifications *prometheus.CounterVec
	embedRenders  *prometheus.CounterVec
	wallCache     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clientalio_api_requests_total",
			Help: "バックエンドAPI呼び出しの合計数（ステータスコード別、通信失敗は0）",
		}, []string{"endpoint", "status_code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clientalio_api_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		geoFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clientalio_geo_fallback_total",
			Help: "位置情報の解決に失敗し番兵値を使った回数",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clientalio_verifications_total",
			Help: "ワンタイムコード検証の結果別の回数",
		}, []string{"purpose", "outcome"}),
		embedRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clientalio_embed_renders_total",
			Help: "wall of love ウィジェットの描画回数",
		}, []string{"format"}),
		wallCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clientalio_wall_cache_total",
			Help: "wall キャッシュの参照結果（hit, miss, stale）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.geoFallback,
		c.verifications,
		c.embedRenders,
		c.wallCache,
	)

	return c
}

// RecordAPIRequest はAPI呼び出しの結果を記録する。
func (c *Collector) RecordAPIRequest(endpoint string, statusCode int) {
	c.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// RecordAPILatency はAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordAPILatency(endpoint string, duration time.Duration) {
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordGeoFallback は位置情報のフォールバックを記録する。
func (c *Collector) RecordGeoFallback() {
	c.geoFallback.Inc()
}

// RecordVerification は検証フローの結果を記録する。
func (c *Collector) RecordVerification(purpose, outcome string) {
	c.verifications.WithLabelValues(purpose, outcome).Inc()
}

// RecordEmbedRender はウィジェットの描画を記録する。
func (c *Collector) RecordEmbedRender(format string) {
	c.embedRenders.WithLabelValues(format).Inc()
}

// RecordWallCache は wall キャッシュの参照結果を記録する。
func (c *Collector) RecordWallCache(result string) {
	c.wallCache.WithLabelValues(result).Inc()
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAPIRequest(string, int)           {}
func (Nop) RecordAPILatency(string, time.Duration) {}
func (Nop) RecordGeoFallback()                     {}
func (Nop) RecordVerification(string, string)      {}
func (Nop) RecordEmbedRender(string)               {}
func (Nop) RecordWallCache(string)                 {}

var _ MetricsCollector = Nop{}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
