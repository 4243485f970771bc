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
// リモートクライアント、サービス層、ミドルウェアから利用する。
type MetricsCollector interface {
	ObserveRemoteCall(operation, outcome string, duration time.Duration)
	RecordForcedLogout()
	RecordImportedEvents(source string, count int)
	RecordDebouncedUpdateSent()
	RecordDebouncedUpdateCoalesced()
	SetCachedEvents(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	remoteCalls      *prometheus.CounterVec
	remoteLatency    *prometheus.HistogramVec
	forcedLogouts    prometheus.Counter
	importedEvents   *prometheus.CounterVec
	debouncedSent    prometheus.Counter
	debouncedDropped prometheus.Counter
	cachedEvents     prometheus.Gauge
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_remote_calls_total",
			Help: "リモートAPI呼び出しの操作別・結果別の合計数",
		}, []string{"operation", "outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calman_remote_call_duration_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calman_forced_logouts_total",
			Help: "リモートAPIがトークンを拒否したことによる強制ログアウトの合計数",
		}),
		importedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_imported_events_total",
			Help: "取り込み元別のインポートされたイベントの合計数",
		}, []string{"source"}),
		debouncedSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calman_debounced_updates_sent_total",
			Help: "静止期間の後に送信されたプロフィール更新の合計数",
		}),
		debouncedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calman_debounced_updates_coalesced_total",
			Help: "後続の入力に置き換えられて送信されなかったプロフィール更新の合計数",
		}),
		cachedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calman_cached_events",
			Help: "キャッシュ中の確定イベント数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.remoteCalls,
		c.remoteLatency,
		c.forcedLogouts,
		c.importedEvents,
		c.debouncedSent,
		c.debouncedDropped,
		c.cachedEvents,
		c.httpStatus,
	)

	return c
}

// ObserveRemoteCall はリモートAPI呼び出しの結果とレイテンシを記録する。
func (c *Collector) ObserveRemoteCall(operation, outcome string, duration time.Duration) {
	c.remoteCalls.WithLabelValues(operation, outcome).Inc()
	c.remoteLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordForcedLogout は強制ログアウトを記録する。
func (c *Collector) RecordForcedLogout() {
	c.forcedLogouts.Inc()
}

// RecordImportedEvents はインポートされたイベント数を記録する。
func (c *Collector) RecordImportedEvents(source string, count int) {
	c.importedEvents.WithLabelValues(source).Add(float64(count))
}

// RecordDebouncedUpdateSent は送信されたプロフィール更新を記録する。
func (c *Collector) RecordDebouncedUpdateSent() {
	c.debouncedSent.Inc()
}

// RecordDebouncedUpdateCoalesced は置き換えられたプロフィール更新を記録する。
func (c *Collector) RecordDebouncedUpdateCoalesced() {
	c.debouncedDropped.Inc()
}

// SetCachedEvents はキャッシュ中のイベント数を設定する。
func (c *Collector) SetCachedEvents(count int) {
	c.cachedEvents.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
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

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
