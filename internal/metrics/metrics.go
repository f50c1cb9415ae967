// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 投票サービスのMetricsRecorder、ストアのRetryRecorder、
// ロギングミドルウェアのStatusRecorderを兼ねる。
type Collector struct {
	votesAdded     prometheus.Counter
	votesRemoved   prometheus.Counter
	capRejected    prometheus.Counter
	duplicateRaces prometheus.Counter
	storeRetries   prometheus.Counter
	toggleLatency  prometheus.Histogram
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votebox_votes_added_total",
			Help: "追加された投票の合計数",
		}),
		votesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votebox_votes_removed_total",
			Help: "取り消された投票の合計数",
		}),
		capRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votebox_vote_cap_rejected_total",
			Help: "投票上限により拒否された投票の合計数",
		}),
		duplicateRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votebox_duplicate_vote_races_total",
			Help: "重複投票の競合として吸収されたリクエストの合計数",
		}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votebox_store_retries_total",
			Help: "ストア操作のリトライ回数",
		}),
		toggleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "votebox_vote_toggle_latency_seconds",
			Help:    "投票トグル操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "votebox_http_status_total",
			Help: "HTTPメソッドとステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
	}

	reg.MustRegister(
		c.votesAdded,
		c.votesRemoved,
		c.capRejected,
		c.duplicateRaces,
		c.storeRetries,
		c.toggleLatency,
		c.httpStatus,
	)

	return c
}

// RecordVoteAdded は投票追加を記録する。
func (c *Collector) RecordVoteAdded() {
	c.votesAdded.Inc()
}

// RecordVoteRemoved は投票取り消しを記録する。
func (c *Collector) RecordVoteRemoved() {
	c.votesRemoved.Inc()
}

// RecordCapRejected は投票上限による拒否を記録する。
func (c *Collector) RecordCapRejected() {
	c.capRejected.Inc()
}

// RecordDuplicateRace は重複投票の競合吸収を記録する。
func (c *Collector) RecordDuplicateRace() {
	c.duplicateRaces.Inc()
}

// RecordStoreRetry はストア操作のリトライを記録する。
func (c *Collector) RecordStoreRetry() {
	c.storeRetries.Inc()
}

// ObserveToggleLatency は投票トグルのレイテンシを記録する。
func (c *Collector) ObserveToggleLatency(duration time.Duration) {
	c.toggleLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPレスポンスのステータスコードを記録する。
// パスはIDを含みカーディナリティが高いためラベルに含めない。
func (c *Collector) RecordHTTPStatus(method, path string, status int) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(status)).Inc()
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
