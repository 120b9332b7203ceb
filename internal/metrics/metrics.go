// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// オラクル呼び出しと通知配信の結果ラベル
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeSkipped     = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordOracleCall(op, outcome string, duration time.Duration)
	RecordTagFallback(op string)
	RecordMatchPath(path string, matches int)
	RecordClaimTransition(action, status string)
	RecordNotification(event, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	oracleCalls      *prometheus.CounterVec
	oracleLatency    *prometheus.HistogramVec
	tagFallbacks     *prometheus.CounterVec
	matchRequests    *prometheus.CounterVec
	matchResults     prometheus.Histogram
	claimTransitions *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfind_oracle_calls_total",
			Help: "推論サービス呼び出しの結果別の合計数",
		}, []string{"op", "outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campusfind_oracle_latency_seconds",
			Help:    "推論サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		tagFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfind_tag_fallback_total",
			Help: "タグ抽出で既定値にフォールバックした回数",
		}, []string{"op"}),
		matchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfind_match_requests_total",
			Help: "マッチング要求の経路別の合計数",
		}, []string{"path"}),
		matchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusfind_match_results",
			Help:    "マッチング要求あたりの候補数",
			Buckets: []float64{0, 1, 2, 3, 5},
		}),
		claimTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfind_claim_transitions_total",
			Help: "クレーム状態遷移の合計数",
		}, []string{"action", "status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfind_notifications_total",
			Help: "プッシュ通知の結果別の合計数",
		}, []string{"event", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfind_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.oracleCalls,
		c.oracleLatency,
		c.tagFallbacks,
		c.matchRequests,
		c.matchResults,
		c.claimTransitions,
		c.notifications,
		c.httpStatus,
	)

	return c
}

// RecordOracleCall は推論サービス呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordOracleCall(op, outcome string, duration time.Duration) {
	c.oracleCalls.WithLabelValues(op, outcome).Inc()
	c.oracleLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTagFallback はタグ抽出のフォールバックを記録する。
func (c *Collector) RecordTagFallback(op string) {
	c.tagFallbacks.WithLabelValues(op).Inc()
}

// RecordMatchPath はマッチングの経路（oracle/attribute/empty）と件数を記録する。
func (c *Collector) RecordMatchPath(path string, matches int) {
	c.matchRequests.WithLabelValues(path).Inc()
	c.matchResults.Observe(float64(matches))
}

// RecordClaimTransition はクレームの状態遷移を記録する。
func (c *Collector) RecordClaimTransition(action, status string) {
	c.claimTransitions.WithLabelValues(action, status).Inc()
}

// RecordNotification はプッシュ通知の結果を記録する。
func (c *Collector) RecordNotification(event, outcome string) {
	c.notifications.WithLabelValues(event, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordOracleCall(string, string, time.Duration) {}
func (Nop) RecordTagFallback(string)                       {}
func (Nop) RecordMatchPath(string, int)                    {}
func (Nop) RecordClaimTransition(string, string)           {}
func (Nop) RecordNotification(string, string)              {}
func (Nop) RecordHTTPStatus(int)                           {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても収集できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
