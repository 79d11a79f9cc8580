// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ゲートの判定結果ラベル。
const (
	DecisionPublic       = "public"
	DecisionAllowed      = "allowed"
	DecisionRedirect     = "redirect_login"
	DecisionDomainReject = "domain_rejected"
	DecisionForbidden    = "forbidden"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordGateDecision(decision string)
	RecordRateLimited(scope string)
	RecordUpstreamLatency(source string, duration time.Duration)
	RecordProfileCreated()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	profilesCreated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_gate_decisions_total",
			Help: "アクセスゲートの判定結果別の件数",
		}, []string{"decision"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_rate_limited_total",
			Help: "レート制限により拒否されたリクエスト数",
		}, []string{"scope"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_upstream_latency_seconds",
			Help:    "ステータス集計のデータソース呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		profilesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_profiles_created_total",
			Help: "新規作成されたプロフィールの合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.gateDecisions,
		c.rateLimited,
		c.upstreamLatency,
		c.profilesCreated,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordGateDecision はゲートの判定結果を記録する。
func (c *Collector) RecordGateDecision(decision string) {
	c.gateDecisions.WithLabelValues(decision).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordUpstreamLatency はデータソース呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(source string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordProfileCreated はプロフィールの新規作成を記録する。
func (c *Collector) RecordProfileCreated() {
	c.profilesCreated.Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPStatus(int)                        {}
func (Nop) RecordGateDecision(string)                   {}
func (Nop) RecordRateLimited(string)                    {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}
func (Nop) RecordProfileCreated()                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StatusRecorder はレスポンスのステータスコードを記録するミドルウェアを返す。
func StatusRecorder(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			c.RecordHTTPStatus(sw.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
