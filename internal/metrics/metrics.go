// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン・照合の結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"

	OutcomeFound   = "found"
	OutcomeCreated = "created"
	OutcomeRaced   = "raced"
	OutcomeInvalid = "invalid"
)

// MethodLocal はローカル認証のログイン方式ラベル。
// フェデレーション認証ではプロバイダー名をそのまま使用する。
const MethodLocal = "local"

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(method, outcome string)
	RecordReconcile(provider, outcome string)
	RecordSignup(outcome string)
	RecordLogout()
	RecordSessionsPurged(count int)
	RecordHTTPStatus(statusCode int)
	RecordProviderLatency(provider string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	signups         *prometheus.CounterVec
	logouts         prometheus.Counter
	sessionsPurged  prometheus.Counter
	httpStatus      *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portcullis_login_attempts_total",
			Help: "ログイン試行数（方式・結果別）",
		}, []string{"method", "outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portcullis_federated_reconcile_total",
			Help: "フェデレーション照合の結果別件数",
		}, []string{"provider", "outcome"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portcullis_signups_total",
			Help: "ローカルユーザー登録数（結果別）",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portcullis_logouts_total",
			Help: "ログアウトの合計数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portcullis_sessions_purged_total",
			Help: "クリーンアップで削除された期限切れセッション数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portcullis_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portcullis_provider_exchange_seconds",
			Help:    "IdPとのトークン交換・プロフィール取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	reg.MustRegister(
		c.logins,
		c.reconciles,
		c.signups,
		c.logouts,
		c.sessionsPurged,
		c.httpStatus,
		c.providerLatency,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordReconcile はフェデレーション照合の結果を記録する。
func (c *Collector) RecordReconcile(provider, outcome string) {
	c.reconciles.WithLabelValues(provider, outcome).Inc()
}

// RecordSignup はローカルユーザー登録の結果を記録する。
func (c *Collector) RecordSignup(outcome string) {
	c.signups.WithLabelValues(outcome).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordSessionsPurged は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int) {
	c.sessionsPurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency はIdPとの通信レイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLogin(string, string)                  {}
func (Nop) RecordReconcile(string, string)              {}
func (Nop) RecordSignup(string)                         {}
func (Nop) RecordLogout()                               {}
func (Nop) RecordSessionsPurged(int)                    {}
func (Nop) RecordHTTPStatus(int)                        {}
func (Nop) RecordProviderLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを登録したServeMuxを返す。
// 呼び出し元は他のエンドポイントを追加できる。
func SetupMetricsRoute(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
