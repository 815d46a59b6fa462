// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、監査ログ記録から利用する。
type MetricsCollector interface {
	RecordLogin(method, result string)
	ObserveIdentityExchange(duration time.Duration, success bool)
	RecordSessionRejected()
	RecordAdminDenied()
	RecordHTTPStatus(statusCode int)
	IncActivityWritten()
	IncActivityDropped()
	IncActivityFailed()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins           *prometheus.CounterVec
	exchangeLatency  *prometheus.HistogramVec
	sessionsRejected prometheus.Counter
	adminDenied      prometheus.Counter
	httpStatus       *prometheus.CounterVec
	activity         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopadmin_login_attempts_total",
			Help: "ログイン試行の合計数（方式・結果別）",
		}, []string{"method", "result"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopadmin_identity_exchange_seconds",
			Help:    "IdPとの認可コード交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopadmin_session_rejected_total",
			Help: "検証に失敗したセッショントークンの合計数",
		}),
		adminDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopadmin_admin_access_denied_total",
			Help: "管理者ページへのアクセス拒否の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopadmin_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		activity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopadmin_activity_records_total",
			Help: "監査ログの処理結果（written, dropped, failed）別の合計数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.logins,
		c.exchangeLatency,
		c.sessionsRejected,
		c.adminDenied,
		c.httpStatus,
		c.activity,
	)

	return c
}

// RecordLogin はログイン試行を記録する。methodは"entra"または"dev"。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// ObserveIdentityExchange はIdPとの交換にかかった時間を記録する。
func (c *Collector) ObserveIdentityExchange(duration time.Duration, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	c.exchangeLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordSessionRejected はセッション検証の失敗を記録する。
func (c *Collector) RecordSessionRejected() {
	c.sessionsRejected.Inc()
}

// RecordAdminDenied は管理者ページへのアクセス拒否を記録する。
func (c *Collector) RecordAdminDenied() {
	c.adminDenied.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) IncActivityWritten() { c.activity.WithLabelValues("written").Inc() }
func (c *Collector) IncActivityDropped() { c.activity.WithLabelValues("dropped").Inc() }
func (c *Collector) IncActivityFailed()  { c.activity.WithLabelValues("failed").Inc() }

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
