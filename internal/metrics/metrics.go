// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証イベントの結果ラベル
const (
	OutcomeSuccess           = "success"
	OutcomeFailure           = "failure"
	OutcomeTwoFactorRequired = "two_factor_required"
	OutcomeConflict          = "conflict"
	OutcomeInvalid           = "invalid"
)

// 通知ディスパッチの結果ラベル
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationDropped = "dropped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
	RecordPasswordReset(stage, outcome string)
	RecordOAuthLogin(provider, outcome string)
	RecordTwoFactor(action, outcome string)
	RecordNotification(result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordConsumedTokensPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	passwordResets *prometheus.CounterVec
	oauthLogins    *prometheus.CounterVec
	twoFactor      *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	tokensPurged   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_registrations_total",
			Help: "ユーザー登録の試行数（結果別）",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_logins_total",
			Help: "パスワードログインの試行数（結果別）",
		}, []string{"outcome"}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_password_resets_total",
			Help: "パスワード再設定の要求・確定数",
		}, []string{"stage", "outcome"}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_oauth_logins_total",
			Help: "外部IdPログインの試行数（プロバイダー・結果別）",
		}, []string{"provider", "outcome"}),
		twoFactor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_two_factor_operations_total",
			Help: "2段階認証の操作数（操作・結果別）",
		}, []string{"action", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_notifications_total",
			Help: "通知ディスパッチの結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authcore_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_consumed_tokens_purged_total",
			Help: "削除された期限切れ使用済みトークン記録の合計数",
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.passwordResets,
		c.oauthLogins,
		c.twoFactor,
		c.notifications,
		c.httpStatus,
		c.requestLatency,
		c.tokensPurged,
	)

	return c
}

// RecordRegistration はユーザー登録の結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin はログインの結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordPasswordReset はパスワード再設定の段階（request/confirm）と結果を記録する。
func (c *Collector) RecordPasswordReset(stage, outcome string) {
	c.passwordResets.WithLabelValues(stage, outcome).Inc()
}

// RecordOAuthLogin は外部IdPログインの結果を記録する。
func (c *Collector) RecordOAuthLogin(provider, outcome string) {
	c.oauthLogins.WithLabelValues(provider, outcome).Inc()
}

// RecordTwoFactor は2段階認証の操作結果を記録する。
func (c *Collector) RecordTwoFactor(action, outcome string) {
	c.twoFactor.WithLabelValues(action, outcome).Inc()
}

// RecordNotification は通知ディスパッチの結果を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordConsumedTokensPurged は削除した使用済みトークン記録数を記録する。
func (c *Collector) RecordConsumedTokensPurged(count int64) {
	c.tokensPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordRegistration(string) {}
func (Nop) RecordLogin(string) {}
func (Nop) RecordPasswordReset(string, string) {}
func (Nop) RecordOAuthLogin(string, string) {}
func (Nop) RecordTwoFactor(string, string) {}
func (Nop) RecordNotification(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordConsumedTokensPurged(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
