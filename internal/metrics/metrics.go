// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// チェックアウト結果のラベル値
const (
	CheckoutPlaced     = "placed"
	CheckoutSMSFailed  = "sms_failed"
	CheckoutRejected   = "rejected"
	CheckoutInProgress = "in_progress"
	CheckoutEmptyCart  = "empty_cart"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordCartMutation(op string, ok bool)
	RecordCheckout(result string)
	RecordSMSSend(success bool, duration time.Duration)
	RecordNotification(severity string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cartMutations   *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	smsSends        *prometheus.CounterVec
	smsLatency      prometheus.Histogram
	notifications   *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodfusion_cart_mutations_total",
			Help: "カート操作の合計数（操作種別・結果別）",
		}, []string{"op", "result"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodfusion_checkout_total",
			Help: "チェックアウト要求の合計数（結果別）",
		}, []string{"result"}),
		smsSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodfusion_sms_send_total",
			Help: "SMS送信の合計数（結果別）",
		}, []string{"result"}),
		smsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "foodfusion_sms_latency_seconds",
			Help:    "SMSゲートウェイ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodfusion_notifications_total",
			Help: "公開された通知の合計数（重要度別）",
		}, []string{"severity"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodfusion_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodfusion_sessions_cleaned_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.cartMutations,
		c.checkouts,
		c.smsSends,
		c.smsLatency,
		c.notifications,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordCartMutation はカート操作を記録する。
func (c *Collector) RecordCartMutation(op string, ok bool) {
	c.cartMutations.WithLabelValues(op, resultLabel(ok)).Inc()
}

// RecordCheckout はチェックアウト要求の結果を記録する。
func (c *Collector) RecordCheckout(result string) {
	c.checkouts.WithLabelValues(result).Inc()
}

// RecordSMSSend はSMS送信の結果とレイテンシを記録する。
func (c *Collector) RecordSMSSend(success bool, duration time.Duration) {
	c.smsSends.WithLabelValues(resultLabel(success)).Inc()
	c.smsLatency.Observe(duration.Seconds())
}

// RecordNotification は通知ログへの公開を記録する。
func (c *Collector) RecordNotification(severity string) {
	c.notifications.WithLabelValues(severity).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Nop は何も記録しないMetricsCollector。テストや計測不要な経路で使う。
type Nop struct{}

func (Nop) RecordCartMutation(string, bool) {}
func (Nop) RecordCheckout(string) {}
func (Nop) RecordSMSSend(bool, time.Duration) {}
func (Nop) RecordNotification(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsを登録したServeMuxを返す。
// APIルーターを持たないワーカーが運用エンドポイントを追加して使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
