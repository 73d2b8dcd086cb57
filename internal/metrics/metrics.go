// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ファイルサービス、認証ハンドラー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordStorageOperation(op string, err error, duration time.Duration)
	RecordLogin(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storageOps     *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec
	logins         *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudstore_storage_operations_total",
			Help: "オブジェクトストア操作の合計数（操作・結果別）",
		}, []string{"op", "result"}),
		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudstore_storage_operation_seconds",
			Help:    "オブジェクトストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudstore_logins_total",
			Help: "ログイン試行の合計数（結果別）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudstore_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.storageOps,
		c.storageLatency,
		c.logins,
		c.httpStatus,
	)

	return c
}

// RecordStorageOperation はオブジェクトストア操作の結果とレイテンシを記録する。
func (c *Collector) RecordStorageOperation(op string, err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.storageOps.WithLabelValues(op, result).Inc()
	c.storageLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordStorageOperation(string, error, time.Duration) {}
func (Nop) RecordLogin(string)                                  {}
func (Nop) RecordHTTPStatus(int)                                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
