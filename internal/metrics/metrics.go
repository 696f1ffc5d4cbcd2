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
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordWebhookStatus(statusCode int)
	RecordUpdatesUpserted(count int)
	RecordParseFailure()
	RecordClaimOutcome(outcome string)
	RecordClaimLatency(duration time.Duration)
	RecordRetentionDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookStatus    *prometheus.CounterVec
	updatesUpserted  prometheus.Counter
	parseFail        prometheus.Counter
	claimOutcomes    *prometheus.CounterVec
	claimLatency     prometheus.Histogram
	retentionDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsub_webhook_status_total",
			Help: "Webhook配信のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		updatesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claimsub_updates_upserted_total",
			Help: "アップサートされた更新レコードの合計数",
		}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claimsub_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		claimOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimsub_claim_outcomes_total",
			Help: "クレームワークフローの終端状態別の合計数",
		}, []string{"outcome"}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "claimsub_claim_latency_seconds",
			Help:    "クレームワークフロー1回分のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claimsub_retention_deleted_total",
			Help: "保持ポリシーで削除された更新レコードの合計数",
		}),
	}

	reg.MustRegister(
		c.webhookStatus,
		c.updatesUpserted,
		c.parseFail,
		c.claimOutcomes,
		c.claimLatency,
		c.retentionDeleted,
	)

	return c
}

// RecordWebhookStatus はWebhookレスポンスのステータスコードを記録する。
func (c *Collector) RecordWebhookStatus(statusCode int) {
	c.webhookStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpdatesUpserted はアップサートされた更新レコード数を記録する。
func (c *Collector) RecordUpdatesUpserted(count int) {
	c.updatesUpserted.Add(float64(count))
}

// RecordParseFailure はフィードパース失敗を記録する。
func (c *Collector) RecordParseFailure() {
	c.parseFail.Inc()
}

// RecordClaimOutcome はクレームワークフローの終端状態を記録する。
func (c *Collector) RecordClaimOutcome(outcome string) {
	c.claimOutcomes.WithLabelValues(outcome).Inc()
}

// RecordClaimLatency はクレームワークフローのレイテンシを記録する。
func (c *Collector) RecordClaimLatency(duration time.Duration) {
	c.claimLatency.Observe(duration.Seconds())
}

// RecordRetentionDeleted は保持ポリシーで削除されたレコード数を記録する。
func (c *Collector) RecordRetentionDeleted(count int64) {
	c.retentionDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
