package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for key, want := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == key && lp.GetValue() == want {
						found = true
						break
					}
				}
				if !found {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}

	t.Fatalf("%s metric not found (labels=%v)", name, labels)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordWebhookStatus_CountsByStatusCode はステータスコード別にカウントされることを検証する。
func TestRecordWebhookStatus_CountsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWebhookStatus(200)
	c.RecordWebhookStatus(200)
	c.RecordWebhookStatus(500)

	if got := counterValue(t, reg, "claimsub_webhook_status_total", map[string]string{"status_code": "200"}); got != 2 {
		t.Errorf("webhook_status_total{200} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "claimsub_webhook_status_total", map[string]string{"status_code": "500"}); got != 1 {
		t.Errorf("webhook_status_total{500} = %v, want 1", got)
	}
}

// TestRecordUpdatesUpserted_AddsCount はアップサート件数が加算されることを検証する。
func TestRecordUpdatesUpserted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUpdatesUpserted(3)
	c.RecordUpdatesUpserted(2)

	if got := counterValue(t, reg, "claimsub_updates_upserted_total", nil); got != 5 {
		t.Errorf("updates_upserted_total = %v, want 5", got)
	}
}

// TestRecordParseFailure_IncrementsCounter はパース失敗カウンタが増加することを検証する。
func TestRecordParseFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordParseFailure()

	if got := counterValue(t, reg, "claimsub_parse_fail_total", nil); got != 1 {
		t.Errorf("parse_fail_total = %v, want 1", got)
	}
}

// TestRecordClaimOutcome_CountsByOutcome は終端状態別にカウントされることを検証する。
func TestRecordClaimOutcome_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordClaimOutcome("claimed")
	c.RecordClaimOutcome("claimed")
	c.RecordClaimOutcome("failed")

	if got := counterValue(t, reg, "claimsub_claim_outcomes_total", map[string]string{"outcome": "claimed"}); got != 2 {
		t.Errorf("claim_outcomes_total{claimed} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "claimsub_claim_outcomes_total", map[string]string{"outcome": "failed"}); got != 1 {
		t.Errorf("claim_outcomes_total{failed} = %v, want 1", got)
	}
}

// TestRecordClaimLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordClaimLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordClaimLatency(250 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() == "claimsub_claim_latency_seconds" {
			found = true
			if got := mf.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
				t.Errorf("claim_latency sample count = %v, want 1", got)
			}
		}
	}
	if !found {
		t.Error("claimsub_claim_latency_seconds metric not found")
	}
}

// TestRecordRetentionDeleted_AddsCount は削除件数が加算されることを検証する。
func TestRecordRetentionDeleted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRetentionDeleted(120)

	if got := counterValue(t, reg, "claimsub_retention_deleted_total", nil); got != 120 {
		t.Errorf("retention_deleted_total = %v, want 120", got)
	}
}

// TestHandler_ServesMetrics は/metricsハンドラーが登録済みメトリクスを公開することを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordUpdatesUpserted(1)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "claimsub_updates_upserted_total") {
		t.Error("スクレイプ出力にclaimsub_updates_upserted_totalが含まれるべき")
	}
}
