// Package handler はHTTPエンドポイントのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/kohei/claimsub/internal/ingest"
	"github.com/kohei/claimsub/internal/metrics"
)

// DefaultWebhookMaxBody はWebhook本文のサイズ上限（1MB）。
const DefaultWebhookMaxBody = 1 << 20

// ackBody は配信受理時の固定レスポンス本文。
const ackBody = "Aight.  Saved."

// IngestController はWebhook配信1件分の取り込みのインターフェース。
type IngestController interface {
	Handle(ctx context.Context, linkHeader string, body []byte, callback string) (int, ingest.Summary)
}

// SubscriberHandler はハブからの検証リクエストと配信を処理する。
type SubscriberHandler struct {
	controller IngestController
	collector  metrics.MetricsCollector
	maxBody    int64
}

// NewSubscriberHandler はSubscriberHandlerを生成する。
// maxBodyが0以下の場合はDefaultWebhookMaxBodyを使用する。
func NewSubscriberHandler(controller IngestController, collector metrics.MetricsCollector, maxBody int64) *SubscriberHandler {
	if maxBody <= 0 {
		maxBody = DefaultWebhookMaxBody
	}
	return &SubscriberHandler{
		controller: controller,
		collector:  collector,
		maxBody:    maxBody,
	}
}

// Verify はハブの購読検証リクエスト（GET）を処理する。
// hub.challengeをそのまま本文として返すことで購読の意思を示す。
// パラメータがない場合も空本文の200を返す（ハブによってはプローブに使う）。
func (h *SubscriberHandler) Verify(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("hub.challenge")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(challenge))
}

// Deliver はハブからのフィード配信（POST）を処理する。
// コールバックパスの/subscriber以降がチャンネルの識別子になる。
func (h *SubscriberHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.collector.RecordWebhookStatus(http.StatusRequestEntityTooLarge)
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	callback := strings.TrimPrefix(r.URL.Path, "/subscriber")

	status, _ := h.controller.Handle(r.Context(), r.Header.Get("Link"), body, callback)
	h.collector.RecordWebhookStatus(status)

	if status != http.StatusOK {
		http.Error(w, "failed to process delivery", status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(ackBody))
}
