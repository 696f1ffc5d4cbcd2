package handler

import (
	"context"
	"encoding/json"
	"net/http"
)

// RetentionRunner は保持ジョブの実行のインターフェース。
type RetentionRunner interface {
	Run(ctx context.Context) (int64, error)
}

// SubscriptionRefresher は購読リースの一括更新のインターフェース。
type SubscriptionRefresher interface {
	RefreshAll(ctx context.Context, channelIDs []string) int
}

// MaintenanceHandler は手動メンテナンス用のエンドポイントを処理する。
// 定期実行されるワーカーと同じジョブをオンデマンドで起動する。
type MaintenanceHandler struct {
	retention  RetentionRunner
	refresher  SubscriptionRefresher
	channelIDs []string
}

// NewMaintenanceHandler はMaintenanceHandlerを生成する。
func NewMaintenanceHandler(retention RetentionRunner, refresher SubscriptionRefresher, channelIDs []string) *MaintenanceHandler {
	return &MaintenanceHandler{
		retention:  retention,
		refresher:  refresher,
		channelIDs: channelIDs,
	}
}

// Cleanup はGET /cleanupを処理し、保持件数を超過した更新レコードを削除する。
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.retention.Run(r.Context())
	if err != nil {
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"deleted": deleted})
}

// Refresh はGET /refreshを処理し、全チャンネルの購読リースを更新する。
func (h *MaintenanceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	renewed := h.refresher.RefreshAll(r.Context(), h.channelIDs)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"renewed": renewed,
		"total":   len(h.channelIDs),
	})
}
