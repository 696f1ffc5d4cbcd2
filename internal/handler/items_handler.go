package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kohei/claimsub/internal/model"
)

// UpdateLister は保存済み更新レコードの取得のインターフェース。
type UpdateLister interface {
	ListRecent(ctx context.Context, limit int, callbackFilter string) ([]model.UpdateRecord, error)
}

// ItemsHandler は保存済み更新レコードの読み取りAPIを処理する。
type ItemsHandler struct {
	updates UpdateLister
}

// NewItemsHandler はItemsHandlerを生成する。
func NewItemsHandler(updates UpdateLister) *ItemsHandler {
	return &ItemsHandler{updates: updates}
}

// itemResponse は更新レコード1件のJSON表現。
type itemResponse struct {
	TimeS    int64  `json:"time_s"`
	Topic    string `json:"topic"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Source   string `json:"source"`
	Callback string `json:"callback"`
}

// List はGET /itemsを処理する。
// num_entriesで取得件数、callback_filterでコールバックパスによる絞り込みを指定できる。
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("num_entries"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid num_entries", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.updates.ListRecent(r.Context(), limit, r.URL.Query().Get("callback_filter"))
	if err != nil {
		http.Error(w, "failed to list updates", http.StatusInternalServerError)
		return
	}

	items := make([]itemResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, itemResponse{
			TimeS:    rec.UpdatedAt.Unix(),
			Topic:    rec.Topic,
			Title:    rec.Title,
			Content:  rec.Content,
			Source:   rec.Link,
			Callback: rec.Callback,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}
