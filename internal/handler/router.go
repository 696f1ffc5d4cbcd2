package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kohei/claimsub/internal/metrics"
	"github.com/kohei/claimsub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// Webhook
	Controller     IngestController
	Collector      metrics.MetricsCollector
	WebhookMaxBody int64

	// 読み取りAPI
	Updates UpdateLister

	// メンテナンス
	Retention  RetentionRunner
	Refresher  SubscriptionRefresher
	ChannelIDs []string

	// 死活監視とメトリクス公開
	DB       Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery
//
// レート制限はエンドポイント種別ごとに適用する。ハブからの配信（/subscriber*）には
// 適用しない（配信の欠落につながるため）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	subscriberHandler := NewSubscriberHandler(deps.Controller, deps.Collector, deps.WebhookMaxBody)
	itemsHandler := NewItemsHandler(deps.Updates)
	maintenanceHandler := NewMaintenanceHandler(deps.Retention, deps.Refresher, deps.ChannelIDs)
	healthHandler := NewHealthHandler(deps.DB)

	// Webhook（ハブの検証と配信）。ルート直下と/subscriber/<id>の両方を受け付ける。
	r.Get("/subscriber", subscriberHandler.Verify)
	r.Get("/subscriber/*", subscriberHandler.Verify)
	r.Post("/subscriber", subscriberHandler.Deliver)
	r.Post("/subscriber/*", subscriberHandler.Deliver)

	// 読み取りAPI
	r.With(deps.RateLimiter.GeneralMiddleware()).Get("/items", itemsHandler.List)

	// メンテナンス
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.MaintenanceMiddleware())
		r.Get("/cleanup", maintenanceHandler.Cleanup)
		r.Get("/refresh", maintenanceHandler.Refresh)
	})

	// 死活監視とメトリクス
	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}
