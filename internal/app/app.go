// Package app はアプリケーションの起動モードごとの依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kohei/claimsub/internal/claim"
	"github.com/kohei/claimsub/internal/config"
	"github.com/kohei/claimsub/internal/database"
	"github.com/kohei/claimsub/internal/feed"
	"github.com/kohei/claimsub/internal/handler"
	"github.com/kohei/claimsub/internal/hub"
	"github.com/kohei/claimsub/internal/ingest"
	"github.com/kohei/claimsub/internal/logger"
	"github.com/kohei/claimsub/internal/metrics"
	"github.com/kohei/claimsub/internal/middleware"
	"github.com/kohei/claimsub/internal/partner"
	"github.com/kohei/claimsub/internal/repository"
	"github.com/kohei/claimsub/internal/security"
	"github.com/kohei/claimsub/internal/update"
	"github.com/kohei/claimsub/internal/worker/retention"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSubscribe:
		return runSubscribe(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	updateRepo := repository.NewPostgresUpdateRepo(db)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. ドメインサービスの初期化
	updateSvc := update.NewService(updateRepo, sanitizer)

	partnerClient := partner.NewClient(
		&http.Client{Timeout: cfg.ClaimTimeout},
		slog.Default(),
		partner.Config{
			PartnerBase:    cfg.PartnerAPIBase,
			DataBase:       cfg.DataAPIBase,
			ContentOwnerID: cfg.ContentOwnerID,
			AccessToken:    cfg.PartnerAccessToken,
		},
	)
	workflow := claim.NewWorkflow(partnerClient, slog.Default(), cfg.PolicyID)

	controller := ingest.NewController(
		feed.NewNormalizer(), updateSvc, workflow, collector,
		slog.Default(), cfg.VideoURLPrefix,
	)

	retentionJob := retention.NewRetentionJob(updateRepo, collector, slog.Default())
	retentionJob.Keep = cfg.RetentionKeep

	hubClient := hub.NewClient(ssrfGuard, slog.Default(), hub.Config{
		HubURL:       cfg.HubURL,
		BaseURL:      cfg.BaseURL,
		LeaseSeconds: cfg.LeaseSeconds,
	})

	// 5. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレート値はreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.MaintenanceRate = rate.Limit(float64(cfg.RateLimitMaintenance) / 60.0)
	rateLimiterCfg.MaintenanceBurst = cfg.RateLimitMaintenance
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,

		Controller:     controller,
		Collector:      collector,
		WebhookMaxBody: cfg.WebhookMaxBody,

		Updates: updateSvc,

		Retention:  retentionJob,
		Refresher:  hubClient,
		ChannelIDs: cfg.ChannelIDs,

		DB:       db,
		Gatherer: registry,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 保持ジョブと購読リースの更新を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. ジョブの初期化
	updateRepo := repository.NewPostgresUpdateRepo(db)
	collector := metrics.NewCollector(prometheus.NewRegistry())

	retentionJob := retention.NewRetentionJob(updateRepo, collector, slog.Default())
	retentionJob.Keep = cfg.RetentionKeep

	ssrfGuard := security.NewSSRFGuard()
	hubClient := hub.NewClient(ssrfGuard, slog.Default(), hub.Config{
		HubURL:       cfg.HubURL,
		BaseURL:      cfg.BaseURL,
		LeaseSeconds: cfg.LeaseSeconds,
	})

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("renew_interval", cfg.RenewInterval),
		slog.Int("retention_keep", cfg.RetentionKeep),
		slog.Int("channels", len(cfg.ChannelIDs)),
	)

	// 購読リース更新をバックグラウンドで定期実行
	go func() {
		// 起動直後に1回実行
		hubClient.RefreshAll(ctx, cfg.ChannelIDs)

		ticker := time.NewTicker(cfg.RenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hubClient.RefreshAll(ctx, cfg.ChannelIDs)
			}
		}
	}()

	// 保持ジョブをメインgoroutineで定期実行（ブロッキング）
	if _, err := retentionJob.Run(ctx); err != nil {
		slog.Error("retention job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			if _, err := retentionJob.Run(ctx); err != nil {
				slog.Error("retention job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSubscribe は設定済みのチャンネルと追加トピックの購読リクエストを1回送信する。
// CHANNEL_IDSのエントリのうちhttpで始まるものはページ/フィードのURLとみなし、
// トピックを自動検出してから購読する。
func runSubscribe(cfg *config.Config) error {
	if len(cfg.ChannelIDs) == 0 {
		return fmt.Errorf("CHANNEL_IDS is empty: nothing to subscribe")
	}

	ssrfGuard := security.NewSSRFGuard()
	hubClient := hub.NewClient(ssrfGuard, slog.Default(), hub.Config{
		HubURL:       cfg.HubURL,
		BaseURL:      cfg.BaseURL,
		LeaseSeconds: cfg.LeaseSeconds,
	})
	discovery := hub.NewDiscovery(ssrfGuard, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var failed []string
	for _, entry := range cfg.ChannelIDs {
		if !strings.HasPrefix(entry, "http") {
			if err := hubClient.Subscribe(ctx, entry); err != nil {
				slog.Error("subscription failed",
					slog.String("channel_id", entry),
					slog.String("error", err.Error()),
				)
				failed = append(failed, entry)
			}
			continue
		}

		ep, err := discovery.DiscoverTopic(ctx, entry)
		if err != nil {
			slog.Error("topic discovery failed",
				slog.String("url", entry),
				slog.String("error", err.Error()),
			)
			failed = append(failed, entry)
			continue
		}
		if err := hubClient.SubscribeTopic(ctx, callbackIDForTopic(ep.Topic), ep.Topic); err != nil {
			slog.Error("subscription failed",
				slog.String("topic", ep.Topic),
				slog.String("error", err.Error()),
			)
			failed = append(failed, entry)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to subscribe: %v", failed)
	}

	slog.Info("all subscriptions requested",
		slog.Int("count", len(cfg.ChannelIDs)),
	)
	return nil
}

// callbackIDForTopic はトピックURLから安定したコールバック識別子を導出する。
func callbackIDForTopic(topic string) string {
	hash := sha256.Sum256([]byte(topic))
	return fmt.Sprintf("t-%x", hash[:6])
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
