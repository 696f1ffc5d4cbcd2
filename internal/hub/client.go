// Package hub はPubSubHubbubハブへの購読管理とトピック自動検出を提供する。
package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kohei/claimsub/internal/security"
)

const (
	// DefaultHubURL はGoogleのPubSubHubbubハブのURL。
	DefaultHubURL = "https://pubsubhubbub.appspot.com/"
	// DefaultLeaseSeconds はハブに要求する購読リース期間（10日）。
	DefaultLeaseSeconds = 864000
	// topicURLPrefix はチャンネルIDからトピックURLを組み立てる接頭辞。
	topicURLPrefix = "https://www.youtube.com/feeds/videos.xml?channel_id="

	requestTimeout = 30 * time.Second
)

// Config はClientの接続設定。
type Config struct {
	// HubURL は購読リクエストの送信先。空の場合はDefaultHubURLを使用する。
	HubURL string
	// BaseURL はこのサービスの公開URL。コールバックURLの組み立てに使用する。
	BaseURL string
	// LeaseSeconds はハブに要求するリース期間。0以下の場合はデフォルトを使用する。
	LeaseSeconds int
}

// Client はハブへの購読リクエストを送信する。
// 外向きHTTPはSSRF防止付きクライアントで行う。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(ssrfGuard security.SSRFGuardService, logger *slog.Logger, cfg Config) *Client {
	if cfg.HubURL == "" {
		cfg.HubURL = DefaultHubURL
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = DefaultLeaseSeconds
	}
	return &Client{
		httpClient: ssrfGuard.NewSafeClient(requestTimeout),
		logger:     logger,
		cfg:        cfg,
	}
}

// TopicForChannel はチャンネルIDからアップロードフィードのトピックURLを返す。
func TopicForChannel(channelID string) string {
	return topicURLPrefix + channelID
}

// Subscribe はチャンネルのアップロードフィードの購読をハブに要求する。
// コールバックは /subscriber/<channelID> になる。
// ハブは検証を非同期で行うため、202 Acceptedで成功とみなす。
func (c *Client) Subscribe(ctx context.Context, channelID string) error {
	return c.SubscribeTopic(ctx, channelID, TopicForChannel(channelID))
}

// SubscribeTopic は任意のトピックURLの購読をハブに要求する。
// callbackIDはコールバックパスの/subscriber/以降に使われる識別子。
// 自動検出で解決したトピックを購読する場合に使用する。
func (c *Client) SubscribeTopic(ctx context.Context, callbackID, topic string) error {
	form := url.Values{
		"hub.callback":      {strings.TrimRight(c.cfg.BaseURL, "/") + "/subscriber/" + callbackID},
		"hub.mode":          {"subscribe"},
		"hub.topic":         {topic},
		"hub.lease_seconds": {strconv.Itoa(c.cfg.LeaseSeconds)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HubURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("購読リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ハブへの購読リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ハブが購読を受理しませんでした (status=%d, topic=%s)", resp.StatusCode, topic)
	}

	c.logger.Info("購読リクエストをハブに送信しました",
		slog.String("callback_id", callbackID),
		slog.String("topic", topic),
		slog.Int("lease_seconds", c.cfg.LeaseSeconds),
	)
	return nil
}

// RefreshAll は全チャンネルの購読をベストエフォートで更新し、成功数を返す。
// リースは有効期限前に定期的に更新する必要がある。個別の失敗はログに残して継続する。
func (c *Client) RefreshAll(ctx context.Context, channelIDs []string) int {
	renewed := 0
	for _, channelID := range channelIDs {
		if err := c.Subscribe(ctx, channelID); err != nil {
			c.logger.Error("購読の更新に失敗しました",
				slog.String("channel_id", channelID),
				slog.String("error", err.Error()),
			)
			continue
		}
		renewed++
	}

	c.logger.Info("購読リースを更新しました",
		slog.Int("renewed", renewed),
		slog.Int("total", len(channelIDs)),
	)
	return renewed
}
