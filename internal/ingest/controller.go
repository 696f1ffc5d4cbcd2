// Package ingest はWebhook配信1件分の取り込みフローを提供する。
// Linkヘッダーのトピック解決、フィード正規化、更新レコードの永続化、
// 動画エントリへのクレーム適用をこの順で編成する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kohei/claimsub/internal/claim"
	"github.com/kohei/claimsub/internal/feed"
	"github.com/kohei/claimsub/internal/linkheader"
	"github.com/kohei/claimsub/internal/metrics"
)

// DefaultVideoURLPrefix は動画IDを持つエントリと判定するリンクの接頭辞。
const DefaultVideoURLPrefix = "https://www.youtube.com/watch?v="

// ClaimApplier は動画1件へのクレーム適用のインターフェース。
type ClaimApplier interface {
	Apply(ctx context.Context, videoID string) claim.Result
}

// UpdatePersister は正規化済みエントリの永続化のインターフェース。
type UpdatePersister interface {
	Persist(ctx context.Context, topic, callback string, entries []feed.Entry) (int, error)
}

// Summary は配信1件分の取り込み結果の集計。レスポンスには含まれず、ログ専用。
type Summary struct {
	Topic          string
	Entries        int
	Stored         int
	Claimed        int
	AlreadyClaimed int
	NotFound       int
	ClaimFailed    int
	Skipped        int
}

// Controller はWebhook配信の取り込みフローを編成する。
type Controller struct {
	normalizer     *feed.Normalizer
	updates        UpdatePersister
	claims         ClaimApplier
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	videoURLPrefix string
}

// NewController はControllerの新しいインスタンスを生成する。
// videoURLPrefixが空の場合はDefaultVideoURLPrefixを使用する。
func NewController(
	normalizer *feed.Normalizer,
	updates UpdatePersister,
	claims ClaimApplier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	videoURLPrefix string,
) *Controller {
	if videoURLPrefix == "" {
		videoURLPrefix = DefaultVideoURLPrefix
	}
	return &Controller{
		normalizer:     normalizer,
		updates:        updates,
		claims:         claims,
		collector:      collector,
		logger:         logger,
		videoURLPrefix: videoURLPrefix,
	}
}

// Handle は配信1件分を処理してHTTPステータスと集計を返す。
//   - パース不能な本文は500（ハブの再配信を期待する）
//   - 永続化の失敗も500
//   - クレームの失敗は配信の受理を妨げない（集計とメトリクスにのみ反映）
func (c *Controller) Handle(ctx context.Context, linkHeader string, body []byte, callback string) (int, Summary) {
	topic, _ := linkheader.SelfLink(linkheader.Parse(linkHeader))
	summary := Summary{Topic: topic}

	entries, err := c.normalizer.Normalize(escapeNonASCII(string(body)))
	if err != nil {
		c.collector.RecordParseFailure()
		c.logParseFailure(err, body, callback)
		return http.StatusInternalServerError, summary
	}
	summary.Entries = len(entries)

	stored, err := c.updates.Persist(ctx, topic, callback, entries)
	if err != nil {
		c.logger.Error("更新レコードの保存に失敗しました",
			slog.String("topic", topic),
			slog.String("callback", callback),
			slog.String("error", err.Error()),
		)
		return http.StatusInternalServerError, summary
	}
	summary.Stored = stored
	c.collector.RecordUpdatesUpserted(stored)

	for _, entry := range entries {
		videoID := c.videoID(entry.Link)
		if videoID == "" {
			// 動画アップロード以外のエントリは保存のみでクレーム対象外
			summary.Skipped++
			continue
		}

		start := time.Now()
		result := c.claims.Apply(ctx, videoID)
		c.collector.RecordClaimLatency(time.Since(start))
		c.collector.RecordClaimOutcome(string(result.Outcome))

		switch result.Outcome {
		case claim.OutcomeClaimed:
			summary.Claimed++
		case claim.OutcomeAlreadyClaimed:
			summary.AlreadyClaimed++
		case claim.OutcomeVideoNotFound:
			summary.NotFound++
		case claim.OutcomeFailed:
			summary.ClaimFailed++
		}
	}

	c.logger.Info("Webhook配信を取り込みました",
		slog.String("topic", topic),
		slog.String("callback", callback),
		slog.Int("entries", summary.Entries),
		slog.Int("stored", summary.Stored),
		slog.Int("claimed", summary.Claimed),
		slog.Int("already_claimed", summary.AlreadyClaimed),
		slog.Int("not_found", summary.NotFound),
		slog.Int("claim_failed", summary.ClaimFailed),
	)

	return http.StatusOK, summary
}

// videoID はエントリのリンクから動画IDを抽出する。接頭辞に一致しない場合は空文字列。
func (c *Controller) videoID(link string) string {
	if !strings.HasPrefix(link, c.videoURLPrefix) {
		return ""
	}
	return strings.TrimPrefix(link, c.videoURLPrefix)
}

// logParseFailure はパース失敗をエラーの行番号と本文の該当行とともに記録する。
func (c *Controller) logParseFailure(err error, body []byte, callback string) {
	attrs := []any{
		slog.String("callback", callback),
		slog.String("error", err.Error()),
	}

	var parseErr *feed.ParseError
	if errors.As(err, &parseErr) && parseErr.Line > 0 {
		attrs = append(attrs, slog.Int("line", parseErr.Line))
		if segment := bodyLine(body, parseErr.Line); segment != "" {
			attrs = append(attrs, slog.String("segment", segment))
		}
	}

	c.logger.Error("フィード本文のパースに失敗しました", attrs...)
}

// bodyLine は本文の1始まりのline行目を返す。範囲外の場合は空文字列。
func bodyLine(body []byte, line int) string {
	lines := strings.Split(string(body), "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

// escapeNonASCII は非ASCII文字を数値文字参照（&#NNN;）に置き換える。
// 宣言と実際のエンコーディングが食い違う配信でもXMLデコーダが落ちないようにする。
func escapeNonASCII(text string) string {
	ascii := true
	for _, r := range text {
		if r > 127 {
			ascii = false
			break
		}
	}
	if ascii {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r > 127 {
			fmt.Fprintf(&b, "&#%d;", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
