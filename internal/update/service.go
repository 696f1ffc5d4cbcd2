// Package update は更新レコードの同一性判定と永続化ポリシーを提供する。
package update

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/kohei/claimsub/internal/feed"
	"github.com/kohei/claimsub/internal/model"
	"github.com/kohei/claimsub/internal/repository"
	"github.com/kohei/claimsub/internal/security"
)

const (
	// minListLimit / maxListLimit はListRecentのlimitの許容範囲。
	minListLimit = 1
	maxListLimit = 100
	// defaultListLimit はlimit未指定（0以下）の場合の取得件数。
	defaultListLimit = 25
)

// Service は更新レコードの永続化とクエリを提供する。
// dedup keyの計算とupdated_atの採番はこのサービスが専有する。
type Service struct {
	repo      repository.UpdateRepository
	sanitizer security.ContentSanitizerService
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.UpdateRepository, sanitizer security.ContentSanitizerService) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// DedupKey はlinkとentryIdからコンテンツハッシュの重複排除キーを計算する。
// 同一エントリの再配信が同じキーに収束するよう、入力のみから決定的に導出する。
func DedupKey(link, entryID string) string {
	hash := sha256.Sum256([]byte(link + "\n" + entryID))
	return fmt.Sprintf("%x", hash)
}

// Persist は正規化済みエントリを更新レコードとして保存し、保存件数を返す。
// 各レコードはdedup keyによるUPSERTで、再配信は既存レコードを上書きする。
// タイトルとコンテンツはサニタイズしてから保存する。
func (s *Service) Persist(ctx context.Context, topic, callback string, entries []feed.Entry) (int, error) {
	now := s.now()

	for i, entry := range entries {
		record := &model.UpdateRecord{
			DedupKey:  DedupKey(entry.Link, entry.EntryID),
			Topic:     topic,
			Title:     s.sanitizer.Sanitize(entry.Title),
			Content:   s.sanitizer.Sanitize(entry.Content),
			Link:      entry.Link,
			Callback:  callback,
			UpdatedAt: now,
		}

		if err := s.repo.Upsert(ctx, record); err != nil {
			return i, fmt.Errorf("エントリの保存に失敗しました (entry_id=%q): %w", entry.EntryID, err)
		}
	}

	slog.Info("更新レコードを保存しました",
		slog.Int("count", len(entries)),
		slog.String("topic", topic),
		slog.String("callback", callback),
	)

	return len(entries), nil
}

// ListRecent はupdated_at降順で更新レコードを取得する。
// limitは[1,100]にクランプされ、0以下の場合はデフォルトの25を使用する。
func (s *Service) ListRecent(ctx context.Context, limit int, callbackFilter string) ([]model.UpdateRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit < minListLimit {
		limit = minListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	return s.repo.ListRecent(ctx, limit, callbackFilter)
}
