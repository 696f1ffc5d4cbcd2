// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/kohei/claimsub/internal/model"
)

// UpdateRepository はフィード更新レコードの永続化インターフェース。
type UpdateRepository interface {
	// Upsert はレコードをdedup_keyをキーとしてUPSERTする。
	// 既存キーへの書き込みは全フィールドを置き換える（last-write-wins）。
	Upsert(ctx context.Context, record *model.UpdateRecord) error

	// ListRecent はupdated_at降順でレコードを取得する。
	// callbackFilterが非空の場合はcallbackの完全一致で絞り込む。
	ListRecent(ctx context.Context, limit int, callbackFilter string) ([]model.UpdateRecord, error)

	// DeleteBeyondRank はupdated_at降順で並べたとき、
	// 上位keep件より後ろのレコードをすべて削除し、削除件数を返す。
	DeleteBeyondRank(ctx context.Context, keep int) (int64, error)
}
