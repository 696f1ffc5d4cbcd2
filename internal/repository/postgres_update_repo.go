package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kohei/claimsub/internal/model"
)

// PostgresUpdateRepo はPostgreSQLを使用した更新レコードリポジトリ。
type PostgresUpdateRepo struct {
	db *sql.DB
}

// NewPostgresUpdateRepo はPostgresUpdateRepoを生成する。
func NewPostgresUpdateRepo(db *sql.DB) *PostgresUpdateRepo {
	return &PostgresUpdateRepo{db: db}
}

// Upsert はレコードをdedup_keyをキーとしてUPSERTする。
// 同一キーへの再配信は全フィールドを置き換え、updated_atを更新する。
func (r *PostgresUpdateRepo) Upsert(ctx context.Context, record *model.UpdateRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO topic_updates (dedup_key, topic, title, content, link, callback, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (dedup_key) DO UPDATE SET
		    topic = EXCLUDED.topic,
		    title = EXCLUDED.title,
		    content = EXCLUDED.content,
		    link = EXCLUDED.link,
		    callback = EXCLUDED.callback,
		    updated_at = EXCLUDED.updated_at`,
		record.DedupKey, record.Topic, record.Title, record.Content,
		record.Link, record.Callback, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新レコードのUPSERTに失敗しました: %w", err)
	}
	return nil
}

// ListRecent はupdated_at降順でレコードを取得する。
// callbackFilterが非空の場合はcallbackの完全一致で絞り込んだ後にlimitを適用する。
func (r *PostgresUpdateRepo) ListRecent(ctx context.Context, limit int, callbackFilter string) ([]model.UpdateRecord, error) {
	query := `SELECT dedup_key, topic, title, content, link, callback, updated_at
	          FROM topic_updates`
	args := []interface{}{}
	argIndex := 1

	if callbackFilter != "" {
		query += fmt.Sprintf(" WHERE callback = $%d", argIndex)
		args = append(args, callbackFilter)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("更新レコード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []model.UpdateRecord
	for rows.Next() {
		var rec model.UpdateRecord
		if err := rows.Scan(
			&rec.DedupKey, &rec.Topic, &rec.Title, &rec.Content,
			&rec.Link, &rec.Callback, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("更新レコード行の読み取りに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("更新レコード一覧の走査に失敗しました: %w", err)
	}

	return records, nil
}

// DeleteBeyondRank はupdated_at降順の上位keep件を残し、それ以外をすべて削除する。
// row_number()は1始まりのため、rn > keep がちょうどkeep件を残す条件になる。
func (r *PostgresUpdateRepo) DeleteBeyondRank(ctx context.Context, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM topic_updates
		 WHERE dedup_key IN (
		    SELECT dedup_key FROM (
		       SELECT dedup_key, row_number() OVER (ORDER BY updated_at DESC) AS rn
		       FROM topic_updates
		    ) ranked
		    WHERE rn > $1
		 )`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("保持件数超過レコードの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return deleted, nil
}

// compile-time interface check
var _ UpdateRepository = (*PostgresUpdateRepo)(nil)
