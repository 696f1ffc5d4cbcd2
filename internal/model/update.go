// Package model はアプリケーション全体で共有されるドメインモデルを定義する。
package model

import "time"

// UpdateRecord はハブから配信されたフィードエントリの正規化済み永続レコード。
// DedupKeyはlinkとentryIdから導出されるコンテンツハッシュで、
// 同一エントリの再配信は同じキーへの上書き（last-write-wins）になる。
type UpdateRecord struct {
	DedupKey  string
	Topic     string
	Title     string
	Content   string
	Link      string
	Callback  string
	UpdatedAt time.Time
}
