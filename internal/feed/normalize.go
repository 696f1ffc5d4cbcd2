// Package feed はハブから配信されたフィードペイロードの正規化機能を提供する。
// パース自体はgofeedに委譲し、このパッケージはエントリ形状の差異
// （Atomのcontentブロック vs RSSのdescription）の解決を担う。
package feed

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/mmcdole/gofeed"
)

// Entry は方言に依存しない正規化済みのフィードエントリ。
// 欠落フィールドは空文字列で表現され、nilにはならない。
type Entry struct {
	EntryID string
	Title   string
	Content string
	Link    string
}

// ParseError はフィードペイロードがwell-formedでない場合のエラー。
// XMLデコーダが行番号を報告した場合はLineに1始まりの行番号を保持する
// （報告がない場合は0）。
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("フィードのパースに失敗しました (line %d): %v", e.Line, e.Err)
	}
	return fmt.Sprintf("フィードのパースに失敗しました: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// xmlLinePattern はencoding/xmlのエラーメッセージから行番号を抽出する。
// 例: "XML syntax error on line 7: unexpected EOF"
var xmlLinePattern = regexp.MustCompile(`line (\d+)`)

// errorLine はパースエラーのメッセージから行番号を抽出する。見つからなければ0。
func errorLine(err error) int {
	m := xmlLinePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return line
}

// Normalizer はフィードペイロードを正規化済みエントリの列に変換する。
type Normalizer struct {
	parser *gofeed.Parser
}

// NewNormalizer はNormalizerの新しいインスタンスを生成する。
func NewNormalizer() *Normalizer {
	return &Normalizer{parser: gofeed.NewParser()}
}

// Normalize はフィード本文をパースし、配信順のエントリ列を返す。
// ペイロードがwell-formedなフィードでない場合は*ParseErrorを返す。
//
// エントリごとの解決規則:
//   - contentブロックを持つエントリ（Atom方言）: contentの値とエントリ自身のidを採用する
//   - それ以外: descriptionをcontentとし、entryIdは id → link → title → content の
//     優先順で最初の非空値を採用する
func (n *Normalizer) Normalize(text string) ([]Entry, error) {
	parsed, err := n.parser.ParseString(text)
	if err != nil {
		return nil, &ParseError{Line: errorLine(err), Err: err}
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, normalizeItem(item))
	}

	return entries, nil
}

// normalizeItem は1エントリの形状差異を解決してEntryに変換する。
func normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		Title: item.Title,
		Link:  item.Link,
	}

	if item.Content != "" {
		// Atom: contentブロックの値とエントリ自身のidを使用する
		entry.Content = item.Content
		entry.EntryID = item.GUID
		return entry
	}

	entry.Content = item.Description
	entry.EntryID = firstNonEmpty(item.GUID, item.Link, item.Title, entry.Content)
	return entry
}

// firstNonEmpty は最初の非空文字列を返す。すべて空の場合は空文字列を返す。
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
