// Package linkheader はHTTP Linkヘッダー（RFC 5988形式）のパース機能を提供する。
// PubSubHubbubのハブが配信時に付与するself/hubリンクの抽出に使用される。
package linkheader

import "strings"

// Link はLinkヘッダー内の1つのリンクを表す。
// RelとRevは関連タイプのトークン集合（小文字化済み）として専用フィールドに保持し、
// それ以外のパラメータはParamsに格納する。
type Link struct {
	URL    string
	Rel    []string
	Rev    []string
	Params map[string]string
}

// HasRel はリンクのrel集合にトークンが含まれるかを返す。
// トークンは小文字で比較される。
func (l Link) HasRel(token string) bool {
	for _, r := range l.Rel {
		if r == token {
			return true
		}
	}
	return false
}

// cleanValue は前後の空白と引用符を取り除く。
func cleanValue(s string) string {
	return strings.Trim(s, " \t\"")
}

// Parse はLinkヘッダー値をパースしてリンクのリストを返す。
// カンマでリンクを分割し、各リンクを最初のセミコロンでURL部とパラメータ部に分ける。
// 不正な形式にも寛容に動作する:
//   - 閉じブラケットのないURL（"<http://foo.com"）はブラケットを剥がして受理する
//   - セミコロンのないセグメントはURLのみのリンクになる
//   - "=" のないパラメータは空値として扱う
//   - 空のキーは破棄される
//
// relとrevの値は小文字化したうえで空白区切りのトークン集合に分解される
// （引用値の中に複数の関連タイプを持てるため）。
func Parse(value string) []Link {
	if value == "" {
		return nil
	}

	var links []Link
	for _, segment := range strings.Split(value, ",") {
		rawURL := segment
		params := ""
		if idx := strings.Index(segment, ";"); idx >= 0 {
			rawURL = segment[:idx]
			params = segment[idx+1:]
		}

		link := Link{URL: strings.Trim(rawURL, "<> ")}

		for _, param := range strings.Split(params, ";") {
			key := param
			val := ""
			if idx := strings.Index(param, "="); idx >= 0 {
				key = param[:idx]
				val = param[idx+1:]
			}

			key = strings.ToLower(cleanValue(key))
			if key == "" {
				continue
			}

			switch key {
			case "rel":
				link.Rel = splitRelTokens(val)
			case "rev":
				link.Rev = splitRelTokens(val)
			default:
				if link.Params == nil {
					link.Params = make(map[string]string)
				}
				link.Params[key] = cleanValue(val)
			}
		}

		links = append(links, link)
	}

	return links
}

// splitRelTokens はrel/rev値を小文字化し、空白区切りのトークン集合に分解する。
func splitRelTokens(value string) []string {
	return strings.Fields(strings.ToLower(cleanValue(value)))
}

// SelfLink はrel集合に"self"を含む最初のリンクのURLを返す。
// 見つからない場合はfalseを返す。
func SelfLink(links []Link) (string, bool) {
	for _, link := range links {
		if link.HasRel("self") {
			return link.URL, true
		}
	}
	return "", false
}
