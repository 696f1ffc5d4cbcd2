package hub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/kohei/claimsub/internal/linkheader"
	"github.com/kohei/claimsub/internal/security"
)

// maxDiscoveryBody は自動検出で読み込むレスポンス本文の上限。
const maxDiscoveryBody = 1 << 20 // 1MB

// Endpoints はトピック自動検出の結果。
// Hubが空の場合、呼び出し元は設定済みのハブURLを使用する。
type Endpoints struct {
	Topic string
	Hub   string
}

// Discovery は任意のURLから購読対象のトピックURLを自動検出する。
//
// 検出は次の優先順で行う:
//  1. HTTPレスポンスのLinkヘッダーのrel="self"とrel="hub"
//  2. レスポンスがフィード自体の場合は取得URLをトピックとする
//  3. HTMLのheadからrel="alternate"のフィードリンクを探す
type Discovery struct {
	ssrfGuard  security.SSRFGuardService
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDiscovery はDiscoveryの新しいインスタンスを生成する。
func NewDiscovery(ssrfGuard security.SSRFGuardService, logger *slog.Logger) *Discovery {
	return &Discovery{
		ssrfGuard:  ssrfGuard,
		httpClient: ssrfGuard.NewSafeClient(requestTimeout),
		logger:     logger,
	}
}

// DiscoverTopic はpageURLを取得してトピックURLを検出する。
// 検出できない場合はエラーを返す。
func (d *Discovery) DiscoverTopic(ctx context.Context, pageURL string) (Endpoints, error) {
	if err := d.ssrfGuard.ValidateURL(pageURL); err != nil {
		return Endpoints{}, fmt.Errorf("検出対象URLの検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("検出リクエストの作成に失敗しました: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("検出対象の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Endpoints{}, fmt.Errorf("検出対象がステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return Endpoints{}, fmt.Errorf("検出対象の読み取りに失敗しました: %w", err)
	}

	// Linkヘッダーが最優先
	if ep, ok := endpointsFromLinkHeader(resp.Header.Get("Link")); ok {
		d.logger.Info("Linkヘッダーからトピックを検出しました",
			slog.String("url", pageURL),
			slog.String("topic", ep.Topic),
		)
		return ep, nil
	}

	// フィード自体を指している場合は取得URLがトピック
	if isDirectFeed(resp.Header.Get("Content-Type"), body) {
		return Endpoints{Topic: pageURL}, nil
	}

	// HTMLのheadからフィードリンクを探す
	if topic := feedLinkFromHTML(body, pageURL); topic != "" {
		d.logger.Info("HTMLからフィードリンクを検出しました",
			slog.String("url", pageURL),
			slog.String("topic", topic),
		)
		return Endpoints{Topic: topic}, nil
	}

	return Endpoints{}, fmt.Errorf("トピックを検出できませんでした: %s", pageURL)
}

// endpointsFromLinkHeader はLinkヘッダーのrel="self"とrel="hub"からトピックを解決する。
func endpointsFromLinkHeader(header string) (Endpoints, bool) {
	links := linkheader.Parse(header)

	topic, ok := linkheader.SelfLink(links)
	if !ok {
		return Endpoints{}, false
	}

	ep := Endpoints{Topic: topic}
	for _, link := range links {
		if link.HasRel("hub") {
			ep.Hub = link.URL
			break
		}
	}
	return ep, true
}

// feedContentTypes はフィードとして認識するContent-Type。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// xmlContentTypes は本文の検査が必要な汎用XMLのContent-Type。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// isDirectFeed はレスポンスがRSS/Atomフィード自体かを判定する。
func isDirectFeed(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	for _, feedCT := range feedContentTypes {
		if mediaType == feedCT {
			return true
		}
	}

	isXML := false
	for _, xmlCT := range xmlContentTypes {
		if mediaType == xmlCT {
			isXML = true
			break
		}
	}
	if !isXML || len(body) == 0 {
		return false
	}

	return isRSSOrAtomXML(body)
}

// isRSSOrAtomXML はXML本文の先頭部分を検査してRSS/Atomかを判定する。
func isRSSOrAtomXML(body []byte) bool {
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") {
		return true
	}
	if strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	if strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom") {
		return true
	}
	return false
}

// feedLinkFromHTML はHTMLのheadからrel="alternate"のフィードリンクを探す。
// Atomを優先し、相対URLはbaseURLを基準に解決する。見つからなければ空文字列。
func feedLinkFromHTML(htmlBody []byte, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	var firstRSS, firstAtom string

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

scan:
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			break scan

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				break scan
			}
			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}

			resolved := resolveURL(baseU, href)
			if resolved == "" {
				continue
			}

			switch linkType {
			case "application/atom+xml":
				if firstAtom == "" {
					firstAtom = resolved
				}
			case "application/rss+xml":
				if firstRSS == "" {
					firstRSS = resolved
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				break scan
			}
		}
	}

	if firstAtom != "" {
		return firstAtom
	}
	return firstRSS
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
