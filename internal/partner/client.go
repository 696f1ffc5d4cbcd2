// Package partner はYouTube Content ID / Data API形式のパートナーAPIクライアントを提供する。
// claim.PartnerAPIインターフェースのHTTP実装であり、全呼び出しに
// onBehalfOfContentOwnerパラメータを付与する。
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/kohei/claimsub/internal/claim"
)

const (
	// defaultPartnerBase はContent ID APIのベースURL。
	defaultPartnerBase = "https://www.googleapis.com/youtube/partner/v1"
	// defaultDataBase はData APIのベースURL。
	defaultDataBase = "https://www.googleapis.com/youtube/v3"
	// assetLabel は作成したアセットに付与するラベル。
	assetLabel = "claimsub-upload-claimer"
)

// adFormats は収益化設定で有効化する広告フォーマットの一覧。
var adFormats = []string{
	"overlay",
	"product_listing",
	"standard_instream",
	"trueview_instream",
	"long",
}

// Config はClientの接続設定。
type Config struct {
	// PartnerBase はContent ID APIのベースURL。空の場合はデフォルトを使用する。
	PartnerBase string
	// DataBase はData APIのベースURL。空の場合はデフォルトを使用する。
	DataBase string
	// ContentOwnerID はクレームを行うコンテンツオーナーのID。
	ContentOwnerID string
	// AccessToken が非空の場合はAuthorization: Bearerヘッダーに設定される。
	AccessToken string
}

// Client はパートナーAPIのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	if cfg.PartnerBase == "" {
		cfg.PartnerBase = defaultPartnerBase
	}
	if cfg.DataBase == "" {
		cfg.DataBase = defaultDataBase
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		cfg:        cfg,
	}
}

// --- レスポンス型 ---

type pageInfo struct {
	TotalResults int `json:"totalResults"`
}

type claimSearchResponse struct {
	PageInfo pageInfo `json:"pageInfo"`
	Items    []struct {
		Status string `json:"status"`
	} `json:"items"`
}

type videoListResponse struct {
	PageInfo pageInfo `json:"pageInfo"`
	Items    []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"snippet"`
	} `json:"items"`
}

type insertResponse struct {
	ID string `json:"id"`
}

type policyListResponse struct {
	Items []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"items"`
}

// policyBody はポリシー参照（id）またはインラインルールのJSON表現。
type policyBody struct {
	ID    string       `json:"id,omitempty"`
	Rules []policyRule `json:"rules,omitempty"`
}

type policyRule struct {
	Action string `json:"action"`
}

// FindClaimStatuses は動画に紐づくクレームのステータス一覧を返す。
func (c *Client) FindClaimStatuses(ctx context.Context, videoID string) ([]string, error) {
	endpoint := c.cfg.PartnerBase + "/claimSearch"
	query := url.Values{"videoId": {videoID}}

	var resp claimSearchResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("クレーム検索に失敗しました: %w", err)
	}

	if resp.PageInfo.TotalResults == 0 {
		return nil, nil
	}

	statuses := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		statuses = append(statuses, item.Status)
	}
	return statuses, nil
}

// FetchVideo は動画メタデータを取得する。見つからない場合はnilを返す。
func (c *Client) FetchVideo(ctx context.Context, videoID string) (*claim.Video, error) {
	endpoint := c.cfg.DataBase + "/videos"
	query := url.Values{
		"part": {"snippet"},
		"id":   {videoID},
	}

	var resp videoListResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("動画メタデータの取得に失敗しました: %w", err)
	}

	if resp.PageInfo.TotalResults == 0 || len(resp.Items) == 0 {
		return nil, nil
	}

	item := resp.Items[0]
	return &claim.Video{
		ID:          item.ID,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
	}, nil
}

// CreateAsset はwebアセットを作成してIDを返す。
// 空のdescriptionはAPI仕様に合わせて"None"に置き換える。
func (c *Client) CreateAsset(ctx context.Context, title, description string) (string, error) {
	if description == "" {
		description = "None"
	}

	body := map[string]interface{}{
		"type": "web",
		"metadata": map[string]string{
			"title":       title,
			"description": description,
		},
		"label": []string{assetLabel},
	}

	var resp insertResponse
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.PartnerBase+"/assets", nil, body, &resp); err != nil {
		return "", fmt.Errorf("アセットの作成に失敗しました: %w", err)
	}
	return resp.ID, nil
}

// SetOwnership はアセットのオーナーシップを設定する。
// コンテンツオーナーが全世界で100%を所有する固定の業務ルールを適用する。
func (c *Client) SetOwnership(ctx context.Context, assetID string) error {
	body := map[string]interface{}{
		"general": []map[string]interface{}{{
			"owner":       c.cfg.ContentOwnerID,
			"ratio":       100,
			"type":        "exclude",
			"territories": []string{},
		}},
	}

	endpoint := c.cfg.PartnerBase + "/assets/" + assetID + "/ownership"
	if err := c.doJSON(ctx, http.MethodPut, endpoint, nil, body, nil); err != nil {
		return fmt.Errorf("オーナーシップの設定に失敗しました: %w", err)
	}
	return nil
}

// FileClaim はアセットと動画を紐づけるaudiovisualクレームを作成してIDを返す。
func (c *Client) FileClaim(ctx context.Context, assetID, videoID string, policy claim.Policy) (string, error) {
	p := policyBody{ID: policy.ID}
	for _, r := range policy.Rules {
		p.Rules = append(p.Rules, policyRule{Action: r.Action})
	}

	body := map[string]interface{}{
		"assetId":     assetID,
		"videoId":     videoID,
		"policy":      p,
		"contentType": "audiovisual",
	}

	var resp insertResponse
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.PartnerBase+"/claims", nil, body, &resp); err != nil {
		return "", fmt.Errorf("クレームの作成に失敗しました: %w", err)
	}
	return resp.ID, nil
}

// SetMonetizationOptions は動画の広告フォーマットを有効化する。
func (c *Client) SetMonetizationOptions(ctx context.Context, videoID string) error {
	body := map[string]interface{}{
		"adFormats": adFormats,
	}

	endpoint := c.cfg.PartnerBase + "/videoAdvertisingOptions/" + videoID
	if err := c.doJSON(ctx, http.MethodPut, endpoint, nil, body, nil); err != nil {
		return fmt.Errorf("収益化オプションの設定に失敗しました: %w", err)
	}
	return nil
}

// ListPolicies はコンテンツオーナーのポリシー一覧を返す。
func (c *Client) ListPolicies(ctx context.Context) ([]claim.PolicyInfo, error) {
	var resp policyListResponse
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.PartnerBase+"/policies", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("ポリシー一覧の取得に失敗しました: %w", err)
	}

	policies := make([]claim.PolicyInfo, 0, len(resp.Items))
	for _, item := range resp.Items {
		policies = append(policies, claim.PolicyInfo{ID: item.ID, Name: item.Name})
	}
	return policies, nil
}

// doJSON はJSONリクエストを実行してレスポンスをデコードする。
// 全リクエストにonBehalfOfContentOwnerを付与し、
// 2xx以外のステータスはエラーとして返す。outがnilの場合はボディを読み捨てる。
func (c *Client) doJSON(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set("onBehalfOfContentOwner", c.cfg.ContentOwnerID)
	reqURL.RawQuery = q.Encode()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("パートナーAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("パートナーAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("パートナーAPIがステータス %d を返しました", resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ claim.PartnerAPI = (*Client)(nil)
