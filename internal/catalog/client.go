package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkondo/jobalerts/internal/model"
)

// SearchClient はカタログ検索の実行インターフェース。
// テスト時にモックに差し替え可能。
type SearchClient interface {
	// Search は検索パラメータに合致する求人を取得する。
	// バックエンドへ到達できない場合はmodel.ErrCatalogUnavailableを返す。
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)
}

// SearchResult はカタログ検索1回分の結果を表す。
// Hitsはカーソル境界条件指定時、求人IDの昇順で返される。
// カーソルを取得済みヒットの最大IDへ進めても未取得分を飛ばさないために
// この順序が必要となる。
type SearchResult struct {
	Hits         []model.JobHit
	TotalMatched int
}

// HTTPClient はカタログ検索APIのHTTPクライアント。
// 検索エンドポイントへJSONクエリをPOSTする。
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewHTTPClient はHTTPClientの新しいインスタンスを生成する。
// タイムアウトは渡されたhttp.Clientの設定に従う。
func NewHTTPClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *HTTPClient {
	return &HTTPClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// searchRequest は検索APIのリクエストボディ。
type searchRequest struct {
	Query        string     `json:"query"`
	FacetFilters [][]string `json:"facetFilters"`
	Filters      string     `json:"filters,omitempty"`
	HitsPerPage  int        `json:"hitsPerPage"`
}

// searchHit は検索APIのヒット1件。
type searchHit struct {
	PostID      int64      `json:"objectID"`
	Title       string     `json:"title"`
	CompanyName string     `json:"company_name"`
	URLExternal string     `json:"url_external"`
	PostedAt    time.Time  `json:"posted_at"`
	ClosesAt    *time.Time `json:"closes_at,omitempty"`
}

// searchResponse は検索APIのレスポンスボディ。
type searchResponse struct {
	Hits   []searchHit `json:"hits"`
	NbHits int         `json:"nbHits"`
}

// Search は検索パラメータに合致する求人を取得する。
// トランスポートエラー・非200レスポンス・デコード失敗はいずれも
// ErrCatalogUnavailableとして報告し、呼び出し元が一過性の失敗として扱う。
func (c *HTTPClient) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	body := searchRequest{
		Query:        params.Keyword,
		FacetFilters: facetFilterStrings(params.FacetFilters),
		Filters:      params.ExtraFilter,
		HitsPerPage:  params.HitsPerPage,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("検索リクエストのシリアライズに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "JobAlerts/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("カタログ検索APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", model.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("カタログ検索APIが異常ステータスを返しました",
			slog.Int("status_code", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", model.ErrCatalogUnavailable, resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: レスポンスのデコードに失敗: %v", model.ErrCatalogUnavailable, err)
	}

	hits := make([]model.JobHit, 0, len(decoded.Hits))
	for _, h := range decoded.Hits {
		hits = append(hits, model.JobHit{
			PostID:      h.PostID,
			Title:       h.Title,
			CompanyName: h.CompanyName,
			URLExternal: h.URLExternal,
			PostedAt:    h.PostedAt,
			ClosesAt:    h.ClosesAt,
		})
	}

	return &SearchResult{Hits: hits, TotalMatched: decoded.NbHits}, nil
}

// facetFilterStrings は構造化フィルタをカタログのワイヤ形式
// （"attribute:value"文字列のグループ列）へ変換する。
func facetFilterStrings(ff model.FacetFilters) [][]string {
	groups := make([][]string, 0, len(ff))
	for _, group := range ff {
		g := make([]string, 0, len(group))
		for _, f := range group {
			g = append(g, f.Attribute+":"+f.Value)
		}
		groups = append(groups, g)
	}
	return groups
}
