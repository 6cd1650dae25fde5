// Package catalog は外部求人カタログ検索バックエンドとの連携を提供する。
// 保存された検索条件から検索パラメータを組み立てるコンパイラと、
// 検索APIを呼び出すHTTPクライアントを含む。
package catalog

import (
	"strings"

	"github.com/mkondo/jobalerts/internal/model"
)

// SearchParams はカタログ検索1回分のパラメータを表す。
type SearchParams struct {
	// Keyword は全文検索キーワード。空の場合は全件が対象となる。
	Keyword string
	// FacetFilters はカタログへそのまま受け渡す絞り込み条件。
	FacetFilters model.FacetFilters
	// ExtraFilter はカーソル境界条件式（例: "post_id > 42"）。空の場合は境界なし。
	ExtraFilter string
	// HitsPerPage は1回の実行で取得するヒット数の上限。
	HitsPerPage int
}

// Compile はアラートの検索条件をカタログ検索パラメータへ変換する。
// カーソルの境界条件式を付加するため、既に通知済みの求人は結果に含まれない。
// 純粋関数であり副作用を持たない。
func Compile(alert *model.JobAlert, pageSize int) SearchParams {
	return SearchParams{
		Keyword:      alert.Keyword,
		FacetFilters: alert.FacetFilters,
		ExtraFilter:  alert.Cursor.FilterExpr(),
		HitsPerPage:  pageSize,
	}
}

// allowedFacetAttributes はカタログ側が所有する絞り込み属性の許可リスト。
var allowedFacetAttributes = map[string]bool{
	"company_name":   true,
	"tags_area":      true,
	"tags_city":      true,
	"tags_country":   true,
	"tags_role_type": true,
	"tags_skill":     true,
}

// ValidateFacetFilters は全ての絞り込み属性が許可リストに含まれることを検証する。
// 許可されていない属性が含まれる場合はAPIErrorを返す。
func ValidateFacetFilters(ff model.FacetFilters) error {
	for _, group := range ff {
		for _, f := range group {
			if !allowedFacetAttributes[f.Attribute] {
				return model.NewInvalidFacetError(f.Attribute)
			}
		}
	}
	return nil
}

// ParseFacetFilterStrings は"attribute:value"形式のフィルタグループ列を
// 構造化されたFacetFiltersへ変換する。値に":"を含む場合は最初の":"で分割する。
// 形式が不正な要素が含まれる場合はAPIErrorを返す。
func ParseFacetFilterStrings(groups [][]string) (model.FacetFilters, error) {
	ff := make(model.FacetFilters, 0, len(groups))
	for _, group := range groups {
		g := make([]model.FacetFilter, 0, len(group))
		for _, pair := range group {
			attr, value, found := strings.Cut(pair, ":")
			if !found || attr == "" || value == "" {
				return nil, model.NewInvalidRequestError("絞り込み条件は attribute:value 形式で指定してください")
			}
			g = append(g, model.FacetFilter{Attribute: attr, Value: value})
		}
		ff = append(ff, g)
	}
	return ff, nil
}
