// Package model はドメインモデルを定義する。
package model

import (
	"net/url"
	"time"
)

// JobAlert は保存された検索条件（アラート）と通知状態を表す。
// 1レコードが1通知先メールアドレスに対応する。
type JobAlert struct {
	ID               string
	Email            string
	Keyword          string
	FacetFilters     FacetFilters
	Cursor           Cursor
	IsActive         bool
	ConfirmedAt      *time.Time
	UnsubscribeToken string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsConfirmed はダブルオプトイン確認が完了しているかを返す。
func (a *JobAlert) IsConfirmed() bool {
	return a.ConfirmedAt != nil
}

// SearchResultsQuery はフロントエンドの検索結果ページへ渡すクエリ文字列を返す。
// キーワードとファセットフィルタをURLエンコードする。
func (a *JobAlert) SearchResultsQuery() string {
	v := url.Values{}
	if a.Keyword != "" {
		v.Set("query", a.Keyword)
	}
	for _, group := range a.FacetFilters {
		for _, f := range group {
			v.Add("refinement", f.Attribute+":"+f.Value)
		}
	}
	return v.Encode()
}

// FacetFilter はカタログ側の属性・値による1つの絞り込み条件を表す。
type FacetFilter struct {
	Attribute string
	Value     string
}

// FacetFilters はフィルタグループの列を表す。
// グループ間は論理AND、グループ内は論理ORで結合される（カタログ側の意味論）。
// 本コアは属性名の許可リスト検証以外、この構造を解釈せずそのまま受け渡す。
type FacetFilters [][]FacetFilter

// IsEmpty はフィルタが1つも指定されていないかを返す。
func (ff FacetFilters) IsEmpty() bool {
	for _, group := range ff {
		if len(group) > 0 {
			return false
		}
	}
	return true
}
