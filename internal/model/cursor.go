package model

import "fmt"

// Cursor は「どこまで通知済みか」の境界を表すウォーターマーク。
// 求人IDによるカーソル方式を採用しており、カタログの求人IDが
// 全体で単調増加することを前提とする。
//
// 生のint64をパッケージ境界を越えて受け渡さず必ずこの型を経由することで、
// タイムスタンプ比較との取り違えをコンパイル時に防ぐ。
// 値はアラートの生存期間を通じて単調非減少となる。
type Cursor struct {
	lastPostID int64
}

// NewCursor は指定された通知済み最終求人IDのCursorを生成する。
// 負の値は0として扱う。
func NewCursor(lastPostID int64) Cursor {
	if lastPostID < 0 {
		lastPostID = 0
	}
	return Cursor{lastPostID: lastPostID}
}

// IsZero は未通知状態（生成直後の初期値）かを返す。
func (c Cursor) IsZero() bool {
	return c.lastPostID == 0
}

// LastPostID は通知済み最終求人IDを返す。永続化層での保存に使用する。
func (c Cursor) LastPostID() int64 {
	return c.lastPostID
}

// AdvanceTo は境界をpostIDまで進めた新しいCursorを返す。
// 現在の境界より小さい値が渡された場合は現状のまま返し、後退を許さない。
func (c Cursor) AdvanceTo(postID int64) Cursor {
	if postID <= c.lastPostID {
		return c
	}
	return Cursor{lastPostID: postID}
}

// FilterExpr はカタログ検索へ渡す境界条件式を返す。
// ゼロ値（未通知状態）の場合は空文字列を返し、絞り込みなしを意味する。
func (c Cursor) FilterExpr() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("post_id > %d", c.lastPostID)
}
