package model

import "time"

// JobHit はカタログ検索結果の1件を表す一時的な射影。
// ダイジェストメール1通の組み立てにのみ使用し、永続化しない。
type JobHit struct {
	PostID      int64
	Title       string
	CompanyName string
	URLExternal string
	PostedAt    time.Time
	ClosesAt    *time.Time
}

// ClosesWithin は掲載終了日時がdurationウィンドウ内に収まるかを返す。
// 掲載終了日時が未設定の場合はfalseを返す。
func (h *JobHit) ClosesWithin(now time.Time, window time.Duration) bool {
	if h.ClosesAt == nil {
		return false
	}
	return h.ClosesAt.After(now) && h.ClosesAt.Before(now.Add(window))
}

// MaxPostID はヒット列の中で最大の求人IDを返す。空の場合は0を返す。
// バッチ実行でのカーソル前進先を決定するために使用する。
func MaxPostID(hits []JobHit) int64 {
	var maxID int64
	for _, h := range hits {
		if h.PostID > maxID {
			maxID = h.PostID
		}
	}
	return maxID
}
