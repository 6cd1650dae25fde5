package model

import "time"

// Unsubscription は配信停止時に収集するフィードバックを表す。
// 配信停止アクションごとに最大1件作成し、以後変更しない。
type Unsubscription struct {
	ID            string
	AlertID       string
	TooManyEmails bool
	ChangeFilters bool
	Unexpected    bool
	Irrelevant    bool
	OtherReason   string
	CreatedAt     time.Time
}
