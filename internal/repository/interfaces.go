// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/mkondo/jobalerts/internal/model"
)

// AlertRepository はアラートデータの永続化インターフェース。
type AlertRepository interface {
	// Create はアラートを作成する。ID・トークン・タイムスタンプは呼び出し側が設定する。
	Create(ctx context.Context, alert *model.JobAlert) error

	// FindByID は指定IDのアラートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.JobAlert, error)

	// FindByToken は配信停止トークンでアラートを検索する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.JobAlert, error)

	// ListActive はアクティブなアラートの一覧を返す。
	// onlyConfirmedがtrueの場合、確認済み（confirmed_atが設定済み）のアラートに限定する。
	// 順序は(created_at, id)で安定しており、1回のバッチ実行内で変化しない。
	ListActive(ctx context.Context, onlyConfirmed bool) ([]*model.JobAlert, error)

	// Deactivate は指定IDのアラートを非アクティブ化する。冪等。
	Deactivate(ctx context.Context, id string) error

	// Confirm は指定IDのアラートの確認日時を設定する。冪等（2回目以降は初回の日時を維持する）。
	Confirm(ctx context.Context, id string) error

	// AdvanceCursor はアラートのカーソルを単一のアトミックなUPDATEで前進させる。
	// ストア上の現在値より小さい値への後退は行われず、その場合はfalseを返す。
	// 重複したバッチ実行が古い読み取りからカーソルを巻き戻すことを防ぐ。
	AdvanceCursor(ctx context.Context, id string, cursor model.Cursor) (bool, error)
}

// UnsubscriptionRepository は配信停止フィードバックの永続化インターフェース。
type UnsubscriptionRepository interface {
	// Create はフィードバックレコードを作成する。
	Create(ctx context.Context, unsub *model.Unsubscription) error
}
