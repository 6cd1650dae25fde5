package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mkondo/jobalerts/internal/model"
)

// PostgresUnsubscriptionRepo はPostgreSQLを使用した配信停止フィードバックリポジトリ。
type PostgresUnsubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresUnsubscriptionRepo はPostgresUnsubscriptionRepoを生成する。
func NewPostgresUnsubscriptionRepo(db *sql.DB) *PostgresUnsubscriptionRepo {
	return &PostgresUnsubscriptionRepo{db: db}
}

// Create はフィードバックレコードを作成する。
func (r *PostgresUnsubscriptionRepo) Create(ctx context.Context, unsub *model.Unsubscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO unsubscriptions (id, alert_id, too_many_emails, change_filters,
		                              unexpected, irrelevant, other_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		unsub.ID, unsub.AlertID, unsub.TooManyEmails, unsub.ChangeFilters,
		unsub.Unexpected, unsub.Irrelevant, unsub.OtherReason, unsub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("配信停止フィードバックの作成に失敗しました: %w", err)
	}
	return nil
}
