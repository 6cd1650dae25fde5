package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mkondo/jobalerts/internal/model"
)

// PostgresAlertRepo はPostgreSQLを使用したアラートリポジトリ。
type PostgresAlertRepo struct {
	db *sql.DB
}

// NewPostgresAlertRepo はPostgresAlertRepoを生成する。
func NewPostgresAlertRepo(db *sql.DB) *PostgresAlertRepo {
	return &PostgresAlertRepo{db: db}
}

// facetFilterRecord はfacet_filtersカラムのJSONB表現。
type facetFilterRecord struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

func marshalFacetFilters(ff model.FacetFilters) ([]byte, error) {
	records := make([][]facetFilterRecord, 0, len(ff))
	for _, group := range ff {
		g := make([]facetFilterRecord, 0, len(group))
		for _, f := range group {
			g = append(g, facetFilterRecord{Attribute: f.Attribute, Value: f.Value})
		}
		records = append(records, g)
	}
	return json.Marshal(records)
}

func unmarshalFacetFilters(data []byte) (model.FacetFilters, error) {
	var records [][]facetFilterRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	ff := make(model.FacetFilters, 0, len(records))
	for _, group := range records {
		g := make([]model.FacetFilter, 0, len(group))
		for _, r := range group {
			g = append(g, model.FacetFilter{Attribute: r.Attribute, Value: r.Value})
		}
		ff = append(ff, g)
	}
	return ff, nil
}

const alertColumns = `id, email, keyword, facet_filters, last_post_id,
	        is_active, confirmed_at, unsubscribe_token, created_at, updated_at`

// scanAlert は1行をJobAlertへ読み取る。
func scanAlert(row *sql.Row) (*model.JobAlert, error) {
	alert := &model.JobAlert{}
	var facetFilters []byte
	var lastPostID int64
	var confirmedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.Email, &alert.Keyword, &facetFilters, &lastPostID,
		&alert.IsActive, &confirmedAt, &alert.UnsubscribeToken,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ff, err := unmarshalFacetFilters(facetFilters)
	if err != nil {
		return nil, fmt.Errorf("ファセットフィルタの復元に失敗しました: %w", err)
	}
	alert.FacetFilters = ff
	alert.Cursor = model.NewCursor(lastPostID)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		alert.ConfirmedAt = &t
	}

	return alert, nil
}

// Create はアラートを作成する。
func (r *PostgresAlertRepo) Create(ctx context.Context, alert *model.JobAlert) error {
	facetFilters, err := marshalFacetFilters(alert.FacetFilters)
	if err != nil {
		return fmt.Errorf("ファセットフィルタのシリアライズに失敗しました: %w", err)
	}

	var confirmedAt sql.NullTime
	if alert.ConfirmedAt != nil {
		confirmedAt = sql.NullTime{Time: *alert.ConfirmedAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO job_alerts (id, email, keyword, facet_filters, last_post_id,
		                         is_active, confirmed_at, unsubscribe_token,
		                         created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID, alert.Email, alert.Keyword, facetFilters,
		alert.Cursor.LastPostID(), alert.IsActive, confirmedAt,
		alert.UnsubscribeToken, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アラートの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのアラートを取得する。見つからない場合はnilを返す。
func (r *PostgresAlertRepo) FindByID(ctx context.Context, id string) (*model.JobAlert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM job_alerts WHERE id = $1`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アラートの取得に失敗しました: %w", err)
	}
	return alert, nil
}

// FindByToken は配信停止トークンでアラートを検索する。見つからない場合はnilを返す。
func (r *PostgresAlertRepo) FindByToken(ctx context.Context, token string) (*model.JobAlert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM job_alerts WHERE unsubscribe_token = $1`, token)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("トークンによるアラートの検索に失敗しました: %w", err)
	}
	return alert, nil
}

// ListActive はアクティブなアラートの一覧を(created_at, id)順で返す。
func (r *PostgresAlertRepo) ListActive(ctx context.Context, onlyConfirmed bool) ([]*model.JobAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM job_alerts WHERE is_active = TRUE`
	if onlyConfirmed {
		query += ` AND confirmed_at IS NOT NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("アクティブなアラートの一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var alerts []*model.JobAlert
	for rows.Next() {
		alert := &model.JobAlert{}
		var facetFilters []byte
		var lastPostID int64
		var confirmedAt sql.NullTime

		err := rows.Scan(
			&alert.ID, &alert.Email, &alert.Keyword, &facetFilters, &lastPostID,
			&alert.IsActive, &confirmedAt, &alert.UnsubscribeToken,
			&alert.CreatedAt, &alert.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("アラート行の読み取りに失敗しました: %w", err)
		}

		ff, err := unmarshalFacetFilters(facetFilters)
		if err != nil {
			return nil, fmt.Errorf("ファセットフィルタの復元に失敗しました: %w", err)
		}
		alert.FacetFilters = ff
		alert.Cursor = model.NewCursor(lastPostID)
		if confirmedAt.Valid {
			t := confirmedAt.Time
			alert.ConfirmedAt = &t
		}

		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アラート一覧の走査に失敗しました: %w", err)
	}

	return alerts, nil
}

// Deactivate は指定IDのアラートを非アクティブ化する。冪等。
func (r *PostgresAlertRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_alerts SET is_active = FALSE, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("アラートの非アクティブ化に失敗しました: %w", err)
	}
	return nil
}

// Confirm は指定IDのアラートの確認日時を設定する。
// すでに確認済みの場合は初回の日時を維持する。
func (r *PostgresAlertRepo) Confirm(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_alerts SET confirmed_at = now(), updated_at = now()
		 WHERE id = $1 AND confirmed_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("アラートの確認に失敗しました: %w", err)
	}
	return nil
}

// AdvanceCursor はカーソルを単一のアトミックなUPDATEで前進させる。
// WHERE句で現在値以下であることを確認するため、並行する実行が
// 古い読み取りからカーソルを巻き戻すことはできない。
// 更新された場合はtrueを返す。
func (r *PostgresAlertRepo) AdvanceCursor(ctx context.Context, id string, cursor model.Cursor) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE job_alerts SET last_post_id = $2, updated_at = now()
		 WHERE id = $1 AND last_post_id <= $2`,
		id, cursor.LastPostID(),
	)
	if err != nil {
		return false, fmt.Errorf("カーソルの前進に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}
