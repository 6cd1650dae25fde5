package repository

import (
	"testing"
	"time"

	"github.com/mkondo/jobalerts/internal/model"
)

// PostgresAlertRepoがAlertRepositoryインターフェースを満たすことを検証
func TestPostgresAlertRepo_ImplementsInterface(t *testing.T) {
	var _ AlertRepository = (*PostgresAlertRepo)(nil)
}

// NewPostgresAlertRepoが正しく初期化されることを検証
func TestNewPostgresAlertRepo_Initializes(t *testing.T) {
	repo := NewPostgresAlertRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ファセットフィルタのJSONB表現が往復で保存されることを検証
func TestFacetFilters_MarshalRoundTrip(t *testing.T) {
	ff := model.FacetFilters{
		{{Attribute: "tags_area", Value: "Operations"}},
		{
			{Attribute: "tags_country", Value: "Japan"},
			{Attribute: "tags_country", Value: "United States"},
		},
	}

	data, err := marshalFacetFilters(ff)
	if err != nil {
		t.Fatalf("marshalFacetFilters failed: %v", err)
	}

	got, err := unmarshalFacetFilters(data)
	if err != nil {
		t.Fatalf("unmarshalFacetFilters failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("グループ数 = %d, want 2", len(got))
	}
	if got[0][0] != (model.FacetFilter{Attribute: "tags_area", Value: "Operations"}) {
		t.Errorf("got[0][0] = %+v", got[0][0])
	}
	if len(got[1]) != 2 {
		t.Errorf("2番目のグループの要素数 = %d, want 2", len(got[1]))
	}
}

// 空のファセットフィルタが空のJSON配列として保存されることを検証
func TestFacetFilters_MarshalEmpty(t *testing.T) {
	data, err := marshalFacetFilters(nil)
	if err != nil {
		t.Fatalf("marshalFacetFilters failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("marshalFacetFilters(nil) = %s, want []", data)
	}

	got, err := unmarshalFacetFilters(data)
	if err != nil {
		t.Fatalf("unmarshalFacetFilters failed: %v", err)
	}
	if !got.IsEmpty() {
		t.Errorf("復元結果が空ではありません: %+v", got)
	}
}

// JobAlertモデルのフィールドが正しく構築されることを検証
func TestPostgresAlertRepo_AlertModel_Fields(t *testing.T) {
	now := time.Now()
	alert := &model.JobAlert{
		ID:               "alert-id-1",
		Email:            "user@example.com",
		Keyword:          "Engineer",
		Cursor:           model.NewCursor(42),
		IsActive:         true,
		UnsubscribeToken: "deadbeef",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if alert.Cursor.LastPostID() != 42 {
		t.Errorf("Cursor.LastPostID() = %d, want 42", alert.Cursor.LastPostID())
	}
	if alert.IsConfirmed() {
		t.Error("ConfirmedAtがnilのアラートはIsConfirmed()=falseであるべき")
	}
	confirmed := now
	alert.ConfirmedAt = &confirmed
	if !alert.IsConfirmed() {
		t.Error("ConfirmedAt設定後はIsConfirmed()=trueであるべき")
	}
}

// PostgresUnsubscriptionRepoがインターフェースを満たすことを検証
func TestPostgresUnsubscriptionRepo_ImplementsInterface(t *testing.T) {
	var _ UnsubscriptionRepository = (*PostgresUnsubscriptionRepo)(nil)
}
