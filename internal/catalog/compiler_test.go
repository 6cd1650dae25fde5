package catalog

import (
	"errors"
	"testing"

	"github.com/mkondo/jobalerts/internal/model"
)

// Compileがキーワード・フィルタ・カーソル境界を検索パラメータへ写すことを検証
func TestCompile(t *testing.T) {
	alert := &model.JobAlert{
		Keyword: "Engineer",
		FacetFilters: model.FacetFilters{
			{{Attribute: "tags_area", Value: "Operations"}},
		},
		Cursor: model.NewCursor(42),
	}

	params := Compile(alert, 500)

	if params.Keyword != "Engineer" {
		t.Errorf("Keyword = %q, want %q", params.Keyword, "Engineer")
	}
	if params.ExtraFilter != "post_id > 42" {
		t.Errorf("ExtraFilter = %q, want %q", params.ExtraFilter, "post_id > 42")
	}
	if params.HitsPerPage != 500 {
		t.Errorf("HitsPerPage = %d, want 500", params.HitsPerPage)
	}
	if len(params.FacetFilters) != 1 {
		t.Errorf("FacetFiltersのグループ数 = %d, want 1", len(params.FacetFilters))
	}
}

// ゼロ値カーソルでは境界条件が付かないことを検証
func TestCompile_ZeroCursor(t *testing.T) {
	alert := &model.JobAlert{Keyword: "Engineer"}

	params := Compile(alert, 500)

	if params.ExtraFilter != "" {
		t.Errorf("ExtraFilter = %q, want 空文字列", params.ExtraFilter)
	}
}

// ValidateFacetFiltersが許可リストを適用することを検証
func TestValidateFacetFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters model.FacetFilters
		wantErr bool
	}{
		{
			"許可された属性",
			model.FacetFilters{
				{{Attribute: "tags_role_type", Value: "Research"}},
				{{Attribute: "tags_country", Value: "Japan"}, {Attribute: "tags_country", Value: "United States"}},
			},
			false,
		},
		{
			"許可されていない属性",
			model.FacetFilters{{{Attribute: "salary", Value: "high"}}},
			true,
		},
		{"空のフィルタ", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFacetFilters(tt.filters)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFacetFilters() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					t.Errorf("APIErrorであるべき: %T", err)
				} else if apiErr.Code != model.ErrCodeInvalidFacet {
					t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidFacet)
				}
			}
		})
	}
}

// ParseFacetFilterStringsが"attribute:value"形式を構造化することを検証
func TestParseFacetFilterStrings(t *testing.T) {
	ff, err := ParseFacetFilterStrings([][]string{
		{"tags_area:Operations"},
		{"tags_skill:Go", "tags_skill:PostgreSQL"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(ff) != 2 {
		t.Fatalf("グループ数 = %d, want 2", len(ff))
	}
	if ff[0][0] != (model.FacetFilter{Attribute: "tags_area", Value: "Operations"}) {
		t.Errorf("ff[0][0] = %+v", ff[0][0])
	}
	if len(ff[1]) != 2 {
		t.Errorf("2番目のグループの要素数 = %d, want 2", len(ff[1]))
	}
}

// 値に":"を含む場合は最初の":"で分割することを検証
func TestParseFacetFilterStrings_ColonInValue(t *testing.T) {
	ff, err := ParseFacetFilterStrings([][]string{{"company_name:Acme: East"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ff[0][0].Value != "Acme: East" {
		t.Errorf("Value = %q, want %q", ff[0][0].Value, "Acme: East")
	}
}

// 形式不正の要素がエラーになることを検証
func TestParseFacetFilterStrings_Invalid(t *testing.T) {
	for _, bad := range []string{"no-separator", ":missing-attr", "missing-value:"} {
		if _, err := ParseFacetFilterStrings([][]string{{bad}}); err == nil {
			t.Errorf("ParseFacetFilterStrings(%q)がエラーを返しません", bad)
		}
	}
}
