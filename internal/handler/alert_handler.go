// Package handler は求人アラートAPIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkondo/jobalerts/internal/alert"
	"github.com/mkondo/jobalerts/internal/catalog"
	"github.com/mkondo/jobalerts/internal/middleware"
	"github.com/mkondo/jobalerts/internal/model"
)

// AlertServiceInterface はアラートハンドラーが必要とするサービスインターフェース。
type AlertServiceInterface interface {
	// Subscribe は新しいアラートを作成する。
	Subscribe(ctx context.Context, email, keyword string, facetFilters model.FacetFilters) (*model.JobAlert, error)
	// Unsubscribe はトークンに対応するアラートを非アクティブ化する。
	Unsubscribe(ctx context.Context, token string) (alert.UnsubscribeResult, error)
	// RecordFeedback は配信停止フィードバックを記録する。
	RecordFeedback(ctx context.Context, token string, fb alert.Feedback) error
	// Confirm はトークンに対応するアラートの購読確認を記録する。
	Confirm(ctx context.Context, token string) (bool, error)
}

// AlertHandler は求人アラートのHTTPハンドラー。
type AlertHandler struct {
	service AlertServiceInterface
}

// NewAlertHandler はAlertHandlerを生成する。
func NewAlertHandler(service AlertServiceInterface) *AlertHandler {
	return &AlertHandler{service: service}
}

// subscribeRequest はアラート登録リクエストのボディ。
// facetFiltersは検索UIと同じ"attribute:value"形式のグループ列。
type subscribeRequest struct {
	Email        string     `json:"email"`
	Keyword      string     `json:"keyword"`
	FacetFilters [][]string `json:"facetFilters"`
}

// subscribeResponse はアラート登録のAPIレスポンス。
type subscribeResponse struct {
	Success bool `json:"success"`
}

// unsubscribeResponse は配信停止のAPIレスポンス。
// 有効なトークンの探索に悪用されないよう、未知のトークンでも200で応答する。
type unsubscribeResponse struct {
	Success         bool `json:"success"`
	AlreadyInactive bool `json:"alreadyInactive,omitempty"`
}

// Subscribe はアラート登録を処理する。
// POST /api/jobs/subscribe
func (h *AlertHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	facetFilters, err := catalog.ParseFacetFilterStrings(req.FacetFilters)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if _, err := h.service.Subscribe(r.Context(), req.Email, req.Keyword, facetFilters); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(subscribeResponse{Success: true})
}

// Unsubscribe は配信停止を処理する。冪等。
// GET /api/jobs/unsubscribe/:token
func (h *AlertHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := h.service.Unsubscribe(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(unsubscribeResponse{
		Success:         result.Found,
		AlreadyInactive: result.AlreadyInactive,
	})
}

// Feedback は配信停止フィードバックを処理する。
// トークンの有効性にかかわらず成功レスポンスを返す。
// POST /api/jobs/unsubscribe/thankyou/:token
func (h *AlertHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("フォームの解析に失敗しました"))
		return
	}

	fb := alert.Feedback{
		TooManyEmails: formBool(r, "too_many_emails"),
		ChangeFilters: formBool(r, "change_filters"),
		Unexpected:    formBool(r, "unexpected"),
		Irrelevant:    formBool(r, "irrelevant"),
		OtherReason:   r.PostFormValue("other_reason"),
	}

	if err := h.service.RecordFeedback(r.Context(), token, fb); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subscribeResponse{Success: true})
}

// Confirm は購読確認を処理する。冪等。
// GET /api/jobs/confirm/:token
func (h *AlertHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	found, err := h.service.Confirm(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subscribeResponse{Success: found})
}

// formBool はチェックボックス由来のフォーム値を解釈する。
func formBool(r *http.Request, key string) bool {
	switch r.PostFormValue(key) {
	case "", "false", "0":
		return false
	}
	return true
}

// handleServiceError はサービス層のエラーをHTTPレスポンスへ変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
