// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// バッチ実行・ストア操作のエラー分類。
// バッチランナーはこれらをerrors.Isで判別し、実行レポートのカウンタへ変換する。
var (
	// ErrCatalogUnavailable はカタログ検索バックエンドへ到達できないことを表す。
	// 一過性のエラーであり、次回のスケジュール実行で再試行される。
	ErrCatalogUnavailable = errors.New("カタログ検索バックエンドに接続できません")

	// ErrSendFailure はメールトランスポートが送信を受け付けなかったことを表す。
	// カーソルは前進させず、同じヒットを次回実行で再送対象にする。
	ErrSendFailure = errors.New("ダイジェストメールの送信に失敗しました")

	// ErrPersistenceFailure はストアへの書き込みがコミットできなかったことを表す。
	// 該当アラートの処理を中断し、失敗としてカウントする。
	ErrPersistenceFailure = errors.New("アラートの永続化に失敗しました")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, subscription, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidEmail   = "INVALID_EMAIL"
	ErrCodeInvalidFacet   = "INVALID_FACET"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
)

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しい形式のメールアドレスを入力してください。",
	}
}

// NewInvalidFacetError は許可されていないファセット属性エラーを生成する。
func NewInvalidFacetError(attribute string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFacet,
		Message:  fmt.Sprintf("許可されていない絞り込み属性です: %s", attribute),
		Category: "validation",
		Action:   "検索画面で利用できる絞り込み条件のみを指定してください。",
	}
}

// NewInvalidRequestError は不正なリクエストボディエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
