package alert

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkondo/jobalerts/internal/catalog"
	"github.com/mkondo/jobalerts/internal/mail"
	"github.com/mkondo/jobalerts/internal/model"
	"github.com/mkondo/jobalerts/internal/repository"
)

// ServiceConfig はServiceの設定パラメータ。
type ServiceConfig struct {
	// PageSize は登録時のベースラインパスで取得するヒット数の上限。
	PageSize int
	// RequireConfirmation がtrueの場合、確認リンクを踏むまで配信対象にならない。
	RequireConfirmation bool
	// MailTimeout は非同期の確認メール送信に適用するタイムアウト。
	MailTimeout time.Duration
}

// Service は購読ライフサイクル（登録・確認・配信停止・フィードバック）を提供する。
type Service struct {
	alerts   repository.AlertRepository
	unsubs   repository.UnsubscriptionRepository
	search   catalog.SearchClient
	mailer   mail.Mailer
	composer *Composer
	logger   *slog.Logger
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	alerts repository.AlertRepository,
	unsubs repository.UnsubscriptionRepository,
	search catalog.SearchClient,
	mailer mail.Mailer,
	composer *Composer,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if config.PageSize <= 0 {
		config.PageSize = 500
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = 10 * time.Second
	}
	return &Service{
		alerts:   alerts,
		unsubs:   unsubs,
		search:   search,
		mailer:   mailer,
		composer: composer,
		logger:   logger,
		config:   config,
	}
}

// Subscribe は新しいアラートを作成する。
// メールアドレスの形式とファセット属性の許可リストを検証し、
// カタログの現状に対するベースラインパス（送信なし）でカーソルを初期化した上で、
// 確認メールを非同期に送信する。
// ベースラインパスと確認メールの失敗はログに記録するのみで、登録自体は成功させる。
func (s *Service) Subscribe(ctx context.Context, email, keyword string, facetFilters model.FacetFilters) (*model.JobAlert, error) {
	if _, err := netmail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidEmailError(email)
	}
	if err := catalog.ValidateFacetFilters(facetFilters); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("配信停止トークンの生成に失敗しました: %w", err)
	}

	now := time.Now()
	a := &model.JobAlert{
		ID:               uuid.New().String(),
		Email:            strings.TrimSpace(email),
		Keyword:          keyword,
		FacetFilters:     facetFilters,
		Cursor:           model.NewCursor(0),
		IsActive:         true,
		UnsubscribeToken: token,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.alerts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}

	// ベースラインパス: 現時点で合致する求人をカーソルで覆い、
	// 初回のダイジェストが登録後の新着のみを含むようにする。
	s.baselinePass(ctx, a)

	// 確認メールは登録レスポンスをブロックしない
	go s.sendConfirmation(a.Email, a.UnsubscribeToken)

	return a, nil
}

// baselinePass は登録直後のアラートについて送信なしの検索を1回実行し、
// 既存の合致求人までカーソルを進める。失敗してもエラーを返さない。
func (s *Service) baselinePass(ctx context.Context, a *model.JobAlert) {
	params := catalog.Compile(a, s.config.PageSize)
	result, err := s.search.Search(ctx, params)
	if err != nil {
		s.logger.Warn("ベースラインパスの検索に失敗しました",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	maxID := model.MaxPostID(result.Hits)
	if maxID == 0 {
		return
	}

	cursor := a.Cursor.AdvanceTo(maxID)
	if _, err := s.alerts.AdvanceCursor(ctx, a.ID, cursor); err != nil {
		s.logger.Warn("ベースラインカーソルの保存に失敗しました",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.Cursor = cursor
}

// sendConfirmation は確認メールを送信する。失敗はログに記録するのみ。
func (s *Service) sendConfirmation(email, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.MailTimeout)
	defer cancel()

	msg := s.composer.ComposeConfirmation(email, token, s.config.RequireConfirmation)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("確認メールの送信に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// UnsubscribeResult は配信停止操作の結果を表す。
type UnsubscribeResult struct {
	// Found はトークンに対応するアラートが存在したかを表す。
	Found bool
	// AlreadyInactive はすでに配信停止済みだったかを表す。
	AlreadyInactive bool
}

// Unsubscribe はトークンに対応するアラートを非アクティブ化する。冪等。
// トークンが解決できない場合はFound=falseを返し、エラーにはしない
// （有効なトークンの探索に悪用されないよう、境界層は汎用的な応答を返す）。
func (s *Service) Unsubscribe(ctx context.Context, token string) (UnsubscribeResult, error) {
	a, err := s.alerts.FindByToken(ctx, token)
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}
	if a == nil {
		return UnsubscribeResult{}, nil
	}

	if !a.IsActive {
		return UnsubscribeResult{Found: true, AlreadyInactive: true}, nil
	}

	if err := s.alerts.Deactivate(ctx, a.ID); err != nil {
		return UnsubscribeResult{}, fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}

	s.logger.Info("アラートを配信停止しました", slog.String("alert_id", a.ID))
	return UnsubscribeResult{Found: true}, nil
}

// Feedback は配信停止フォームで収集する理由を表す。
type Feedback struct {
	TooManyEmails bool
	ChangeFilters bool
	Unexpected    bool
	Irrelevant    bool
	OtherReason   string
}

// RecordFeedback は配信停止フィードバックを記録する。
// トークンが解決できない場合は異常としてログに記録し、エラーにはしない
// （ユーザー向けの応答は常に成功とする）。
func (s *Service) RecordFeedback(ctx context.Context, token string, fb Feedback) error {
	a, err := s.alerts.FindByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}
	if a == nil {
		s.logger.Warn("無効なトークンに対するフィードバック送信を受信しました",
			slog.String("token", token),
		)
		return nil
	}

	unsub := &model.Unsubscription{
		ID:            uuid.New().String(),
		AlertID:       a.ID,
		TooManyEmails: fb.TooManyEmails,
		ChangeFilters: fb.ChangeFilters,
		Unexpected:    fb.Unexpected,
		Irrelevant:    fb.Irrelevant,
		OtherReason:   fb.OtherReason,
		CreatedAt:     time.Now(),
	}
	if err := s.unsubs.Create(ctx, unsub); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}

	return nil
}

// Confirm はトークンに対応するアラートの購読確認を記録する。冪等。
// トークンが解決できない場合はfalseを返し、エラーにはしない。
func (s *Service) Confirm(ctx context.Context, token string) (bool, error) {
	a, err := s.alerts.FindByToken(ctx, token)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}
	if a == nil {
		return false, nil
	}

	if err := s.alerts.Confirm(ctx, a.ID); err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrPersistenceFailure, err)
	}

	return true, nil
}

// generateToken は配信停止・確認アクションの認可に使う高エントロピートークンを生成する。
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
