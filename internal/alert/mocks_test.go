package alert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mkondo/jobalerts/internal/catalog"
	"github.com/mkondo/jobalerts/internal/mail"
	"github.com/mkondo/jobalerts/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック定義 ---

// mockAlertRepo はAlertRepositoryの関数フィールド式モック。
type mockAlertRepo struct {
	createFunc        func(ctx context.Context, alert *model.JobAlert) error
	findByIDFunc      func(ctx context.Context, id string) (*model.JobAlert, error)
	findByTokenFunc   func(ctx context.Context, token string) (*model.JobAlert, error)
	listActiveFunc    func(ctx context.Context, onlyConfirmed bool) ([]*model.JobAlert, error)
	deactivateFunc    func(ctx context.Context, id string) error
	confirmFunc       func(ctx context.Context, id string) error
	advanceCursorFunc func(ctx context.Context, id string, cursor model.Cursor) (bool, error)
}

func (m *mockAlertRepo) Create(ctx context.Context, alert *model.JobAlert) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertRepo) FindByID(ctx context.Context, id string) (*model.JobAlert, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockAlertRepo) FindByToken(ctx context.Context, token string) (*model.JobAlert, error) {
	if m.findByTokenFunc != nil {
		return m.findByTokenFunc(ctx, token)
	}
	return nil, nil
}

func (m *mockAlertRepo) ListActive(ctx context.Context, onlyConfirmed bool) ([]*model.JobAlert, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx, onlyConfirmed)
	}
	return nil, nil
}

func (m *mockAlertRepo) Deactivate(ctx context.Context, id string) error {
	if m.deactivateFunc != nil {
		return m.deactivateFunc(ctx, id)
	}
	return nil
}

func (m *mockAlertRepo) Confirm(ctx context.Context, id string) error {
	if m.confirmFunc != nil {
		return m.confirmFunc(ctx, id)
	}
	return nil
}

func (m *mockAlertRepo) AdvanceCursor(ctx context.Context, id string, cursor model.Cursor) (bool, error) {
	if m.advanceCursorFunc != nil {
		return m.advanceCursorFunc(ctx, id, cursor)
	}
	return true, nil
}

// mockUnsubRepo はUnsubscriptionRepositoryのモック。
type mockUnsubRepo struct {
	mu         sync.Mutex
	createFunc func(ctx context.Context, unsub *model.Unsubscription) error
	created    []*model.Unsubscription
}

func (m *mockUnsubRepo) Create(ctx context.Context, unsub *model.Unsubscription) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, unsub); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, unsub)
	return nil
}

// mockSearchClient はSearchClientの関数フィールド式モック。
type mockSearchClient struct {
	searchFunc func(ctx context.Context, params catalog.SearchParams) (*catalog.SearchResult, error)
}

func (m *mockSearchClient) Search(ctx context.Context, params catalog.SearchParams) (*catalog.SearchResult, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, params)
	}
	return &catalog.SearchResult{}, nil
}

// mockMailer は送信されたメッセージを記録するMailerモック。
// sendFuncがエラーを返した場合は送信失敗として扱い、記録しない。
type mockMailer struct {
	mu       sync.Mutex
	sendFunc func(ctx context.Context, msg *mail.Message) error
	sent     []*mail.Message
}

func (m *mockMailer) Send(ctx context.Context, msg *mail.Message) error {
	if m.sendFunc != nil {
		if err := m.sendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMailer) sentMessages() []*mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mail.Message(nil), m.sent...)
}

// --- インメモリ実装 ---

// fakeAlertStore はバッチ実行の複数回走査を検証するためのインメモリAlertRepository。
// AdvanceCursorは本実装と同じく単調性を強制する。
type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []*model.JobAlert
}

func (s *fakeAlertStore) Create(ctx context.Context, alert *model.JobAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *alert
	s.alerts = append(s.alerts, &a)
	return nil
}

func (s *fakeAlertStore) FindByID(ctx context.Context, id string) (*model.JobAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeAlertStore) FindByToken(ctx context.Context, token string) (*model.JobAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.UnsubscribeToken == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeAlertStore) ListActive(ctx context.Context, onlyConfirmed bool) ([]*model.JobAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.JobAlert
	for _, a := range s.alerts {
		if !a.IsActive {
			continue
		}
		if onlyConfirmed && !a.IsConfirmed() {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeAlertStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			a.IsActive = false
		}
	}
	return nil
}

func (s *fakeAlertStore) Confirm(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id && a.ConfirmedAt == nil {
			now := time.Now()
			a.ConfirmedAt = &now
		}
	}
	return nil
}

func (s *fakeAlertStore) AdvanceCursor(ctx context.Context, id string, cursor model.Cursor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			if cursor.LastPostID() < a.Cursor.LastPostID() {
				return false, nil
			}
			a.Cursor = cursor
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAlertStore) cursorOf(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return a.Cursor.LastPostID()
		}
	}
	return -1
}

// fakeCatalog はカーソル境界条件とキーワードを解釈するインメモリ検索バックエンド。
// postsはpost ID昇順で保持し、実際のカタログと同じ順序契約を満たす。
type fakeCatalog struct {
	mu    sync.Mutex
	posts []model.JobHit
	err   error
}

func (f *fakeCatalog) Search(ctx context.Context, params catalog.SearchParams) (*catalog.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	var boundary int64
	if params.ExtraFilter != "" {
		if _, err := fmt.Sscanf(params.ExtraFilter, "post_id > %d", &boundary); err != nil {
			return nil, fmt.Errorf("unexpected filter expression: %q", params.ExtraFilter)
		}
	}

	var matched []model.JobHit
	for _, p := range f.posts {
		if p.PostID <= boundary {
			continue
		}
		if params.Keyword != "" && !strings.Contains(p.Title, params.Keyword) {
			continue
		}
		matched = append(matched, p)
	}

	total := len(matched)
	if params.HitsPerPage > 0 && len(matched) > params.HitsPerPage {
		matched = matched[:params.HitsPerPage]
	}
	return &catalog.SearchResult{Hits: matched, TotalMatched: total}, nil
}

func (f *fakeCatalog) addPost(p model.JobHit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, p)
}
