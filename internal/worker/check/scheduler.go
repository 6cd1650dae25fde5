// Package check はダイジェスト配信バッチの定期実行を提供する。
// cron式のスケジュールでバッチランナーを起動し、
// 実行単位のロックで複数プロセスの重複実行を防ぐ。
package check

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/mkondo/jobalerts/internal/alert"
	"github.com/mkondo/jobalerts/internal/lock"
)

// BatchRunner はバッチ実行のインターフェース。
type BatchRunner interface {
	// RunOnce は全アクティブアラートを1回走査し、実行レポートを返す。
	RunOnce(ctx context.Context) (*alert.RunReport, error)
}

// Scheduler はcronスケジュールに従ってバッチランナーを起動する。
type Scheduler struct {
	runner BatchRunner
	lock   lock.Lock
	logger *slog.Logger
	spec   string
	cron   *cron.Cron
	wg     sync.WaitGroup
}

// NewScheduler はSchedulerを生成する。
// specが空の場合は1時間間隔を使用する。lockがnilの場合はNopLockを使用する。
func NewScheduler(runner BatchRunner, lk lock.Lock, logger *slog.Logger, spec string) *Scheduler {
	if spec == "" {
		spec = "@every 1h"
	}
	if lk == nil {
		lk = lock.NopLock{}
	}
	return &Scheduler{
		runner: runner,
		lock:   lk,
		logger: logger,
		spec:   spec,
		cron:   cron.New(),
	}
}

// Start はスケジューラを起動する。起動直後にも1回実行する。
// cron式が不正な場合はエラーを返す。
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunWithLock(ctx); err != nil {
			s.logger.Error("バッチ実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("バッチスケジューラを開始しました",
		slog.String("schedule", s.spec),
	)

	// 起動直後に1回実行（ブロックしない）。
	// cron管理外のgoroutineなのでStopで完了を待てるようWaitGroupで追跡する。
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.RunWithLock(ctx); err != nil {
			s.logger.Error("バッチ実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()

	return nil
}

// Stop はスケジューラを停止し、実行中のバッチの完了を待つ。
// cronがスケジュールしたジョブと起動直後の初回実行の両方を待つ。
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	s.logger.Info("バッチスケジューラを停止しました")
}

// RunWithLock はロックを取得した上でバッチを1回実行する。
// ほかのプロセスがロックを保持中の場合はスキップする。
// ロックの取得自体に失敗した場合は重複配信を避けるため実行せず、エラーを返す。
func (s *Scheduler) RunWithLock(ctx context.Context) error {
	token, ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("別のプロセスがバッチを実行中のためスキップします")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx, token); err != nil {
			s.logger.Warn("ロックの解放に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()

	report, err := s.runner.RunOnce(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("バッチ実行レポート",
		slog.Int("alerts_total", report.AlertsTotal),
		slog.Int("no_hits", report.NoHits),
		slog.Int("successes", report.Successes),
		slog.Int("failures", report.Failures),
	)
	return nil
}
