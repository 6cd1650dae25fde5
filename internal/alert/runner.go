package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mkondo/jobalerts/internal/catalog"
	"github.com/mkondo/jobalerts/internal/mail"
	"github.com/mkondo/jobalerts/internal/metrics"
	"github.com/mkondo/jobalerts/internal/model"
	"github.com/mkondo/jobalerts/internal/repository"
)

// RunnerConfig はバッチランナーの設定パラメータ。
type RunnerConfig struct {
	// Enabled がfalseの場合、RunOnceは何もせず空のレポートを返す。
	Enabled bool
	// PageSize は1アラートあたり1回の実行で取得するヒット数の上限。
	// 上限を超えた新着分は次回以降の実行へ持ち越される（カーソル条件が単調なため欠落しない）。
	PageSize int
	// MaxConcurrent はアラート処理の最大並列数。1以下の場合は逐次処理。
	MaxConcurrent int
	// RequireConfirmation がtrueの場合、未確認のアラートを実行対象から除外する。
	RequireConfirmation bool
}

// RunReport はバッチ実行1回分の集計結果を表す。
// 運用上の可観測性のために出力するものであり、正しさの保証には関与しない。
type RunReport struct {
	AlertsTotal int
	NoHits      int
	Successes   int
	Failures    int
}

// outcome はアラート1件の処理結果を表す。
type outcome int

const (
	outcomeNoHits outcome = iota
	outcomeSent
	outcomeSendFailed
	outcomeCatalogError
	outcomePersistFailed
)

// Runner は全アクティブアラートを1回走査するバッチランナー。
// アラートごとに検索→ダイジェスト送信→カーソル前進を実行し、
// 1件の失敗が他のアラートの処理を妨げないよう分離する。
type Runner struct {
	alerts    repository.AlertRepository
	search    catalog.SearchClient
	mailer    mail.Mailer
	composer  *Composer
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    RunnerConfig
}

// NewRunner はRunnerを生成する。
// MaxConcurrentが0以下の場合は1（逐次処理）を使用する。
func NewRunner(
	alerts repository.AlertRepository,
	search catalog.SearchClient,
	mailer mail.Mailer,
	composer *Composer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config RunnerConfig,
) *Runner {
	if config.PageSize <= 0 {
		config.PageSize = 500
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Runner{
		alerts:    alerts,
		search:    search,
		mailer:    mailer,
		composer:  composer,
		collector: collector,
		logger:    logger,
		config:    config,
	}
}

// RunOnce は全アクティブアラートを1回走査し、実行レポートを返す。
// アラート単位の失敗はレポートのカウンタへ変換され、実行全体を中断しない。
// エラーを返すのはアラート一覧の取得自体に失敗した場合のみ。
func (r *Runner) RunOnce(ctx context.Context) (*RunReport, error) {
	if !r.config.Enabled {
		r.logger.Info("バッチ実行は無効化されています")
		return &RunReport{}, nil
	}

	start := time.Now()

	alerts, err := r.alerts.ListActive(ctx, r.config.RequireConfirmation)
	if err != nil {
		return nil, err
	}

	report := &RunReport{AlertsTotal: len(alerts)}
	if len(alerts) == 0 {
		r.logger.Info("処理対象のアラートはありません")
		return report, nil
	}

	r.logger.Info("バッチ実行を開始します",
		slog.Int("alerts_total", len(alerts)),
		slog.Int("max_concurrent", r.config.MaxConcurrent),
	)

	// カタログ全体の求人数を統計表示用に1回だけ取得する。失敗しても実行は継続する。
	totalCatalog := r.catalogTotal(ctx)

	// semaphoreパターンで並列数を制御し、カウンタはミューテックスで保護する
	sem := make(chan struct{}, r.config.MaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, a := range alerts {
		wg.Add(1)
		sem <- struct{}{}

		go func(a *model.JobAlert) {
			defer wg.Done()
			defer func() { <-sem }()

			result := r.processAlert(ctx, a, totalCatalog)

			mu.Lock()
			switch result {
			case outcomeNoHits:
				report.NoHits++
			case outcomeSent:
				report.Successes++
			case outcomeSendFailed, outcomeCatalogError, outcomePersistFailed:
				report.Failures++
			}
			mu.Unlock()
		}(a)
	}

	wg.Wait()

	duration := time.Since(start)
	r.collector.RecordRunDuration(duration)
	r.logger.Info("バッチ実行が完了しました",
		slog.Int("alerts_total", report.AlertsTotal),
		slog.Int("no_hits", report.NoHits),
		slog.Int("successes", report.Successes),
		slog.Int("failures", report.Failures),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return report, nil
}

// catalogTotal はカタログ全体の求人数を取得する。取得できない場合は0を返す。
func (r *Runner) catalogTotal(ctx context.Context) int {
	result, err := r.search.Search(ctx, catalog.SearchParams{HitsPerPage: 1})
	if err != nil {
		r.logger.Warn("カタログ全体の求人数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0
	}
	return result.TotalMatched
}

// processAlert はアラート1件を処理する。
//
// 状態遷移:
//   - カタログ検索失敗 → outcomeCatalogError（カーソルは変更しない）
//   - ヒットなし → outcomeNoHits（確認できた新着がないためカーソルは変更しない）
//   - ヒットあり・送信失敗 → outcomeSendFailed（カーソルを保持し、次回同じヒットを再送する）
//   - ヒットあり・送信成功・カーソル保存失敗 → outcomePersistFailed
//   - ヒットあり・送信成功・カーソル保存成功 → outcomeSent
func (r *Runner) processAlert(ctx context.Context, a *model.JobAlert, totalCatalog int) outcome {
	r.collector.RecordAlertChecked()

	params := catalog.Compile(a, r.config.PageSize)
	result, err := r.search.Search(ctx, params)
	if err != nil {
		r.collector.RecordAlertFailure("catalog")
		r.logger.Error("カタログ検索に失敗しました",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
		return outcomeCatalogError
	}

	if len(result.Hits) == 0 {
		r.collector.RecordNoHits()
		return outcomeNoHits
	}

	msg := r.composer.Compose(a, result.Hits, result.TotalMatched, totalCatalog)
	if err := r.mailer.Send(ctx, msg); err != nil {
		r.collector.RecordAlertFailure("send")
		r.logger.Error("ダイジェストメールの送信に失敗しました",
			slog.String("alert_id", a.ID),
			slog.Int("hit_count", len(result.Hits)),
			slog.String("error", err.Error()),
		)
		return outcomeSendFailed
	}

	// 送信が確認できた範囲の最大IDまでカーソルを進める
	cursor := a.Cursor.AdvanceTo(model.MaxPostID(result.Hits))
	advanced, err := r.alerts.AdvanceCursor(ctx, a.ID, cursor)
	if err != nil {
		r.collector.RecordAlertFailure("persist")
		r.logger.Error("カーソルの保存に失敗しました",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
		return outcomePersistFailed
	}
	if !advanced {
		// 並行する実行がすでに先へ進めていた場合。送信自体は成功している。
		r.logger.Warn("カーソルはすでに先へ進んでいました",
			slog.String("alert_id", a.ID),
			slog.Int64("attempted_post_id", cursor.LastPostID()),
		)
	}

	r.collector.RecordDigestSent(len(result.Hits))
	r.logger.Info("ダイジェストメールを送信しました",
		slog.String("alert_id", a.ID),
		slog.Int("hit_count", len(result.Hits)),
		slog.Int64("cursor_post_id", cursor.LastPostID()),
	)
	return outcomeSent
}
