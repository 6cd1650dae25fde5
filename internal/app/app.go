// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/mkondo/jobalerts/internal/alert"
	"github.com/mkondo/jobalerts/internal/catalog"
	"github.com/mkondo/jobalerts/internal/config"
	"github.com/mkondo/jobalerts/internal/database"
	"github.com/mkondo/jobalerts/internal/handler"
	"github.com/mkondo/jobalerts/internal/lock"
	"github.com/mkondo/jobalerts/internal/logger"
	"github.com/mkondo/jobalerts/internal/mail"
	"github.com/mkondo/jobalerts/internal/metrics"
	"github.com/mkondo/jobalerts/internal/middleware"
	"github.com/mkondo/jobalerts/internal/repository"
	"github.com/mkondo/jobalerts/internal/worker/check"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandCheck:
		return runCheck(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// buildAlertDeps はアラートサービスとバッチランナーの依存関係を組み立てる。
// serveモードとworker/checkモードで共通のワイヤリング。
func buildAlertDeps(cfg *config.Config, db *sql.DB) (*alert.Service, *alert.Runner, *prometheus.Registry) {
	alertRepo := repository.NewPostgresAlertRepo(db)
	unsubRepo := repository.NewPostgresUnsubscriptionRepo(db)

	search := catalog.NewHTTPClient(
		&http.Client{Timeout: cfg.CatalogTimeout},
		slog.Default(),
		cfg.CatalogURL,
	)
	mailer := mail.NewSMTPMailer(
		cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword,
		cfg.MailFrom, cfg.MailTimeout,
	)
	composer := alert.NewComposer(cfg.BaseURL, cfg.FrontendURL)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	service := alert.NewService(
		alertRepo, unsubRepo, search, mailer, composer,
		slog.Default(),
		alert.ServiceConfig{
			PageSize:            cfg.AlertPageSize,
			RequireConfirmation: cfg.RequireConfirmation,
			MailTimeout:         cfg.MailTimeout,
		},
	)
	runner := alert.NewRunner(
		alertRepo, search, mailer, composer, collector,
		slog.Default(),
		alert.RunnerConfig{
			Enabled:             cfg.CheckEnabled,
			PageSize:            cfg.AlertPageSize,
			MaxConcurrent:       cfg.AlertMaxConcurrent,
			RequireConfirmation: cfg.RequireConfirmation,
		},
	)

	return service, runner, registry
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	service, _, registry := buildAlertDeps(cfg, db)

	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレートはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SubscribeRate = rate.Limit(float64(cfg.RateLimitSubscribe) / 60.0)
	rateLimiterCfg.SubscribeBurst = cfg.RateLimitSubscribe

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		AlertService:    service,
		RateLimiter:     rateLimiter,
		Logger:          slog.Default(),
		DB:              db,
		MetricsRegistry: registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// cronスケジュールでバッチランナーを起動し、シグナル受信まで動作する。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	_, runner, _ := buildAlertDeps(cfg, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runLock, err := buildRunLock(ctx, cfg)
	if err != nil {
		return err
	}

	scheduler := check.NewScheduler(runner, runLock, slog.Default(), cfg.CheckSchedule)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Info("worker starting",
		slog.String("schedule", cfg.CheckSchedule),
		slog.Int("max_concurrent", cfg.AlertMaxConcurrent),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down worker...")
	cancel()
	scheduler.Stop()

	slog.Info("worker stopped gracefully")
	return nil
}

// runCheck はバッチを1回だけ実行する。外部スケジューラからの起動用。
// バッチ内の失敗だけでなくDB・Redisへの接続失敗もログで報告し、
// 終了コードは常に0とする。非0終了はスケジューラ側のリトライを誘発するため。
func runCheck(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		slog.Error("check run failed", slog.String("error", err.Error()))
		return nil
	}
	defer db.Close()

	_, runner, _ := buildAlertDeps(cfg, db)

	ctx := context.Background()
	runLock, err := buildRunLock(ctx, cfg)
	if err != nil {
		slog.Error("check run failed", slog.String("error", err.Error()))
		return nil
	}

	scheduler := check.NewScheduler(runner, runLock, slog.Default(), cfg.CheckSchedule)
	if err := scheduler.RunWithLock(ctx); err != nil {
		slog.Error("check run failed", slog.String("error", err.Error()))
	}

	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// buildRunLock はバッチ実行ロックを組み立てる。
// RedisURLが未設定の場合はロックなし（単一プロセス前提）で動作する。
func buildRunLock(ctx context.Context, cfg *config.Config) (lock.Lock, error) {
	if cfg.RedisURL == "" {
		return lock.NopLock{}, nil
	}

	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return lock.NewRunLock(client, "jobalerts:check:lock", 10*time.Minute), nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
