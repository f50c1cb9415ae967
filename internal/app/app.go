// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/votebox/internal/auth"
	"github.com/hitoshi/votebox/internal/catalog"
	"github.com/hitoshi/votebox/internal/config"
	"github.com/hitoshi/votebox/internal/database"
	"github.com/hitoshi/votebox/internal/handler"
	"github.com/hitoshi/votebox/internal/logger"
	"github.com/hitoshi/votebox/internal/metrics"
	"github.com/hitoshi/votebox/internal/middleware"
	"github.com/hitoshi/votebox/internal/repository"
	"github.com/hitoshi/votebox/internal/vote"
	"github.com/hitoshi/votebox/internal/voter"
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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandImport:
		return runImport(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. リトライ付きストアアダプタとリポジトリの初期化
	store := database.NewStore(db, database.StoreConfig{
		MaxRetries:   cfg.StoreMaxRetries,
		Backoff:      cfg.StoreRetryBackoff,
		QueryTimeout: cfg.StoreQueryTimeout,
	}, collector)

	voterRepo := repository.NewPostgresVoterRepo(store)
	videoRepo := repository.NewPostgresVideoRepo(store)
	voteRepo := repository.NewPostgresVoteRepo(store)

	// 4. ドメインサービスの初期化
	registrar := voter.NewRegistrar(voterRepo)
	validator := vote.NewValidator(voteRepo, cfg.MaxVotes)
	voteService := vote.NewService(videoRepo, voteRepo, registrar, validator, collector)

	sanitizer := catalog.NewSanitizer()
	catalogService := catalog.NewService(videoRepo, voteRepo, sanitizer)

	// 5. アップストリーム認証クライアントの初期化
	verifier := auth.NewUpstreamClient(auth.UpstreamConfig{
		BaseURL:  cfg.UpstreamAPIURL,
		ProxyKey: cfg.UpstreamProxyKey,
		Timeout:  cfg.UpstreamTimeout,
	})

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitVote),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		TokenVerifier:     verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,

		VoteService:  voteService,
		VideoService: catalogService,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
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

// runImport は移行元システムの動画一覧CSVを取り込む。
// 引数にCSVファイルのパスを1つ取る。source_idが登録済みの行はスキップされるため、
// 同じファイルを繰り返し実行しても安全。
func runImport(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: import <csv-file>")
	}
	path := args[0]

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store := database.NewStore(db, database.StoreConfig{
		MaxRetries:   cfg.StoreMaxRetries,
		Backoff:      cfg.StoreRetryBackoff,
		QueryTimeout: cfg.StoreQueryTimeout,
	}, nil)

	videoRepo := repository.NewPostgresVideoRepo(store)
	voteRepo := repository.NewPostgresVoteRepo(store)
	catalogService := catalog.NewService(videoRepo, voteRepo, catalog.NewSanitizer())

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	slog.Info("importing videos from CSV", slog.String("path", path))

	summary, err := catalogService.ImportCSV(context.Background(), file)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	slog.Info("import finished",
		slog.Int("imported", summary.Imported),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
