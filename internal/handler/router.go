package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/votebox/internal/auth"
	"github.com/hitoshi/votebox/internal/middleware"
)

// HealthChecker はヘルスチェックで依存先の死活を確認するインターフェース。
type HealthChecker interface {
	Ping() error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     auth.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// サービス
	VoteService  VoteServiceInterface
	VideoService VideoServiceInterface

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス公開用ハンドラー。nilの場合は/metricsを公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Logging → Session → RateLimit(General)
//
// /health と /metrics は認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェア
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))

	voteHandler := NewVoteHandler(deps.VoteService)
	videoHandler := NewVideoHandler(deps.VideoService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 動画カタログ
		r.Route("/api/videos", func(r chi.Router) {
			r.Get("/", videoHandler.ListVideos)
			r.Post("/", videoHandler.RegisterVideo)

			// POST /api/videos/vote - 投票トグル（投票専用レート制限を追加）
			r.With(deps.RateLimiter.VoteMiddleware()).Post("/vote", voteHandler.ToggleVote)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", videoHandler.GetVideo)
				r.Get("/votes", voteHandler.VideoVotes)
			})
		})

		// 投票状態確認
		r.Get("/api/votes/check", voteHandler.CheckVotes)
	})

	return r
}

// healthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// checkerがnilでない場合は依存先の死活も確認し、失敗時は503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if checker != nil {
			if err := checker.Ping(); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
