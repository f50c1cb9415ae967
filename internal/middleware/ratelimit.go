package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	VoteRate        rate.Limit    // 投票トグルのレート（req/sec）。30/60
	VoteBurst       int           // 投票トグルのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/voter、投票トグル 30 req/min/voter。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		VoteRate:        rate.Limit(30.0 / 60.0), // 0.5 req/sec
		VoteBurst:       30,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewRateLimiterConfig は分あたりのリクエスト数からレート制限設定を生成する。
func NewRateLimiterConfig(generalPerMinute, votePerMinute int) RateLimiterConfig {
	config := DefaultRateLimiterConfig()
	if generalPerMinute > 0 {
		config.GeneralRate = rate.Limit(float64(generalPerMinute) / 60.0)
		config.GeneralBurst = generalPerMinute
	}
	if votePerMinute > 0 {
		config.VoteRate = rate.Limit(float64(votePerMinute) / 60.0)
		config.VoteBurst = votePerMinute
	}
	return config
}

// voterLimiter は投票者ごとのレートリミッターとアクセス時刻を保持する。
type voterLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は投票者ごとのレート制限を管理する。
// API全般のレート制限と投票トグルのレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*voterLimiter

	voteMu       sync.RWMutex
	voteLimiters map[string]*voterLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*voterLimiter),
		voteLimiters:    make(map[string]*voterLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストに投票者IDが含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			voterID, err := VoterIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateGeneralLimiter(voterID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("voter_id", voterID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// VoteMiddleware は投票トグル専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) VoteMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			voterID, err := VoterIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreateVoteLimiter(voterID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.VoteRate)
				slog.Warn("rate limit exceeded",
					slog.String("voter_id", voterID),
					slog.String("limit_type", "vote"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// VoteLimiterCount は現在管理されている投票トグルリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) VoteLimiterCount() int {
	rl.voteMu.RLock()
	defer rl.voteMu.RUnlock()
	return len(rl.voteLimiters)
}

// getOrCreateGeneralLimiter は投票者のAPI全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(voterID string) *rate.Limiter {
	rl.generalMu.RLock()
	vl, exists := rl.generalLimiters[voterID]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		vl.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return vl.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if vl, exists := rl.generalLimiters[voterID]; exists {
		vl.lastAccess = time.Now()
		return vl.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[voterID] = &voterLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateVoteLimiter は投票者の投票トグルリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateVoteLimiter(voterID string) *rate.Limiter {
	rl.voteMu.RLock()
	vl, exists := rl.voteLimiters[voterID]
	rl.voteMu.RUnlock()

	if exists {
		rl.voteMu.Lock()
		vl.lastAccess = time.Now()
		rl.voteMu.Unlock()
		return vl.limiter
	}

	rl.voteMu.Lock()
	defer rl.voteMu.Unlock()

	// ダブルチェック
	if vl, exists := rl.voteLimiters[voterID]; exists {
		vl.lastAccess = time.Now()
		return vl.limiter
	}

	limiter := rate.NewLimiter(rl.config.VoteRate, rl.config.VoteBurst)
	rl.voteLimiters[voterID] = &voterLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for voterID, vl := range rl.generalLimiters {
		if now.Sub(vl.lastAccess) > ttl {
			delete(rl.generalLimiters, voterID)
		}
	}
	rl.generalMu.Unlock()

	rl.voteMu.Lock()
	for voterID, vl := range rl.voteLimiters {
		if now.Sub(vl.lastAccess) > ttl {
			delete(rl.voteLimiters, voterID)
		}
	}
	rl.voteMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "RATE_LIMIT_EXCEEDED",
		"message":  "リクエストが多すぎます。",
		"category": "system",
		"action":   "しばらく待ってから再度お試しください。",
	})
}
