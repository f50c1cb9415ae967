package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Upstream Marketplace API（認証プロキシ先）
	UpstreamAPIURL   string
	UpstreamProxyKey string
	UpstreamTimeout  time.Duration

	// Vote
	MaxVotes int

	// Store
	StoreMaxRetries   int
	StoreRetryBackoff time.Duration
	StoreQueryTimeout time.Duration

	// Rate Limit（req/min/voter）
	RateLimitGeneral int
	RateLimitVote    int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envが存在する場合は先に読み込む（開発用）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envは存在しなくてもよい
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.UpstreamAPIURL = os.Getenv("UPSTREAM_API_URL")
	if cfg.UpstreamAPIURL == "" {
		missing = append(missing, "UPSTREAM_API_URL")
	}

	cfg.UpstreamProxyKey = os.Getenv("UPSTREAM_PROXY_KEY")
	if cfg.UpstreamProxyKey == "" {
		missing = append(missing, "UPSTREAM_PROXY_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second)
	cfg.MaxVotes = getEnvInt("MAX_VOTES", 5)
	cfg.StoreMaxRetries = getEnvInt("STORE_MAX_RETRIES", 2)
	cfg.StoreRetryBackoff = getEnvDuration("STORE_RETRY_BACKOFF", 1*time.Second)
	cfg.StoreQueryTimeout = getEnvDuration("STORE_QUERY_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVote = getEnvInt("RATE_LIMIT_VOTE", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.MaxVotes < 1 {
		return nil, fmt.Errorf("MAX_VOTES must be at least 1, got %d", cfg.MaxVotes)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
