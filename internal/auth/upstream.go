package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/votebox/internal/model"
)

// Identity はアップストリームで検証済みの投票者識別情報を表す。
type Identity struct {
	VoterID     string
	DisplayName string
	Email       string
}

// TokenVerifier はトークンから投票者識別情報を解決するインターフェース。
type TokenVerifier interface {
	// VerifyToken はトークンを検証し、投票者識別情報を返す。
	// トークンが無効な場合はUNAUTHORIZEDのAPIErrorを返す。
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// UpstreamConfig はUpstream Marketplace APIクライアントの設定。
type UpstreamConfig struct {
	// BaseURL はアップストリームAPIのベースURL。
	BaseURL string
	// ProxyKey はX-Proxy-Authorizationヘッダーに載せる固定プロキシキー。
	ProxyKey string
	// Timeout は1リクエストあたりのタイムアウト。
	Timeout time.Duration
}

// UpstreamClient はUpstream Marketplace APIでトークンを検証するクライアント。
// アップストリームの一時障害（トランスポートエラー、5xx）には1回だけ再試行する。
// 401/403は再試行せず即時にUNAUTHORIZEDとして返す。
type UpstreamClient struct {
	config     UpstreamConfig
	httpClient *http.Client
}

// NewUpstreamClient はUpstreamClientを生成する。
func NewUpstreamClient(config UpstreamConfig) *UpstreamClient {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &UpstreamClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// upstreamUserResponse はアップストリームのユーザー取得APIのレスポンス。
// IDは数値で返ることがあるためjson.Numberで受ける。
type upstreamUserResponse struct {
	User struct {
		ID    json.Number `json:"id"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
	} `json:"user"`
}

// VerifyToken はトークンをアップストリームで検証し、投票者識別情報を返す。
func (c *UpstreamClient) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		identity, retryable, err := c.verifyOnce(ctx, token)
		if err == nil {
			return identity, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", errUpstream, lastErr)
}

// errUpstream はアップストリーム到達不能の内部センチネル。
var errUpstream = errors.New("upstream marketplace API unavailable")

// verifyOnce は1回分の検証リクエストを実行する。
// 戻り値のretryableは再試行で回復しうる失敗（トランスポートエラー、5xx）を示す。
func (c *UpstreamClient) verifyOnce(ctx context.Context, token string) (*Identity, bool, error) {
	url := c.config.BaseURL + "/en/api/v4/user"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("X-Custom-Authorization", token)
	req.Header.Set("X-Proxy-Authorization", c.config.ProxyKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body upstreamUserResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, false, fmt.Errorf("failed to decode upstream response: %w", err)
		}
		if body.User.ID.String() == "" {
			return nil, false, fmt.Errorf("upstream response has no user ID")
		}
		return &Identity{
			VoterID:     body.User.ID.String(),
			DisplayName: body.User.Name,
			Email:       body.User.Email,
		}, false, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, model.NewUnauthorizedError()

	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("upstream returned status %d", resp.StatusCode)

	default:
		return nil, false, fmt.Errorf("upstream returned unexpected status %d", resp.StatusCode)
	}
}

// IsUpstreamUnavailable はアップストリーム到達不能に起因するエラーかを判定する。
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, errUpstream)
}

// compile-time interface check
var _ TokenVerifier = (*UpstreamClient)(nil)
