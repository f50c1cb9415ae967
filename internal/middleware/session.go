// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/votebox/internal/auth"
	"github.com/hitoshi/votebox/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// voterIDContextKey はリクエストコンテキストに投票者IDを格納するためのキー。
var voterIDContextKey = contextKey("voter_id")

// identityContextKey はリクエストコンテキストに検証済み識別情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// NewSessionMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 検証済みの投票者IDをリクエストコンテキストに注入するミドルウェアを返す。
// トークンの形式不正はアップストリームに問い合わせず即時に401を返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(verifier auth.TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. AuthorizationヘッダーからBearerトークンを取得
			token := bearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. トークンを検証して投票者識別情報を取得
			identity, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				if auth.IsUpstreamUnavailable(err) {
					slog.Error("upstream token verification unavailable",
						slog.String("error", err.Error()),
					)
					WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamUnavailableError())
					return
				}
				slog.Error("token verification failed",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 検証済みの投票者IDをコンテキストに注入
			ctx := context.WithValue(r.Context(), voterIDContextKey, identity.VoterID)
			ctx = context.WithValue(ctx, identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// VoterIDFromContext はリクエストコンテキストから投票者IDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func VoterIDFromContext(ctx context.Context) (string, error) {
	voterID, ok := ctx.Value(voterIDContextKey).(string)
	if !ok || voterID == "" {
		return "", fmt.Errorf("voter ID not found in context")
	}
	return voterID, nil
}

// IdentityFromContext はリクエストコンテキストから検証済み識別情報を取得する。
// 識別情報が存在しない場合はnilを返す。
func IdentityFromContext(ctx context.Context) *auth.Identity {
	identity, ok := ctx.Value(identityContextKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

// ContextWithVoterID はコンテキストに投票者IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithVoterID(ctx context.Context, voterID string) context.Context {
	return context.WithValue(ctx, voterIDContextKey, voterID)
}

// ContextWithIdentity はコンテキストに検証済み識別情報を注入する。
func ContextWithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	ctx = context.WithValue(ctx, voterIDContextKey, identity.VoterID)
	return context.WithValue(ctx, identityContextKey, identity)
}
