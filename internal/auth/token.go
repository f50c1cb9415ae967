// Package auth はUpstream Marketplace APIを認証サービスとして利用する
// トークン検証を提供する。APIの内部仕様には関知せず、不透明な
// リモート認証サービスとして扱う。
package auth

import (
	"strings"

	"github.com/hitoshi/votebox/internal/model"
)

// minTokenLength はトークンとして受理する最小長。
// これより短いトークンはアップストリームに問い合わせるまでもなく不正。
const minTokenLength = 21

// ValidateTokenFormat はトークンの形式を検証する。
// 期待する形式は「<数値ID>|<英数字トークン>」。
// 形式不正の場合はアップストリームへの問い合わせを省略して即時に拒否できる。
func ValidateTokenFormat(token string) error {
	if len(token) < minTokenLength {
		return model.NewInvalidTokenError()
	}

	parts := strings.SplitN(token, "|", 3)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return model.NewInvalidTokenError()
	}

	if !isDigits(parts[0]) || !isAlphanumeric(parts[1]) {
		return model.NewInvalidTokenError()
	}

	return nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isAlphanumeric(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return len(s) > 0
}
