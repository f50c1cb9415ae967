// Package catalog は動画カタログの管理（一覧、登録、取り込み）を提供する。
package catalog

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SanitizerService は取り込み・登録される動画メタデータのサニタイズ機能を定義する。
// タイトルと説明はCSVや登録APIから入るユーザー由来のテキストであり、
// 保存前に必ずサニタイズする。
type SanitizerService interface {
	// SanitizeTitle はタイトルからすべてのHTMLタグを除去したプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeTitle(raw string) string

	// SanitizeDescription は説明文をサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, strong, em, a）のみを通過させる。
	SanitizeDescription(raw string) string
}

// metadataSanitizer はSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type metadataSanitizer struct {
	titlePolicy *bluemonday.Policy
	descPolicy  *bluemonday.Policy
}

// NewSanitizer はSanitizerServiceの新しいインスタンスを生成する。
// タイトルにはタグを一切許可しないポリシー、説明には最小限の整形タグのみを
// 許可するポリシーを使用する。script、iframe、styleタグおよびon*イベント属性は
// どちらのポリシーでも除去される。
func NewSanitizer() *metadataSanitizer {
	desc := bluemonday.NewPolicy()
	desc.AllowElements("p", "br", "strong", "em")
	desc.AllowAttrs("href").OnElements("a")
	desc.AllowRelativeURLs(false)
	desc.AddTargetBlankToFullyQualifiedLinks(true)
	desc.RequireNoReferrerOnLinks(true)
	desc.AllowURLSchemes("https")

	return &metadataSanitizer{
		titlePolicy: bluemonday.StrictPolicy(),
		descPolicy:  desc,
	}
}

// SanitizeTitle はタイトルからすべてのHTMLタグを除去したプレーンテキストを返す。
func (s *metadataSanitizer) SanitizeTitle(raw string) string {
	return strings.TrimSpace(s.titlePolicy.Sanitize(raw))
}

// SanitizeDescription は説明文をサニタイズして安全なHTMLを返す。
func (s *metadataSanitizer) SanitizeDescription(raw string) string {
	return strings.TrimSpace(s.descPolicy.Sanitize(raw))
}

// compile-time interface check
var _ SanitizerService = (*metadataSanitizer)(nil)
