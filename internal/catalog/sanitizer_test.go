package catalog

import (
	"strings"
	"testing"
)

// タイトルからすべてのHTMLタグが除去されることを検証
func TestSanitizer_SanitizeTitle_StripsAllTags(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "普通のタイトル", "普通のタイトル"},
		{"script tag", `<script>alert("x")</script>タイトル`, "タイトル"},
		{"bold tag", "<b>強調</b>タイトル", "強調タイトル"},
		{"img onerror", `<img src=x onerror=alert(1)>タイトル`, "タイトル"},
		{"whitespace trimmed", "  タイトル  ", "タイトル"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeTitle(tt.input); got != tt.want {
				t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// 説明文では許可タグのみが通過することを検証
func TestSanitizer_SanitizeDescription_AllowsFormattingTags(t *testing.T) {
	s := NewSanitizer()

	got := s.SanitizeDescription("<p>段落</p><strong>強調</strong><em>斜体</em>")
	if !strings.Contains(got, "<p>") || !strings.Contains(got, "<strong>") || !strings.Contains(got, "<em>") {
		t.Errorf("formatting tags should be preserved, got %q", got)
	}
}

// 説明文から危険なタグが除去されることを検証
func TestSanitizer_SanitizeDescription_StripsDangerousTags(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name    string
		input   string
		blocked string
	}{
		{"script", `<p>説明</p><script>alert(1)</script>`, "<script"},
		{"iframe", `<iframe src="https://evil.example.com"></iframe>説明`, "<iframe"},
		{"style", `<style>body{display:none}</style>説明`, "<style"},
		{"onclick", `<p onclick="alert(1)">説明</p>`, "onclick"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeDescription(tt.input)
			if strings.Contains(got, tt.blocked) {
				t.Errorf("SanitizeDescription(%q) = %q, should not contain %q", tt.input, got, tt.blocked)
			}
		})
	}
}

// httpsリンクのみが許可されることを検証
func TestSanitizer_SanitizeDescription_HTTPSLinksOnly(t *testing.T) {
	s := NewSanitizer()

	https := s.SanitizeDescription(`<a href="https://example.com">リンク</a>`)
	if !strings.Contains(https, `href="https://example.com"`) {
		t.Errorf("https link should be preserved, got %q", https)
	}

	js := s.SanitizeDescription(`<a href="javascript:alert(1)">リンク</a>`)
	if strings.Contains(js, "javascript:") {
		t.Errorf("javascript: link should be removed, got %q", js)
	}
}

// サニタイズが冪等であることを検証
func TestSanitizer_Idempotent(t *testing.T) {
	s := NewSanitizer()

	inputs := []string{
		"<b>タイトル</b>",
		`<script>x</script>説明<p>段落</p>`,
		"普通のテキスト",
	}

	for _, input := range inputs {
		once := s.SanitizeTitle(input)
		twice := s.SanitizeTitle(once)
		if once != twice {
			t.Errorf("SanitizeTitle is not idempotent for %q: %q != %q", input, once, twice)
		}

		onceDesc := s.SanitizeDescription(input)
		twiceDesc := s.SanitizeDescription(onceDesc)
		if onceDesc != twiceDesc {
			t.Errorf("SanitizeDescription is not idempotent for %q: %q != %q", input, onceDesc, twiceDesc)
		}
	}
}
