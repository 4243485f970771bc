// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は外部から取り込んだイベントのタイトルや説明文から
// HTMLを取り除き、カレンダーグリッドにそのまま表示できるプレーンテキストにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxTitleLen はタイトルとして保持する最大文字数（rune数）。
const maxTitleLen = 200

// TextSanitizerService はプレーンテキスト化のインターフェースを定義する。
// PDF・ICSインポートでキャッシュへ書き込む前に使用される。
type TextSanitizerService interface {
	// SanitizeTitle はタグを除去し、改行を含む連続した空白を1つの空白にまとめる。
	// 最大200文字に切り詰める。
	SanitizeTitle(raw string) string
	// SanitizeDescription はタグを除去し、行の区切りは保持したまま前後の空白を取り除く。
	SanitizeDescription(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyはすべてのタグを除去する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) SanitizeTitle(raw string) string {
	text := strings.Join(strings.Fields(s.strip(raw)), " ")
	if r := []rune(text); len(r) > maxTitleLen {
		text = strings.TrimSpace(string(r[:maxTitleLen]))
	}
	return text
}

func (s *textSanitizer) SanitizeDescription(raw string) string {
	lines := strings.Split(strings.ReplaceAll(s.strip(raw), "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// strip はタグを除去する。StrictPolicyはテキストをHTMLエスケープして返すため、
// プレーンテキストとして扱えるよう元に戻す。
func (s *textSanitizer) strip(raw string) string {
	if raw == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(raw))
}
