// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はIdPから返されたエラー説明など、外部由来の文字列を
// ログイン画面に表示する前にプレーンテキスト化する。
// bluemondayのStrictPolicyですべてのタグを除去する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxTextLength は表示用テキストの既定の最大文字数。
const DefaultMaxTextLength = 200

// TextSanitizerService は外部由来の文字列を表示用に無害化するインターフェース。
type TextSanitizerService interface {
	// Sanitize はタグを除去し、空白を正規化し、最大文字数で切り詰めたテキストを返す。
	// 戻り値はエスケープされていないプレーンテキストで、出力時のエスケープはテンプレートに任せる。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
type textSanitizer struct {
	policy    *bluemonday.Policy
	maxLength int
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// maxLengthが0以下の場合はDefaultMaxTextLengthを使う。
func NewTextSanitizer(maxLength int) *textSanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}
	return &textSanitizer{
		policy:    bluemonday.StrictPolicy(),
		maxLength: maxLength,
	}
}

// Sanitize は外部由来の文字列を表示用のプレーンテキストに変換する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyは出力をHTMLエスケープするため、テンプレートでの二重エスケープを避けて戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > s.maxLength {
		runes := []rune(text)
		text = string(runes[:s.maxLength]) + "…"
	}
	return text
}
