// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーやクライアントから受け取った表示名を
// プレーンテキストに正規化する。bluemondayのStrictPolicyで全タグを除去する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxTextLength は表示名の最大文字数。
const DefaultMaxTextLength = 200

// TextSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、前後の空白を除いたプレーンテキストを返す。
	// 最大文字数を超える部分は切り捨てる。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewTextSanitizer はTextSanitizerを生成する。maxLenが0以下の場合はDefaultMaxTextLength。
func NewTextSanitizer(maxLen int) TextSanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: maxLen,
	}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// StrictPolicyはテキストをエスケープするため、保存用にエスケープを戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > s.maxLen {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:s.maxLen]))
	}
	return text
}
