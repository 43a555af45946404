package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameRunes は表示名として保存する最大文字数。
const MaxNameRunes = 100

// NameSanitizer は利用者が入力した氏名からマークアップを除去する。
// bluemondayのStrictPolicyで全タグを落とし、空白を正規化する。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした文字実体はプレーンテキストに戻す。
func (s *NameSanitizer) Sanitize(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > MaxNameRunes {
		cleaned = string([]rune(cleaned)[:MaxNameRunes])
	}
	return cleaned
}

// FullName は姓名を連結してサニタイズした表示名を返す。
func (s *NameSanitizer) FullName(first, last string) string {
	return s.Sanitize(first + " " + last)
}
