package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は外部から受け取った表示用文字列をプレーンテキストに正規化する。
// IdPのプロフィール（表示名、ニックネーム）をユーザー名として保存する前に使用する。
type TextSanitizerService interface {
	// SanitizeText はHTMLタグと制御文字を除去し、連続する空白を1つにまとめる。
	// 同一入力に対して常に同一出力を返す。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyはすべての要素を除去するため、タグの中身のテキストだけが残る。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はプレーンテキストに正規化した文字列を返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはエンティティをエスケープして返すため、保存用に元の文字へ戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)

	return strings.Join(strings.Fields(text), " ")
}
