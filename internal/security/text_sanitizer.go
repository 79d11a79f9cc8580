package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はチャットメッセージやタスク名などの利用者・外部由来のテキストを
// プレーンテキストに正規化する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、制御文字を取り除き、前後の空白を削る。
	// タグとして閉じていない "<"（"A<B" や "3 < 5"）は文字としてそのまま残す。
	// maxRunesが正の場合はその文字数で切り詰める。
	Sanitize(raw string, maxRunes int) string
}

// tagPattern はタグ名で始まり ">" で閉じる要素タグとコメントにのみ一致する。
var tagPattern = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(?:\s[^<>]*)?/?>|<!--[\s\S]*?-->`)

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicy（全タグ除去）を使うTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) Sanitize(raw string, maxRunes int) string {
	text := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)

	// StrictPolicyはエンティティをエスケープして返す。表示時にテンプレートが再度エスケープするため戻しておく。
	text = strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(escapeStrayLT(text))))

	if maxRunes > 0 {
		runes := []rune(text)
		if len(runes) > maxRunes {
			text = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return text
}

// escapeStrayLT はタグの一部ではない "<" を "&lt;" に置き換える。
// そのままだとHTMLトークナイザが以降の文字列をタグとして読み込み、本文が消える。
func escapeStrayLT(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(text, -1) {
		b.WriteString(strings.ReplaceAll(text[last:loc[0]], "<", "&lt;"))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(strings.ReplaceAll(text[last:], "<", "&lt;"))
	return b.String()
}
