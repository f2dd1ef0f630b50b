// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はポータルがエラー文言や応答ボディに返すテキストから
// マークアップを取り除く。スクレイピング対象のポータルはエラーを
// HTML断片として返すことがあり、そのままログやAPI応答に載せると
// 出力先でのインジェクションにつながるため、タグを全て除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はポータル由来テキストのサニタイズ機能の
// インターフェースを定義する。
type TextSanitizerService interface {
	// Clean はテキストからHTMLタグを全て取り除き、
	// エンティティを復元した上で前後の空白を除去して返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して冪等。
	Clean(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Clean はテキストからHTMLタグを全て取り除いて返す。
// StrictPolicyは残ったテキストをエンティティエスケープするため、
// 平文として扱えるようUnescapeStringで復元する。
func (s *textSanitizer) Clean(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
