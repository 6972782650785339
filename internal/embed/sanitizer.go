// Package embed は推薦ウォールを利用者のサイトに埋め込むためのHTML/JSONと埋め込みコードを生成する。
//
// バックエンドから受け取った文字列はすべて外部入力として扱い、出力前にbluemondayでサニタイズする。
package embed

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はウォールに表示する文字列をサニタイズする。
type Sanitizer struct {
	text *bluemonday.Policy
	rich *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
// text はすべてのタグを除去する。rich はウォールの説明文用で、
// p, br, strong, em, a のみを許可し、リンクには target="_blank" と rel="noopener noreferrer" を付与する。
func NewSanitizer() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("https", "http")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &Sanitizer{
		text: bluemonday.StrictPolicy(),
		rich: rich,
	}
}

// TextHTML はタグを除去し、HTMLにそのまま書き込めるエスケープ済み文字列を返す。
func (s *Sanitizer) TextHTML(raw string) string {
	return s.text.Sanitize(raw)
}

// Text はタグを除去したプレーンテキストを返す。JSON出力用。
func (s *Sanitizer) Text(raw string) string {
	return html.UnescapeString(s.text.Sanitize(raw))
}

// RichHTML は許可リストのタグのみを残したHTMLを返す。
func (s *Sanitizer) RichHTML(raw string) string {
	return s.rich.Sanitize(raw)
}

// URL は絶対URLかつhttp/httpsの場合のみURLを返し、それ以外は空文字を返す。
func (s *Sanitizer) URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String()
	default:
		return ""
	}
}
