package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"github.com/hitoshi/clientalio/internal/model"
	"github.com/hitoshi/clientalio/internal/testimonial"
)

// テーマ
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Options はウォールの表示オプション。
type Options struct {
	Theme       string   // light（既定）または dark
	Limit       int      // 0以下は無制限
	HideRatings bool     // 評価の星を表示しない
	Selected    []string // 指定された場合は選択した推薦のみ、選択順で表示する
}

// Renderer はウォールをHTMLまたはJSONに変換する。
type Renderer struct {
	sanitizer *Sanitizer
}

// NewRenderer はRendererを生成する。
func NewRenderer() *Renderer {
	return &Renderer{sanitizer: NewSanitizer()}
}

// Card はサニタイズ済みの推薦1件。JSON出力の要素でもある。
type Card struct {
	ID         string `json:"id"`
	ClientName string `json:"clientName"`
	Company    string `json:"company,omitempty"`
	WorkTitle  string `json:"workTitle,omitempty"`
	Rating     int    `json:"rating,omitempty"`
	Text       string `json:"text,omitempty"`
	VideoURL   string `json:"videoUrl,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// WallPayload はJSON形式のウォール。
type WallPayload struct {
	Title         string  `json:"title"`
	Subtitle      string  `json:"subtitle"`
	AverageRating float64 `json:"averageRating"`
	Count         int     `json:"count"`
	Testimonials  []Card  `json:"testimonials"`
}

// pick は表示対象の推薦を決める。
func (o Options) pick(list []model.Testimonial) []model.Testimonial {
	list = testimonial.NewSelection(o.Selected...).Filter(list)
	if o.Limit > 0 && len(list) > o.Limit {
		list = list[:o.Limit]
	}
	return list
}

func (r *Renderer) card(t model.Testimonial) Card {
	c := Card{
		ID:         t.ID,
		ClientName: r.sanitizer.Text(t.ClientName),
		Company:    r.sanitizer.Text(t.CompanyLabel()),
		WorkTitle:  r.sanitizer.Text(t.WorkTitle),
		Text:       r.sanitizer.Text(t.TextRecorded),
		VideoURL:   r.sanitizer.URL(t.Video()),
		ImageURL:   r.sanitizer.URL(t.ImageLinkUploaded),
	}
	if t.Ratings > 0 {
		c.Rating = min(t.Ratings, 5)
	}
	if !t.CreatedAt.IsZero() {
		c.CreatedAt = t.CreatedAt.UTC().Format("2006-01-02")
	}
	return c
}

// Payload はウォールをサニタイズ済みのJSON用構造体に変換する。
func (r *Renderer) Payload(wall *model.Wall, opts Options) WallPayload {
	list := opts.pick(wall.Testimonials)
	cards := make([]Card, 0, len(list))
	for _, t := range list {
		cards = append(cards, r.card(t))
	}
	return WallPayload{
		Title:         r.sanitizer.Text(wall.Title),
		Subtitle:      r.sanitizer.Text(wall.Subtitle),
		AverageRating: testimonial.AverageRating(list),
		Count:         len(cards),
		Testimonials:  cards,
	}
}

// RenderJSON はウォールをJSONに変換する。
func (r *Renderer) RenderJSON(wall *model.Wall, opts Options) ([]byte, error) {
	return json.Marshal(r.Payload(wall, opts))
}

// RenderHTML はウォールを自己完結したHTMLとしてwに書き込む。
func (r *Renderer) RenderHTML(ctx context.Context, w io.Writer, wall *model.Wall, opts Options) error {
	return r.Component(wall, opts).Render(ctx, w)
}

// Component はウォールのtemplコンポーネントを返す。
func (r *Renderer) Component(wall *model.Wall, opts Options) templ.Component {
	theme := opts.Theme
	if theme != ThemeDark {
		theme = ThemeLight
	}
	list := opts.pick(wall.Testimonials)
	title := r.sanitizer.TextHTML(wall.Title)
	subtitle := r.sanitizer.RichHTML(wall.Subtitle)

	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html lang=\"en\"><head><meta charset=\"utf-8\">")
		b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		b.WriteString("<title>" + title + "</title>")
		b.WriteString("<style>" + wallCSS + "</style></head>")
		fmt.Fprintf(&b, "<body class=\"clientalio-wall theme-%s\">", theme)
		b.WriteString("<header><h1>" + title + "</h1>")
		if subtitle != "" {
			b.WriteString("<div class=\"subtitle\">" + subtitle + "</div>")
		}
		b.WriteString("</header>")

		if len(list) == 0 {
			b.WriteString("<p class=\"empty\">No testimonials yet.</p>")
		} else {
			b.WriteString("<section class=\"cards\">")
			for _, t := range list {
				r.writeCard(&b, r.card(t), opts)
			}
			b.WriteString("</section>")
		}
		b.WriteString("</body></html>\n")

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// writeCard は推薦1件のHTMLを書き込む。cardの文字列はプレーンテキストのため再エスケープする。
func (r *Renderer) writeCard(b *strings.Builder, c Card, opts Options) {
	b.WriteString("<article class=\"card\">")
	if !opts.HideRatings && c.Rating > 0 {
		fmt.Fprintf(b, "<div class=\"rating\" aria-label=\"%d out of 5\">%s%s</div>",
			c.Rating, strings.Repeat("★", c.Rating), strings.Repeat("☆", 5-c.Rating))
	}
	if c.VideoURL != "" {
		b.WriteString("<video controls preload=\"metadata\" src=\"" + templ.EscapeString(c.VideoURL) + "\"></video>")
	}
	if c.Text != "" {
		b.WriteString("<blockquote>" + templ.EscapeString(c.Text) + "</blockquote>")
	}
	b.WriteString("<footer>")
	if c.ImageURL != "" {
		b.WriteString("<img class=\"avatar\" src=\"" + templ.EscapeString(c.ImageURL) + "\" alt=\"" + templ.EscapeString(c.ClientName) + "\">")
	}
	b.WriteString("<div><strong>" + templ.EscapeString(c.ClientName) + "</strong>")
	if byline := joinNonEmpty(", ", c.WorkTitle, c.Company); byline != "" {
		b.WriteString("<span>" + templ.EscapeString(byline) + "</span>")
	}
	b.WriteString("</div></footer></article>")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// Snippet は利用者のサイトに貼り付けるiframeの埋め込みコードを返す。
func Snippet(baseURL, userID string, opts Options) string {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	if opts.Theme == ThemeDark {
		q.Set("theme", ThemeDark)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	if len(opts.Selected) > 0 {
		q.Set("ids", strings.Join(opts.Selected, ","))
	}

	src := strings.TrimRight(baseURL, "/") + "/embed/wall"
	if encoded := q.Encode(); encoded != "" {
		src += "?" + encoded
	}
	return fmt.Sprintf(`<iframe src="%s" title="Wall of love" width="100%%" height="600" frameborder="0" loading="lazy" style="border:0;"></iframe>`,
		templ.EscapeString(src))
}

const wallCSS = `body{margin:0;padding:24px;font-family:system-ui,sans-serif}` +
	`.theme-light{background:#f9fafb;color:#111827}.theme-dark{background:#111827;color:#f9fafb}` +
	`header{text-align:center;margin-bottom:24px}.subtitle{opacity:.75}` +
	`.cards{display:grid;gap:16px;grid-template-columns:repeat(auto-fill,minmax(280px,1fr))}` +
	`.card{border-radius:12px;padding:16px;box-shadow:0 1px 3px rgba(0,0,0,.15)}` +
	`.theme-light .card{background:#fff}.theme-dark .card{background:#1f2937}` +
	`.rating{color:#facc15;letter-spacing:2px}video{width:100%;border-radius:8px}` +
	`footer{display:flex;gap:12px;align-items:center;margin-top:12px}footer span{display:block;opacity:.7}` +
	`.avatar{width:40px;height:40px;border-radius:50%;object-fit:cover}.empty{text-align:center;opacity:.6}`
