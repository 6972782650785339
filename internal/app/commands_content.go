package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hitoshi/clientalio/internal/embed"
	"github.com/hitoshi/clientalio/internal/media"
	"github.com/hitoshi/clientalio/internal/model"
	"github.com/hitoshi/clientalio/internal/testimonial"
)

// currentUserID は保存済みセッションの利用者IDを返す。セッションが無ければ空文字。
func (a *App) currentUserID(ctx context.Context) (string, error) {
	profile, err := a.sessions.GetSession(ctx)
	if err != nil || profile == nil {
		return "", err
	}
	return profile.UserID, nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// runTestimonials は推薦一覧を新しい順に表示する。
func (a *App) runTestimonials(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandTestimonials)
	keyword := fs.String("q", "", "search keyword (name, company, title, text, email, category)")
	userID := fs.String("user", "", "owner user id (defaults to the signed-in user)")
	selected := fs.String("select", "", "comma-separated testimonial ids to show")
	asJSON := fs.Bool("json", false, "print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		id, err := a.currentUserID(ctx)
		if err != nil {
			return err
		}
		*userID = id
	}

	list, err := a.testimonials.List(ctx, *userID, *keyword)
	if err != nil {
		return err
	}
	if ids := splitIDs(*selected); len(ids) > 0 {
		list = testimonial.NewSelection(ids...).Filter(list)
	}

	if *asJSON {
		return writeJSON(a.out, list)
	}
	if len(list) == 0 {
		a.printf("No testimonials found.\n")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLIENT\tCOMPANY\tRATING\tDATE\tTESTIMONIAL")
	for _, t := range list {
		date := ""
		if !t.CreatedAt.IsZero() {
			date = t.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.ClientName, t.CompanyLabel(), stars(t.Ratings), date, excerpt(t))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	a.printf("\n%d testimonial(s), average rating %.1f\n", len(list), testimonial.AverageRating(list))
	return nil
}

func stars(n int) string {
	n = max(0, min(n, 5))
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

func excerpt(t model.Testimonial) string {
	if t.TextRecorded == "" && t.Video() != "" {
		return "[video] " + t.Video()
	}
	text := strings.Join(strings.Fields(t.TextRecorded), " ")
	if r := []rune(text); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return text
}

// runSubmit はテキストの推薦を作成する。
func (a *App) runSubmit(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandSubmit)
	var in model.TestimonialInput
	fs.StringVar(&in.ClientName, "name", "", "client name")
	fs.StringVar(&in.Company, "company", "", "client company")
	fs.StringVar(&in.ClientEmail, "email", "", "client email")
	fs.IntVar(&in.Ratings, "rating", 5, "rating from 0 to 5")
	fs.StringVar(&in.Text, "text", "", "testimonial text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg, err := a.client.CreateTestimonial(ctx, in)
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "Testimonial submitted."))
	return nil
}

// runWall はウォールの内容、JSON、HTML、または埋め込みコードを出力する。
func (a *App) runWall(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandWall)
	userID := fs.String("user", "", "owner user id (defaults to the signed-in user)")
	theme := fs.String("theme", embed.ThemeLight, "widget theme: light or dark")
	limit := fs.Int("limit", 0, "maximum number of testimonials (0 = all)")
	ids := fs.String("ids", "", "comma-separated testimonial ids to feature, in order")
	hideRatings := fs.Bool("hide-ratings", false, "do not show rating stars")
	format := fs.String("format", "text", "output: text, json, html or snippet")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *theme != embed.ThemeLight && *theme != embed.ThemeDark {
		return model.NewValidationError("theme must be light or dark")
	}

	opts := embed.Options{Theme: *theme, Limit: *limit, HideRatings: *hideRatings, Selected: splitIDs(*ids)}

	if *userID == "" {
		id, err := a.currentUserID(ctx)
		if err != nil {
			return err
		}
		*userID = id
	}

	if *format == "snippet" {
		a.printf("%s\n", embed.Snippet(a.cfg.PublicBaseURL, *userID, opts))
		return nil
	}

	wall, err := a.testimonials.Wall(ctx, *userID)
	if err != nil {
		return err
	}

	renderer := embed.NewRenderer()
	switch *format {
	case "json":
		return writeJSON(a.out, renderer.Payload(wall, opts))
	case "html":
		return renderer.RenderHTML(ctx, a.out, wall, opts)
	case "text":
	default:
		return model.NewValidationError("format must be text, json, html or snippet")
	}

	payload := renderer.Payload(wall, opts)
	a.printf("%s\n%s\n\n", payload.Title, payload.Subtitle)
	if payload.Count == 0 {
		a.printf("No testimonials yet.\n")
		return nil
	}
	for _, c := range payload.Testimonials {
		who := c.ClientName
		if c.Company != "" {
			who += ", " + c.Company
		}
		a.printf("%s  %s\n", stars(c.Rating), who)
		if c.Text != "" {
			a.printf("  %s\n", c.Text)
		}
		if c.VideoURL != "" {
			a.printf("  video: %s\n", c.VideoURL)
		}
	}
	a.printf("\n%d testimonial(s), average rating %.1f\n", payload.Count, payload.AverageRating)
	return nil
}

// runPlans はサブスクリプションプランを表示する。
func (a *App) runPlans(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandPlans)
	asJSON := fs.Bool("json", false, "print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	summary, err := a.testimonials.Plans(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(a.out, summary)
	}

	for _, p := range summary.Plans {
		marker := " "
		if p.IsOpted {
			marker = "*"
		}
		price := fmt.Sprintf("%s%.2f", p.CurrencySymbol, p.Price)
		if p.IsFree {
			price = "Free"
		} else if p.DiscountedPrice > 0 && p.DiscountedPrice < p.Price {
			price = fmt.Sprintf("%s%.2f (was %s%.2f)", p.CurrencySymbol, p.DiscountedPrice, p.CurrencySymbol, p.Price)
		}
		a.printf("%s %s  %s", marker, p.PlanName, price)
		if p.BillingCycle != "" {
			a.printf(" / %s", p.BillingCycle)
		}
		a.printf("\n")
		for _, f := range p.VisibleFeatures() {
			mark := "✓"
			if !f.IsAvailable {
				mark = "✗"
			}
			a.printf("    %s %s\n", mark, f.FeatureName)
		}
	}
	if summary.Current != nil {
		a.printf("\nCurrent plan: %s\n", summary.Current.PlanName)
	}
	return nil
}

// runUpload は動画の推薦をアップロードする。
func (a *App) runUpload(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandUpload)
	var up model.VideoUpload
	fs.StringVar(&up.FilePath, "file", "", "video file to upload")
	fs.StringVar(&up.ClientName, "name", "", "client name")
	fs.StringVar(&up.Company, "company", "", "client company")
	fs.StringVar(&up.Email, "email", "", "client email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	info, err := media.ValidateVideoFile(up.FilePath, a.cfg.MediaMaxSize)
	if err != nil {
		return err
	}
	a.logger.Info("uploading video",
		slog.String("file", info.Name()),
		slog.Int64("size", info.Size()),
	)

	msg, err := a.client.UploadVideo(ctx, up)
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "Video uploaded successfully!"))
	return nil
}

// runOnboard はサインアップ後のプロフィールを登録する。
func (a *App) runOnboard(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandOnboard)
	var req model.OnboardingRequest
	fs.StringVar(&req.DisplayName, "display-name", "", "public display name")
	fs.StringVar(&req.Name, "name", "", "first name")
	fs.StringVar(&req.Surname, "surname", "", "last name")
	fs.StringVar(&req.CompanyName, "company", "", "company name")
	fs.StringVar(&req.ProfilePicPath, "picture", "", "profile picture file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	profile, err := a.sessions.GetSession(ctx)
	if err != nil {
		return err
	}
	if profile == nil {
		return model.NewNotAuthenticatedError()
	}
	req.Email = profile.Email
	req.UserID = profile.UserID

	if req.DisplayName, err = a.askIfEmpty(req.DisplayName, "Display name: "); err != nil {
		return err
	}

	msg, err := a.client.CompleteOnboarding(ctx, req)
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "Profile completed."))
	return nil
}

// runDownload は推薦動画をダウンロードする。
// プライベートネットワーク宛てのURLとサイズ上限を超える応答は拒否する。
func (a *App) runDownload(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandDownload)
	rawURL := fs.String("url", "", "video URL")
	output := fs.String("o", "", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rawURL == "" || *output == "" {
		return model.NewValidationError("both -url and -o are required")
	}

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	d := media.NewDownloader(a.cfg.MediaTimeout, a.cfg.MediaMaxSize, a.logger)
	n, err := d.Download(ctx, *rawURL, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(*output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.logger.Warn("failed to remove partial download", slog.String("error", rmErr.Error()))
		}
		return err
	}

	a.printf("Saved %d bytes to %s\n", n, *output)
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
