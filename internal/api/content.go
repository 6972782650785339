package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hitoshi/clientalio/internal/model"
)

// GetTestimonials は推薦一覧を取得する。userIDが空の場合はログイン中ユーザーの一覧。
func (c *Client) GetTestimonials(ctx context.Context, userID string) ([]model.Testimonial, error) {
	path := "/testimonials"
	if userID != "" {
		path += "?userId=" + url.QueryEscape(userID)
	}

	var list []model.Testimonial
	if _, err := c.get(ctx, path, "Failed to fetch testimonials", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetWallTestimonials は wall of love の内容を取得する。
func (c *Client) GetWallTestimonials(ctx context.Context) (*model.Wall, error) {
	var wall model.Wall
	if _, err := c.get(ctx, "/Customer/WallOfLove", "Failed to load wall testimonials", &wall); err != nil {
		return nil, err
	}
	return &wall, nil
}

// CreateTestimonial はテキストの推薦を作成する。
func (c *Client) CreateTestimonial(ctx context.Context, in model.TestimonialInput) (string, error) {
	if err := model.Validate(in); err != nil {
		return "", err
	}
	return c.postJSON(ctx, "/testimonials", in, "Failed to create testimonial", nil)
}

// UploadVideo は動画の推薦をアップロードする。
func (c *Client) UploadVideo(ctx context.Context, up model.VideoUpload) (string, error) {
	if err := model.Validate(up); err != nil {
		return "", err
	}

	form := newMultipartForm()
	form.file("video", up.FilePath)
	form.field("clientName", up.ClientName)
	form.field("company", up.Company)
	form.field("email", up.Email)

	return c.postMultipart(ctx, "/upload", form, "Failed to upload video", nil)
}

// GetSubscriptionPlans はサブスクリプションプラン一覧を取得する。
// レスポンスが配列の場合と {plans: [...]} の場合の両方に対応する。
func (c *Client) GetSubscriptionPlans(ctx context.Context) ([]model.SubscriptionPlan, error) {
	var raw json.RawMessage
	if _, err := c.get(ctx, "/Customer/SubscriptionPlans", "Failed to load subscription plans. Please try again later.", &raw); err != nil {
		return nil, err
	}
	return decodePlans(raw)
}

func decodePlans(raw json.RawMessage) ([]model.SubscriptionPlan, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return []model.SubscriptionPlan{}, nil
	}

	if trimmed[0] == '[' {
		var plans []model.SubscriptionPlan
		if err := json.Unmarshal(trimmed, &plans); err != nil {
			return nil, fmt.Errorf("failed to decode plans: %w", err)
		}
		return plans, nil
	}

	var wrapped struct {
		Plans []model.SubscriptionPlan `json:"plans"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode plans: %w", err)
	}
	if wrapped.Plans == nil {
		return []model.SubscriptionPlan{}, nil
	}
	return wrapped.Plans, nil
}
