package model

import "time"

// Testimonial はバックエンドから取得する推薦コンテンツ1件を表す。
// クライアント側では読み取り専用として扱う。
type Testimonial struct {
	ID                string    `json:"id"`
	ClientName        string    `json:"clientName"`
	ClientEmail       string    `json:"clientEmail"`
	CompanyName       string    `json:"companyName"`
	Company           string    `json:"company,omitempty"`
	WorkTitle         string    `json:"workTitle"`
	Category          string    `json:"category"`
	Ratings           int       `json:"ratings"`
	TextRecorded      string    `json:"textRecorded"`
	VideoLinkRecorded string    `json:"videoLinkRecorded"`
	VideoURL          string    `json:"videoUrl,omitempty"`
	ImageLinkUploaded string    `json:"imageLinkUploaded"`
	Duration          string    `json:"duration"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CompanyLabel は会社名を返す。companyName が空の場合は company を使う。
func (t Testimonial) CompanyLabel() string {
	if t.CompanyName != "" {
		return t.CompanyName
	}
	return t.Company
}

// Video は動画URLを返す。
func (t Testimonial) Video() string {
	if t.VideoLinkRecorded != "" {
		return t.VideoLinkRecorded
	}
	return t.VideoURL
}

// Wall は "wall of love" ウィジェットの内容を表す。
type Wall struct {
	Title        string        `json:"wallTitle"`
	Subtitle     string        `json:"wallSubtitle"`
	Testimonials []Testimonial `json:"wallTestimonial"`
}

// TestimonialInput はテキスト推薦の作成リクエスト。
type TestimonialInput struct {
	ClientName  string `json:"clientName" validate:"required"`
	Company     string `json:"company"`
	ClientEmail string `json:"email" validate:"omitempty,email"`
	Ratings     int    `json:"ratings" validate:"gte=0,lte=5"`
	Text        string `json:"textRecorded" validate:"required"`
}

// VideoUpload は動画推薦のアップロード内容。
type VideoUpload struct {
	FilePath   string `validate:"required"`
	ClientName string `validate:"required"`
	Company    string
	Email      string `validate:"omitempty,email"`
}
