package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LoginRequest はログインリクエスト。
type LoginRequest struct {
	Email    string `json:"Email" validate:"required,email"`
	Password string `json:"Password" validate:"required"`
	UserType string `json:"usertype"`
}

// RegistrationRequest はメールアドレス登録リクエスト。
// null を送る必要があるフィールドはポインタで表す。
type RegistrationRequest struct {
	Email            string  `json:"Email" validate:"required,email"`
	Password         *string `json:"Password"`
	UserType         string  `json:"usertype"`
	LoginSource      int     `json:"loginsource"`
	LoginReference   *string `json:"loginreference"`
	Name             *string `json:"name"`
	Surname          *string `json:"surname"`
	DisplayName      *string `json:"displayname"`
	ProfilePic       *string `json:"profilepic"`
	CustomerTimezone string  `json:"customertimezone"`
	GToken           string  `json:"GToken"`
	IPAddress        string  `json:"IPAddress"`
	CustomerLocation *string `json:"CustomerLocation"`
	CountryID        *string `json:"CountryId"`
	RecaptchaToken   *string `json:"recaptchaToken"`
}

// ForgotPasswordRequest はパスワード再設定コードの送信リクエスト。
type ForgotPasswordRequest struct {
	Email            string  `json:"Email" validate:"required,email"`
	UserType         string  `json:"usertype"`
	IPAddress        string  `json:"IPAddress"`
	CustomerLocation *string `json:"CustomerLocation"`
	CountryID        *string `json:"CountryId"`
}

// VerifyRequest はワンタイムコード検証リクエスト。
type VerifyRequest struct {
	Email string `json:"Email" validate:"required,email"`
	OTP   string `json:"OTP" validate:"required,numeric"`
}

// ResendRequest はワンタイムコード再送リクエスト。
type ResendRequest struct {
	Email        string `json:"email" validate:"required,email"`
	SignupSource string `json:"signupSource"`
}

// ResetPasswordRequest はパスワード再設定リクエスト。
type ResetPasswordRequest struct {
	ID                string  `json:"Id"`
	DisplayName       *string `json:"DisplayName"`
	Email             string  `json:"Email" validate:"required,email"`
	Password          string  `json:"Password" validate:"required,min=6"`
	ImageLinkUploaded *string `json:"ImageLinkUploaded"`
}

// GoogleSignInRequest はGoogle資格情報の交換リクエスト。
type GoogleSignInRequest struct {
	Credential       string  `json:"credential" validate:"required"`
	UserType         string  `json:"usertype"`
	IPAddress        string  `json:"IPAddress"`
	CustomerLocation *string `json:"CustomerLocation"`
	CountryID        *string `json:"CountryId"`
	CustomerTimezone string  `json:"customertimezone"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
}

// OnboardingRequest はサインアップ後のプロフィール登録内容。
type OnboardingRequest struct {
	Email          string `validate:"required,email"`
	UserID         string
	DisplayName    string `validate:"required"`
	Name           string
	Surname        string
	CompanyName    string
	ProfilePicPath string
}

var requestValidator = validator.New()

// Validate は構造体のバリデーションタグを検証し、最初の違反をバリデーションエラーとして返す。
func Validate(v any) error {
	err := requestValidator.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		field := strings.ToLower(first.Field())
		switch first.Tag() {
		case "required":
			return NewValidationError(fmt.Sprintf("%s is required", field))
		case "email":
			return NewValidationError("Please enter a valid email address")
		case "min":
			return NewValidationError(fmt.Sprintf("%s must be at least %s characters", field, first.Param()))
		case "numeric":
			return NewValidationError(fmt.Sprintf("%s must contain only digits", field))
		default:
			return NewValidationError(fmt.Sprintf("invalid %s", field))
		}
	}

	return NewValidationError("invalid request")
}

// ValidateEmail は単一のメールアドレスを検証する。
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return NewValidationError("email is required")
	}
	if err := requestValidator.Var(email, "email"); err != nil {
		return NewValidationError("Please enter a valid email address")
	}
	return nil
}

// StringPtr は空文字を nil に変換したポインタを返す。
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
