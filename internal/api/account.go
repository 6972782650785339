package api

import (
	"context"

	"github.com/hitoshi/clientalio/internal/model"
)

// AuthData はログイン・Google資格情報交換の成功レスポンス。
type AuthData struct {
	Token string `json:"token"`
	model.UserProfile
}

// Login はメールアドレスとパスワードでトークンを取得する。
func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*AuthData, error) {
	if err := model.Validate(req); err != nil {
		return nil, err
	}
	if req.UserType == "" {
		req.UserType = c.userType
	}

	var data AuthData
	msg, err := c.postPublicJSON(ctx, "/Token", req, "Login failed. Please check your credentials.", &data)
	if err != nil {
		return nil, err
	}
	if data.Token == "" {
		if msg == "" {
			msg = "Invalid response from server"
		}
		return nil, model.NewBackendRejectedError(msg, 200)
	}
	return &data, nil
}

// RegistrationFor はClientContextから登録リクエストを組み立てる。
// recaptchaTokenが空の場合はnullを送る。
func (c *Client) RegistrationFor(email string, cc model.ClientContext, recaptchaToken string) model.RegistrationRequest {
	return model.RegistrationRequest{
		Email:            email,
		UserType:         c.userType,
		LoginSource:      0,
		CustomerTimezone: cc.Timezone,
		GToken:           "",
		IPAddress:        cc.IP,
		CustomerLocation: model.StringPtr(cc.Location()),
		CountryID:        countryID(cc),
		RecaptchaToken:   model.StringPtr(recaptchaToken),
	}
}

// ForgotPasswordFor はClientContextからパスワード再設定コード送信リクエストを組み立てる。
func (c *Client) ForgotPasswordFor(email string, cc model.ClientContext) model.ForgotPasswordRequest {
	return model.ForgotPasswordRequest{
		Email:            email,
		UserType:         c.userType,
		IPAddress:        cc.IP,
		CustomerLocation: model.StringPtr(cc.Location()),
		CountryID:        countryID(cc),
	}
}

// countryID は解決済みの国コードを返す。未解決の場合はnull。
func countryID(cc model.ClientContext) *string {
	if !cc.Resolved() {
		return nil
	}
	return model.StringPtr(cc.CountryCode)
}

// RegisterEmail はメールアドレスを登録し、ワンタイムコードを送信させる。
func (c *Client) RegisterEmail(ctx context.Context, req model.RegistrationRequest) (string, error) {
	if err := model.Validate(req); err != nil {
		return "", err
	}
	return c.postPublicJSON(ctx, "/Customer/RegisterEmail", req, "Registration failed. Please try again.", nil)
}

// ForgotPassword はパスワード再設定用のワンタイムコードを送信させる。
func (c *Client) ForgotPassword(ctx context.Context, req model.ForgotPasswordRequest) (string, error) {
	if err := model.Validate(req); err != nil {
		return "", err
	}
	return c.postPublicJSON(ctx, "/Customer/ForgotPassword", req, "Failed to send reset code", nil)
}

// VerifyOTP は新規登録のワンタイムコードを検証する。
func (c *Client) VerifyOTP(ctx context.Context, req model.VerifyRequest) (model.VerifyOutcome, error) {
	return c.verify(ctx, "/Customer/VerifyEmail", req, "OTP verification failed.")
}

// VerifyForgotPasswordOTP はパスワード再設定のワンタイムコードを検証する。
func (c *Client) VerifyForgotPasswordOTP(ctx context.Context, req model.VerifyRequest) (model.VerifyOutcome, error) {
	return c.verify(ctx, "/Customer/VerifyForgotPasswordOTP", req, "OTP verification failed.")
}

func (c *Client) verify(ctx context.Context, path string, req model.VerifyRequest, fallback string) (model.VerifyOutcome, error) {
	if err := model.Validate(req); err != nil {
		return nil, err
	}
	var data *model.VerifyData
	if _, err := c.postPublicJSON(ctx, path, req, fallback, &data); err != nil {
		return nil, err
	}
	return data.Outcome(req.Email), nil
}

// ResendOTP はワンタイムコードを再送させる。
func (c *Client) ResendOTP(ctx context.Context, req model.ResendRequest) (string, error) {
	if err := model.Validate(req); err != nil {
		return "", err
	}
	return c.postPublicJSON(ctx, "/Customer/ResendOTP", req, "Failed to resend OTP.", nil)
}

// ResetPassword は新しいパスワードを設定する。
func (c *Client) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) (string, error) {
	if err := model.Validate(req); err != nil {
		return "", err
	}
	return c.postJSON(ctx, "/Customer/ResetPassword", req, "Failed to reset password", nil)
}

// GoogleSignIn はGoogleのID資格情報をバックエンドのトークンに交換する。
func (c *Client) GoogleSignIn(ctx context.Context, credential string, cc model.ClientContext) (*AuthData, error) {
	req := model.GoogleSignInRequest{
		Credential:       credential,
		UserType:         c.userType,
		IPAddress:        cc.IP,
		CustomerLocation: model.StringPtr(cc.Location()),
		CountryID:        countryID(cc),
		CustomerTimezone: cc.Timezone,
		Latitude:         cc.Latitude,
		Longitude:        cc.Longitude,
	}
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	var data AuthData
	msg, err := c.postPublicJSON(ctx, "/Customer/GoogleSignIn", req, "Google sign-in failed. Please try again.", &data)
	if err != nil {
		return nil, err
	}
	if data.Token == "" {
		if msg == "" {
			msg = "Sign-in failed"
		}
		return nil, model.NewBackendRejectedError(msg, 200)
	}
	return &data, nil
}

// CompleteOnboarding はサインアップ後のプロフィールを登録する。
// プロフィール画像が指定されている場合はmultipartで送信する。
func (c *Client) CompleteOnboarding(ctx context.Context, req model.OnboardingRequest) (string, error) {
	if err := model.Validate(req); err != nil {
		return "", err
	}

	form := newMultipartForm()
	form.field("email", req.Email)
	form.field("userId", req.UserID)
	form.field("displayName", req.DisplayName)
	form.field("name", req.Name)
	form.field("surname", req.Surname)
	form.field("companyName", req.CompanyName)
	if req.ProfilePicPath != "" {
		form.file("profilePic", req.ProfilePicPath)
	}

	return c.postMultipart(ctx, "/Customer/CompleteSignup", form, "Failed to complete profile.", nil)
}
