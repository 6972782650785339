// Package auth はログイン、Googleサインイン、パスワード再設定、ログアウトを提供する。
// 成功した認証はすべてセッションストアに保存される。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/clientalio/internal/api"
	"github.com/hitoshi/clientalio/internal/geo"
	"github.com/hitoshi/clientalio/internal/model"
)

// Backend は認証に使用するバックエンドAPI。api.Client がこれを満たす。
type Backend interface {
	Login(ctx context.Context, req model.LoginRequest) (*api.AuthData, error)
	GoogleSignIn(ctx context.Context, credential string, cc model.ClientContext) (*api.AuthData, error)
	ResetPassword(ctx context.Context, req model.ResetPasswordRequest) (string, error)
}

// SessionWriter はセッションの保存と破棄を行う。session.Store がこれを満たす。
type SessionWriter interface {
	SetSession(ctx context.Context, token string, profile model.UserProfile) error
	ClearSession(ctx context.Context) error
}

// GoogleVerifier はGoogleサインインURLの生成とIDトークンの検証を行う。GoogleProvider がこれを満たす。
type GoogleVerifier interface {
	LoginURL(nonce string) string
	VerifyCredential(ctx context.Context, credential string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	backend  Backend
	sessions SessionWriter
	resolver geo.ContextResolver
	google   GoogleVerifier
	logger   *slog.Logger
}

// NewService はServiceを生成する。googleがnilの場合はIDトークンのローカル検証を行わない。
func NewService(backend Backend, sessions SessionWriter, resolver geo.ContextResolver, google GoogleVerifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  backend,
		sessions: sessions,
		resolver: resolver,
		google:   google,
		logger:   logger,
	}
}

// Login はメールアドレスとパスワードでログインし、セッションを保存する。
func (s *Service) Login(ctx context.Context, email, password string) (*model.UserProfile, error) {
	req := model.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	data, err := s.backend.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, data, "password")
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context) error {
	return s.sessions.ClearSession(ctx)
}

// GoogleLoginURL はGoogleサインインURLと、その生成に使ったnonceを返す。
func (s *Service) GoogleLoginURL() (string, string, error) {
	if s.google == nil {
		return "", "", model.NewValidationError("GOOGLE_CLIENT_ID is not configured")
	}
	nonce := uuid.NewString()
	return s.google.LoginURL(nonce), nonce, nil
}

// GoogleSignIn はGoogleのIDトークンを検証し、ClientContextを付けてバックエンドのトークンに交換する。
func (s *Service) GoogleSignIn(ctx context.Context, credential string) (*model.UserProfile, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, model.NewGoogleTokenRejectedError("No credential found in URL")
	}

	if s.google != nil {
		if err := s.google.VerifyCredential(ctx, credential); err != nil {
			return nil, err
		}
	}

	cc := model.UnknownClientContext()
	if s.resolver != nil {
		cc = s.resolver.Resolve(ctx)
	}

	data, err := s.backend.GoogleSignIn(ctx, credential, cc)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, data, "google")
}

func (s *Service) establish(ctx context.Context, data *api.AuthData, method string) (*model.UserProfile, error) {
	profile := data.UserProfile
	if err := s.sessions.SetSession(ctx, data.Token, profile); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	s.logger.Info("user logged in",
		slog.String("user_id", profile.UserID),
		slog.String("method", method),
	)
	return &profile, nil
}

// ResetPasswordInput はパスワード再設定の入力内容。
type ResetPasswordInput struct {
	UserID   string
	Email    string
	Password string
	Confirm  string
}

// ResetPassword は入力をローカルで検証してからパスワードを再設定する。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (string, error) {
	if in.Password != in.Confirm {
		return "", model.NewValidationError("Passwords do not match")
	}
	if len(in.Password) < 6 {
		return "", model.NewValidationError("Password must be at least 6 characters")
	}

	msg, err := s.backend.ResetPassword(ctx, model.ResetPasswordRequest{
		ID:       in.UserID,
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
	})
	if err != nil {
		return "", err
	}
	if msg == "" {
		msg = "Password reset successfully!"
	}
	return msg, nil
}
