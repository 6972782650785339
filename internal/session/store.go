// Package session は認証トークンとユーザープロフィールを永続化するセッションストアを提供する。
//
// セッションは「トークンとプロフィールが揃って存在する」か「両方とも無い」かのどちらかで、
// 書き込みと削除は常に2つのキーをまとめて行う。
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/clientalio/internal/model"
	"github.com/hitoshi/clientalio/internal/repository"
)

// 永続化キー
const (
	TokenKey   = "clientalio_token"
	ProfileKey = "clientalio_user"
)

// Store はセッションの唯一の所有者。他のコンポーネントは保存先に直接触れない。
type Store struct {
	kv     repository.KeyValueStore
	logger *slog.Logger
}

// NewStore はStoreを生成する。
func NewStore(kv repository.KeyValueStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// SetSession はトークンとプロフィールを1回の書き込みで保存する。
// 戻った直後から IsAuthenticated は true を返す。
func (s *Store) SetSession(ctx context.Context, token string, profile model.UserProfile) error {
	if token == "" {
		return model.NewValidationError("session token is required")
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	if err := s.kv.SetMany(ctx, map[string]string{
		TokenKey:   token,
		ProfileKey: string(data),
	}); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("session stored", slog.String("user_id", profile.UserID))
	return nil
}

// GetSession は保存されたプロフィールを返す。トークンの有効性は確認しない。
// プロフィールが無い、または読み取れない場合は nil を返す。
func (s *Store) GetSession(ctx context.Context) (*model.UserProfile, error) {
	raw, ok, err := s.kv.Get(ctx, ProfileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var profile model.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.logger.Warn("stored profile is corrupt, treating as absent",
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &profile, nil
}

// GetToken は保存されたベアラートークンを返す。無い場合は空文字を返す。
func (s *Store) GetToken(ctx context.Context) (string, error) {
	token, _, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return token, nil
}

// IsAuthenticated はトークンが保存されているかを返す。
// プロフィールの有無は確認しない。
func (s *Store) IsAuthenticated(ctx context.Context) (bool, error) {
	token, err := s.GetToken(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// ClearSession はトークンとプロフィールをまとめて削除する。
func (s *Store) ClearSession(ctx context.Context) error {
	if err := s.kv.DeleteMany(ctx, TokenKey, ProfileKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.logger.Info("session cleared")
	return nil
}

// Snapshot は表示用にトークンとプロフィールをまとめて返す。
func (s *Store) Snapshot(ctx context.Context) (model.Session, error) {
	token, err := s.GetToken(ctx)
	if err != nil {
		return model.Session{}, err
	}
	profile, err := s.GetSession(ctx)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{Token: token, Profile: profile}, nil
}
