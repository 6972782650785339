package testimonial

import (
	"context"
	"log/slog"

	"github.com/hitoshi/clientalio/internal/model"
)

// 既定のウォールの見出し
const (
	DefaultWallTitle    = "What our clients says about us!"
	DefaultWallSubtitle = "Read the our client's experience with clientalio."
)

// Backend は推薦とプランの取得に使用するバックエンドAPI。api.Client がこれを満たす。
type Backend interface {
	GetTestimonials(ctx context.Context, userID string) ([]model.Testimonial, error)
	GetWallTestimonials(ctx context.Context) (*model.Wall, error)
	GetSubscriptionPlans(ctx context.Context) ([]model.SubscriptionPlan, error)
}

// SessionReader はログイン中の利用者を読み取る。session.Store がこれを満たす。
type SessionReader interface {
	GetSession(ctx context.Context) (*model.UserProfile, error)
}

// Service は推薦とプランの取得を提供する。
type Service struct {
	backend  Backend
	sessions SessionReader
	logger   *slog.Logger
}

// NewService はServiceを生成する。sessionsがnilの場合、userID付きのウォールは常に他者のものとして扱う。
func NewService(backend Backend, sessions SessionReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, sessions: sessions, logger: logger}
}

// List は推薦一覧を新しい順で返す。keywordが空でなければ絞り込む。
func (s *Service) List(ctx context.Context, userID, keyword string) ([]model.Testimonial, error) {
	list, err := s.backend.GetTestimonials(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Search(SortByNewest(list), keyword), nil
}

// Wall はuserIDのウォールの内容を返す。
// ウォールのエンドポイントはログイン中の利用者のものしか返さないため、
// 他の利用者のウォールは推薦一覧から既定の見出しで組み立てる。
// 自分のウォールの取得に失敗した場合も推薦一覧にフォールバックする。
// セッション切れはフォールバックせずにそのまま返す。
func (s *Service) Wall(ctx context.Context, userID string) (*model.Wall, error) {
	if !s.ownsWall(ctx, userID) {
		list, err := s.backend.GetTestimonials(ctx, userID)
		if err != nil {
			return nil, err
		}
		return withDefaults(&model.Wall{Testimonials: list}), nil
	}

	wall, err := s.backend.GetWallTestimonials(ctx)
	if err == nil {
		return withDefaults(wall), nil
	}
	if model.IsUnauthorized(err) {
		return nil, err
	}

	s.logger.Warn("wall endpoint failed, falling back to testimonials",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)

	list, fallbackErr := s.backend.GetTestimonials(ctx, userID)
	if fallbackErr != nil {
		s.logger.Error("testimonials fallback failed",
			slog.String("user_id", userID),
			slog.String("error", fallbackErr.Error()),
		)
		return nil, fallbackErr
	}
	return withDefaults(&model.Wall{Testimonials: list}), nil
}

// ownsWall はuserIDがログイン中の利用者（または未指定）かを返す。
func (s *Service) ownsWall(ctx context.Context, userID string) bool {
	if userID == "" {
		return true
	}
	if s.sessions == nil {
		return false
	}
	profile, err := s.sessions.GetSession(ctx)
	if err != nil {
		s.logger.Warn("failed to read session for wall owner",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return profile != nil && profile.UserID == userID
}

func withDefaults(w *model.Wall) *model.Wall {
	out := *w
	if out.Title == "" {
		out.Title = DefaultWallTitle
	}
	if out.Subtitle == "" {
		out.Subtitle = DefaultWallSubtitle
	}
	if out.Testimonials == nil {
		out.Testimonials = []model.Testimonial{}
	}
	return &out
}

// PlanSummary はプラン一覧と現在契約中のプラン。
type PlanSummary struct {
	Plans   []model.SubscriptionPlan
	Current *model.SubscriptionPlan
}

// Plans はサブスクリプションプラン一覧を取得し、契約中のプランを特定する。
func (s *Service) Plans(ctx context.Context) (*PlanSummary, error) {
	plans, err := s.backend.GetSubscriptionPlans(ctx)
	if err != nil {
		return nil, err
	}

	summary := &PlanSummary{Plans: plans}
	for i := range plans {
		if plans[i].IsOpted {
			summary.Current = &plans[i]
			break
		}
	}
	return summary, nil
}
