// Package testimonial は推薦コンテンツの一覧取得と、一覧に対する検索・集計を提供する。
package testimonial

import (
	"slices"
	"strings"

	"github.com/hitoshi/clientalio/internal/model"
)

// Search はキーワードに一致する推薦を返す。大文字小文字は区別しない。
// 対象はクライアント名、会社名、職種、本文、メールアドレス、カテゴリ。
// キーワードが空白のみの場合は一覧をそのまま返す。
func Search(list []model.Testimonial, keyword string) []model.Testimonial {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return list
	}

	out := make([]model.Testimonial, 0, len(list))
	for _, t := range list {
		if matches(t, keyword) {
			out = append(out, t)
		}
	}
	return out
}

func matches(t model.Testimonial, keyword string) bool {
	for _, field := range []string{
		t.ClientName,
		t.CompanyLabel(),
		t.WorkTitle,
		t.TextRecorded,
		t.ClientEmail,
		t.Category,
	} {
		if strings.Contains(strings.ToLower(field), keyword) {
			return true
		}
	}
	return false
}

// AverageRating は評価の平均を返す。0以下の評価（未評価）は除外し、対象が無ければ0。
func AverageRating(list []model.Testimonial) float64 {
	var sum, n int
	for _, t := range list {
		if t.Ratings > 0 {
			sum += t.Ratings
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// SortByNewest は作成日時の新しい順に並べたコピーを返す。同時刻は元の順序を保つ。
func SortByNewest(list []model.Testimonial) []model.Testimonial {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b model.Testimonial) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Selection は埋め込みウィジェットに載せる推薦の選択状態。選択順を保持する。
type Selection struct {
	ids []string
}

// NewSelection は指定したIDを選択済みにしたSelectionを返す。重複は除く。
func NewSelection(ids ...string) *Selection {
	s := &Selection{}
	for _, id := range ids {
		if id != "" && !s.Contains(id) {
			s.ids = append(s.ids, id)
		}
	}
	return s
}

// Toggle は選択を切り替え、切り替え後に選択されているかを返す。
func (s *Selection) Toggle(id string) bool {
	if i := slices.Index(s.ids, id); i >= 0 {
		s.ids = slices.Delete(s.ids, i, i+1)
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Contains はIDが選択されているかを返す。
func (s *Selection) Contains(id string) bool {
	return slices.Contains(s.ids, id)
}

// IDs は選択済みのIDを選択順で返す。
func (s *Selection) IDs() []string {
	return slices.Clone(s.ids)
}

// Len は選択数を返す。
func (s *Selection) Len() int {
	return len(s.ids)
}

// Filter は選択済みの推薦だけを選択順で返す。選択が空の場合は一覧をそのまま返す。
func (s *Selection) Filter(list []model.Testimonial) []model.Testimonial {
	if s == nil || len(s.ids) == 0 {
		return list
	}
	byID := make(map[string]model.Testimonial, len(list))
	for _, t := range list {
		byID[t.ID] = t
	}
	out := make([]model.Testimonial, 0, len(s.ids))
	for _, id := range s.ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}
