// Package model はドメインモデルを定義する。
package model

// UserProfile はログイン中ユーザーのプロフィールを表す。
// バックエンドのログインレスポンスの data オブジェクトと同じキーで永続化される。
type UserProfile struct {
	UserID         string `json:"userId"`
	Email          string `json:"email"`
	UserName       string `json:"userName"`
	DisplayName    string `json:"displayName"`
	UserRole       string `json:"userRole"`
	ProfilePicture string `json:"profilePicture"`
	UserType       string `json:"userType"`
}

// Label は表示用の名前を返す。表示名がなければメールアドレスを使う。
func (p *UserProfile) Label() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// Session はクライアントが保持する認証済みアイデンティティを表す。
// トークンとプロフィールは常にセットで作成・破棄される。
type Session struct {
	Token   string
	Profile *UserProfile
}

// Present はトークンが存在するかを返す。
func (s *Session) Present() bool {
	return s != nil && s.Token != ""
}
