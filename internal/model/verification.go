package model

// VerifyOutcome はワンタイムコード検証成功時の結果。
// AutoLoginCredential か ResetTarget のどちらか一方を表すタグ付き共用体。
type VerifyOutcome interface {
	verifyOutcome()
}

// AutoLoginCredential は自動ログイン用に発行された一時的なメールアドレスとパスワード。
type AutoLoginCredential struct {
	Email    string
	Password string
	UserID   string
}

// ResetTarget は一時資格情報が発行されなかった場合のパスワード再設定対象。
type ResetTarget struct {
	Email  string
	UserID string
}

func (AutoLoginCredential) verifyOutcome() {}
func (ResetTarget) verifyOutcome()         {}

// VerifyData は検証APIレスポンスの data オブジェクト。
// 判別用フィールドが無いため、フィールドの有無から VerifyOutcome を決定する。
type VerifyData struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserID   string `json:"userId"`
	ID       string `json:"id"`
}

// Outcome は VerifyData を VerifyOutcome に変換する。
// email と password が揃っていれば AutoLoginCredential、それ以外は ResetTarget。
// fallbackEmail は data に email が含まれない場合に使う。
func (d *VerifyData) Outcome(fallbackEmail string) VerifyOutcome {
	if d == nil {
		return ResetTarget{Email: fallbackEmail}
	}
	userID := d.UserID
	if userID == "" {
		userID = d.ID
	}
	if d.Email != "" && d.Password != "" {
		return AutoLoginCredential{Email: d.Email, Password: d.Password, UserID: userID}
	}
	email := d.Email
	if email == "" {
		email = fallbackEmail
	}
	return ResetTarget{Email: email, UserID: userID}
}
