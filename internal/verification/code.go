package verification

import (
	"strings"

	"github.com/hitoshi/clientalio/internal/model"
)

// SetDigit はi番目の桁を設定し、次にフォーカスする桁を返す。
// 受け付けるのは空文字か1文字のASCII数字のみで、それ以外は変更せず ok=false を返す。
func (f *Flow) SetDigit(i int, s string) (next int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i < 0 || i >= len(f.digits) || !isDigitOrEmpty(s) {
		return i, false
	}
	f.digits[i] = s
	if s != "" && i < len(f.digits)-1 {
		return i + 1, true
	}
	return i, true
}

// Backspace はi番目の桁を消去する。すでに空の場合は前の桁にフォーカスを戻す。
func (f *Flow) Backspace(i int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i < 0 || i >= len(f.digits) {
		return i
	}
	if f.digits[i] != "" {
		f.digits[i] = ""
		return i
	}
	if i > 0 {
		return i - 1
	}
	return i
}

// EnterCode はコード全体を一度に入力する（貼り付け相当）。
// 空白は無視し、数字以外を含む場合や桁数を超える場合はバリデーションエラーを返す。
func (f *Flow) EnterCode(code string) error {
	code = strings.Join(strings.Fields(code), "")

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(code) > len(f.digits) {
		return model.NewValidationError("Please enter complete OTP")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return model.NewValidationError("otp must contain only digits")
		}
	}

	f.clearDigits()
	for i, r := range code {
		f.digits[i] = string(r)
	}
	return nil
}

// Digits は入力済みの桁のコピーを返す。
func (f *Flow) Digits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.digits...)
}

// Code は入力済みの桁を連結した文字列を返す。
func (f *Flow) Code() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.digits, "")
}

// CodeComplete はすべての桁が入力済みかを返す。
func (f *Flow) CodeComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codeComplete()
}

// CanVerify は検証を送信できるかを返す。
// CODE_PENDING で全桁が入力済み、リクエスト中でなく、カウントダウンが残っている場合のみ true。
func (f *Flow) CanVerify() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateCodePending &&
		f.codeComplete() &&
		!f.busy &&
		f.pending != nil && f.pending.Remaining > 0
}

func (f *Flow) codeComplete() bool {
	for _, d := range f.digits {
		if d == "" {
			return false
		}
	}
	return true
}

func (f *Flow) clearDigits() {
	for i := range f.digits {
		f.digits[i] = ""
	}
}

func isDigitOrEmpty(s string) bool {
	return s == "" || (len(s) == 1 && s[0] >= '0' && s[0] <= '9')
}
