// Package verification はメールアドレス入力からワンタイムコード検証を経て
// セッション確立までを進めるアカウント検証フローを提供する。
//
// 新規登録とパスワード再設定の2つの入口は同じ状態遷移を共有する。
//
//	EMAIL_ENTRY → CODE_PENDING → AUTO_LOGIN_IN_PROGRESS → AUTHENTICATED
//	                           ↘ RESET_REQUIRED（再設定で一時資格情報が無い場合）
//	                           ↘ FAILED（Restart で EMAIL_ENTRY に戻る）
//
// Flow のメソッドはすべてゴルーチンセーフ。ネットワーク呼び出し中はロックを保持せず、
// busy フラグで同時送信を拒否する。
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/clientalio/internal/api"
	"github.com/hitoshi/clientalio/internal/geo"
	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/model"
)

// Purpose はフローの入口。
type Purpose string

const (
	PurposeSignup   Purpose = "signup"
	PurposeRecovery Purpose = "recovery"
)

// State はフローの状態。
type State string

const (
	StateEmailEntry    State = "EMAIL_ENTRY"
	StateCodePending   State = "CODE_PENDING"
	StateAutoLogin     State = "AUTO_LOGIN_IN_PROGRESS"
	StateAuthenticated State = "AUTHENTICATED"
	StateResetRequired State = "RESET_REQUIRED"
	StateFailed        State = "FAILED"
)

// Next はフロー完了後の遷移先。
type Next string

const (
	NextNone          Next = ""
	NextOnboarding    Next = "onboarding"
	NextResetPassword Next = "reset-password"
)

const (
	defaultCountdown  = 210 * time.Second
	defaultCodeLength = 4
)

// Backend はフローが使用するバックエンドAPI。api.Client がこれを満たす。
type Backend interface {
	RegistrationFor(email string, cc model.ClientContext, recaptchaToken string) model.RegistrationRequest
	ForgotPasswordFor(email string, cc model.ClientContext) model.ForgotPasswordRequest
	RegisterEmail(ctx context.Context, req model.RegistrationRequest) (string, error)
	ForgotPassword(ctx context.Context, req model.ForgotPasswordRequest) (string, error)
	VerifyOTP(ctx context.Context, req model.VerifyRequest) (model.VerifyOutcome, error)
	VerifyForgotPasswordOTP(ctx context.Context, req model.VerifyRequest) (model.VerifyOutcome, error)
	Login(ctx context.Context, req model.LoginRequest) (*api.AuthData, error)
}

// SessionWriter はセッションを保存する。session.Store がこれを満たす。
type SessionWriter interface {
	SetSession(ctx context.Context, token string, profile model.UserProfile) error
}

// Challenge はボット検証のゲート。captcha.Gate がこれを満たす。
type Challenge interface {
	Require(cc model.ClientContext) (string, error)
	Consume()
}

// Config はフローの設定。
type Config struct {
	Countdown    time.Duration // コード有効期限のカウントダウン
	CodeLength   int           // コードの桁数
	TickInterval time.Duration // RunCountdown の刻み
}

// Deps はフローの依存関係。
type Deps struct {
	Backend   Backend
	Sessions  SessionWriter
	Resolver  geo.ContextResolver
	Challenge Challenge // nilの場合チャレンジは課さない
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
	Now       func() time.Time
}

// PendingVerification は進行中のワンタイムコード検証。
type PendingVerification struct {
	Email      string
	Purpose    Purpose
	Remaining  int // 秒
	LastSentAt time.Time
}

// Result はフロー完了時の結果。
type Result struct {
	Next        Next
	Profile     *model.UserProfile
	ResetTarget *model.ResetTarget
	Code        string // RESET_REQUIRED の場合のみ、検証済みのコード
}

// Flow はアカウント検証フローの1インスタンス。
type Flow struct {
	purpose Purpose
	cfg     Config
	deps    Deps

	mu       sync.Mutex
	state    State
	email    string
	agreed   bool
	cc       *model.ClientContext
	pending  *PendingVerification
	digits   []string
	busy     bool
	lastErr  error
	lastInfo string
}

// NewFlow はEMAIL_ENTRY状態のフローを生成する。
func NewFlow(purpose Purpose, cfg Config, deps Deps) *Flow {
	if cfg.Countdown <= 0 {
		cfg.Countdown = defaultCountdown
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Flow{
		purpose: purpose,
		cfg:     cfg,
		deps:    deps,
		state:   StateEmailEntry,
		digits:  make([]string, cfg.CodeLength),
	}
}

// Purpose はフローの入口を返す。
func (f *Flow) Purpose() Purpose {
	return f.purpose
}

// State は現在の状態を返す。
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Email は入力済みのメールアドレスを返す。
func (f *Flow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

// Pending は進行中の検証のコピーを返す。
func (f *Flow) Pending() (PendingVerification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return PendingVerification{}, false
	}
	return *f.pending, true
}

// LastError は直近の操作で発生したエラーを返す。
func (f *Flow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// LastMessage はバックエンドが直近に返した成功メッセージを返す。
func (f *Flow) LastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInfo
}

// Busy はリクエストが進行中かを返す。
func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// ClientContext は解決済みのClientContextを返す。未解決の場合は ok=false。
func (f *Flow) ClientContext() (model.ClientContext, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cc == nil {
		return model.ClientContext{}, false
	}
	return *f.cc, true
}

// SetEmail はメールアドレスを設定する。EMAIL_ENTRY でのみ変更できる。
func (f *Flow) SetEmail(email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateEmailEntry {
		return model.NewInvalidStateError("SetEmail", string(f.state))
	}
	f.email = strings.TrimSpace(email)
	return nil
}

// AgreeToTerms は利用規約への同意を設定する。新規登録の前提条件。
func (f *Flow) AgreeToTerms(agreed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agreed = agreed
}

// ChallengeRequired はClientContextを解決し、送信前にボット検証が必要かを返す。
func (f *Flow) ChallengeRequired(ctx context.Context, home string) bool {
	return geo.RequiresChallenge(f.clientContext(ctx), home)
}

// clientContext はClientContextを遅延解決する。解決結果はRestart後も保持する。
func (f *Flow) clientContext(ctx context.Context) model.ClientContext {
	f.mu.Lock()
	if f.cc != nil {
		cc := *f.cc
		f.mu.Unlock()
		return cc
	}
	f.mu.Unlock()

	cc := model.UnknownClientContext()
	if f.deps.Resolver != nil {
		cc = f.deps.Resolver.Resolve(ctx)
	}

	f.mu.Lock()
	if f.cc == nil {
		f.cc = &cc
	}
	cc = *f.cc
	f.mu.Unlock()
	return cc
}

// begin は状態を確認してbusyを立てる。呼び出し元はロックを保持していること。
func (f *Flow) begin(op string, want State) error {
	if f.state != want {
		return model.NewInvalidStateError(op, string(f.state))
	}
	if f.busy {
		return model.NewRequestInFlightError()
	}
	f.busy = true
	f.lastErr = nil
	return nil
}

// fail はbusyを下ろしてエラーを記録する。
func (f *Flow) fail(err error) error {
	f.mu.Lock()
	f.busy = false
	f.lastErr = err
	f.mu.Unlock()
	return err
}

// SubmitEmail は登録（またはパスワード再設定コード送信）リクエストを送信する。
// 入力の検証とボット検証の確認はネットワーク呼び出しの前に行う。
// 成功するとCODE_PENDINGに遷移し、バックエンドのメッセージを返す。
func (f *Flow) SubmitEmail(ctx context.Context) (string, error) {
	f.mu.Lock()
	if f.state != StateEmailEntry {
		f.mu.Unlock()
		return "", model.NewInvalidStateError("SubmitEmail", string(f.state))
	}
	if err := model.ValidateEmail(f.email); err != nil {
		f.lastErr = err
		f.mu.Unlock()
		return "", err
	}
	if f.purpose == PurposeSignup && !f.agreed {
		err := model.NewValidationError("Please agree to the Terms and Privacy Policy")
		f.lastErr = err
		f.mu.Unlock()
		return "", err
	}
	if err := f.begin("SubmitEmail", StateEmailEntry); err != nil {
		f.mu.Unlock()
		return "", err
	}
	email := f.email
	f.mu.Unlock()

	msg, err := f.send(ctx, email)
	if err != nil {
		outcome := "email_rejected"
		if model.HasCode(err, model.ErrCodeChallengeRequired) || model.HasCode(err, model.ErrCodeChallengeNotReady) {
			outcome = "challenge_missing"
		}
		f.deps.Metrics.RecordVerification(string(f.purpose), outcome)
		return "", f.fail(err)
	}

	f.mu.Lock()
	f.busy = false
	f.pending = &PendingVerification{
		Email:      email,
		Purpose:    f.purpose,
		Remaining:  int(f.cfg.Countdown / time.Second),
		LastSentAt: f.deps.Now(),
	}
	f.clearDigits()
	f.state = StateCodePending
	f.lastInfo = msg
	f.mu.Unlock()

	f.deps.Metrics.RecordVerification(string(f.purpose), "code_sent")
	f.deps.Logger.Info("verification code sent",
		slog.String("purpose", string(f.purpose)),
		slog.String("email", email),
	)
	return msg, nil
}

// send は入口に応じた送信リクエストを発行する。
// 新規登録ではボット検証トークンを1回の送信ごとに消費する。
func (f *Flow) send(ctx context.Context, email string) (string, error) {
	cc := f.clientContext(ctx)

	if f.purpose == PurposeRecovery {
		return f.deps.Backend.ForgotPassword(ctx, f.deps.Backend.ForgotPasswordFor(email, cc))
	}

	token := ""
	if f.deps.Challenge != nil {
		t, err := f.deps.Challenge.Require(cc)
		if err != nil {
			return "", err
		}
		token = t
		defer f.deps.Challenge.Consume()
	}
	return f.deps.Backend.RegisterEmail(ctx, f.deps.Backend.RegistrationFor(email, cc, token))
}

// Resend はコードを再送する。カウントダウンが0になるまでは利用できない。
// 成功するとカウントダウンを戻し、入力済みの桁を消去する。
func (f *Flow) Resend(ctx context.Context) (string, error) {
	f.mu.Lock()
	if f.state == StateCodePending && f.pending != nil && f.pending.Remaining > 0 {
		remaining := f.pending.Remaining
		f.mu.Unlock()
		return "", model.NewResendNotAvailableError(remaining)
	}
	if err := f.begin("Resend", StateCodePending); err != nil {
		f.mu.Unlock()
		return "", err
	}
	email := f.email
	f.mu.Unlock()

	msg, err := f.send(ctx, email)
	if err != nil {
		return "", f.fail(err)
	}

	f.mu.Lock()
	f.busy = false
	if f.pending == nil {
		f.pending = &PendingVerification{Email: email, Purpose: f.purpose}
	}
	f.pending.Remaining = int(f.cfg.Countdown / time.Second)
	f.pending.LastSentAt = f.deps.Now()
	f.clearDigits()
	f.lastInfo = msg
	f.mu.Unlock()

	f.deps.Metrics.RecordVerification(string(f.purpose), "code_resent")
	return msg, nil
}

// Verify は入力されたコードを検証する。検証呼び出しは1回だけ行う。
// 一時資格情報が返された場合はそのままログインしてセッションを確立する。
func (f *Flow) Verify(ctx context.Context) (*Result, error) {
	f.mu.Lock()
	if f.state == StateCodePending && !f.codeComplete() {
		err := model.NewIncompleteCodeError()
		f.lastErr = err
		f.mu.Unlock()
		return nil, err
	}
	if err := f.begin("Verify", StateCodePending); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	req := model.VerifyRequest{Email: f.email, OTP: strings.Join(f.digits, "")}
	f.mu.Unlock()

	verify := f.deps.Backend.VerifyOTP
	if f.purpose == PurposeRecovery {
		verify = f.deps.Backend.VerifyForgotPasswordOTP
	}

	outcome, err := verify(ctx, req)
	if err != nil {
		f.deps.Metrics.RecordVerification(string(f.purpose), "code_rejected")
		// 拒否されたコードは再入力させる。残った桁に1桁足しただけで再送信されないようにする。
		f.mu.Lock()
		f.clearDigits()
		f.mu.Unlock()
		return nil, f.fail(err)
	}

	switch o := outcome.(type) {
	case model.AutoLoginCredential:
		return f.autoLogin(ctx, o)
	case model.ResetTarget:
		return f.resetRequired(o, req.OTP)
	default:
		return nil, f.finish(StateFailed, fmt.Errorf("unexpected verify outcome %T", outcome), "failed")
	}
}

// autoLogin は一時資格情報でログインする。資格情報は1回で消費される。
func (f *Flow) autoLogin(ctx context.Context, cred model.AutoLoginCredential) (*Result, error) {
	f.mu.Lock()
	f.state = StateAutoLogin
	f.pending = nil
	f.mu.Unlock()

	data, err := f.deps.Backend.Login(ctx, model.LoginRequest{Email: cred.Email, Password: cred.Password})
	if err == nil {
		err = f.deps.Sessions.SetSession(ctx, data.Token, data.UserProfile)
	}
	if err != nil {
		f.deps.Logger.Warn("auto-login failed",
			slog.String("purpose", string(f.purpose)),
			slog.String("error", err.Error()),
		)
		return nil, f.finish(StateFailed, model.NewAutoLoginFailedError(err), "auto_login_failed")
	}

	profile := data.UserProfile
	result := &Result{Profile: &profile, Next: NextOnboarding}
	if f.purpose == PurposeRecovery {
		userID := profile.UserID
		if userID == "" {
			userID = cred.UserID
		}
		result.Next = NextResetPassword
		result.ResetTarget = &model.ResetTarget{Email: profile.Email, UserID: userID}
	}

	f.finish(StateAuthenticated, nil, "authenticated")
	f.deps.Logger.Info("verification completed",
		slog.String("purpose", string(f.purpose)),
		slog.String("user_id", profile.UserID),
	)
	return result, nil
}

// resetRequired は一時資格情報が発行されなかった場合を処理する。
// 新規登録では自動ログインできないため失敗とする。
func (f *Flow) resetRequired(target model.ResetTarget, code string) (*Result, error) {
	if f.purpose == PurposeSignup {
		return nil, f.finish(StateFailed, model.NewMissingCredentialError(), "missing_credential")
	}

	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
	f.finish(StateResetRequired, nil, "reset_required")

	return &Result{Next: NextResetPassword, ResetTarget: &target, Code: code}, nil
}

// finish は終端状態に遷移する。
func (f *Flow) finish(state State, err error, outcome string) error {
	f.mu.Lock()
	f.state = state
	f.busy = false
	f.lastErr = err
	f.pending = nil
	f.mu.Unlock()

	f.deps.Metrics.RecordVerification(string(f.purpose), outcome)
	return err
}

// Restart はフローをEMAIL_ENTRYに戻す。解決済みのClientContextとメールアドレスは保持する。
func (f *Flow) Restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateEmailEntry
	f.pending = nil
	f.busy = false
	f.lastErr = nil
	f.lastInfo = ""
	f.clearDigits()
}
