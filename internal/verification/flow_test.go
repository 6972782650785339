package verification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/clientalio/internal/api"
	"github.com/hitoshi/clientalio/internal/captcha"
	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/model"
	"github.com/hitoshi/clientalio/internal/repository"
	"github.com/hitoshi/clientalio/internal/session"
)

// fakeBackend はテスト用のBackend実装。呼び出し回数を記録する。
type fakeBackend struct {
	mu sync.Mutex

	registerErr error
	forgotErr   error
	verifyErr   error
	outcome     model.VerifyOutcome
	loginErr    error
	loginData   *api.AuthData

	registrations []model.RegistrationRequest
	forgots       []model.ForgotPasswordRequest
	verifies      []model.VerifyRequest
	forgotVerify  []model.VerifyRequest
	logins        []model.LoginRequest
}

func (b *fakeBackend) RegistrationFor(email string, cc model.ClientContext, token string) model.RegistrationRequest {
	return model.RegistrationRequest{Email: email, IPAddress: cc.IP, RecaptchaToken: model.StringPtr(token)}
}

func (b *fakeBackend) ForgotPasswordFor(email string, cc model.ClientContext) model.ForgotPasswordRequest {
	return model.ForgotPasswordRequest{Email: email, IPAddress: cc.IP}
}

func (b *fakeBackend) RegisterEmail(_ context.Context, req model.RegistrationRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations = append(b.registrations, req)
	if b.registerErr != nil {
		return "", b.registerErr
	}
	return "OTP sent to your email", nil
}

func (b *fakeBackend) ForgotPassword(_ context.Context, req model.ForgotPasswordRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgots = append(b.forgots, req)
	if b.forgotErr != nil {
		return "", b.forgotErr
	}
	return "Reset code sent", nil
}

func (b *fakeBackend) VerifyOTP(_ context.Context, req model.VerifyRequest) (model.VerifyOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifies = append(b.verifies, req)
	if b.verifyErr != nil {
		return nil, b.verifyErr
	}
	return b.outcome, nil
}

func (b *fakeBackend) VerifyForgotPasswordOTP(_ context.Context, req model.VerifyRequest) (model.VerifyOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgotVerify = append(b.forgotVerify, req)
	if b.verifyErr != nil {
		return nil, b.verifyErr
	}
	return b.outcome, nil
}

func (b *fakeBackend) Login(_ context.Context, req model.LoginRequest) (*api.AuthData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins = append(b.logins, req)
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	return b.loginData, nil
}

type countingResolver struct {
	mu    sync.Mutex
	cc    model.ClientContext
	calls int
}

func (r *countingResolver) Resolve(context.Context) model.ClientContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.cc
}

func (r *countingResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// outcomeRecorder は RecordVerification の結果だけを記録する。
type outcomeRecorder struct {
	metrics.Nop
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) RecordVerification(_, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *outcomeRecorder) Outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

type testFlow struct {
	flow     *Flow
	backend  *fakeBackend
	store    *session.Store
	resolver *countingResolver
	provider *captcha.StaticProvider
}

var indiaContext = model.ClientContext{
	IP: "103.21.0.1", City: "Mumbai", Region: "Maharashtra", Country: "India", CountryCode: "IN", Timezone: "Asia/Kolkata",
}

var usContext = model.ClientContext{
	IP: "8.8.8.8", City: "Mountain View", Region: "California", Country: "United States", CountryCode: "US", Timezone: "America/Los_Angeles",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestFlow(t *testing.T, purpose Purpose, cc model.ClientContext) *testFlow {
	t.Helper()

	backend := &fakeBackend{
		outcome: model.AutoLoginCredential{Email: "a@b.com", Password: "tmp-pass", UserID: "u1"},
		loginData: &api.AuthData{
			Token:       "tok-123",
			UserProfile: model.UserProfile{UserID: "u1", Email: "a@b.com", DisplayName: "A", UserType: "customer"},
		},
	}
	store := session.NewStore(repository.NewMemoryKVStore(), discardLogger())
	resolver := &countingResolver{cc: cc}
	provider := captcha.NewStaticProvider("site-key")
	provider.Init(nil)

	flow := NewFlow(purpose, Config{}, Deps{
		Backend:   backend,
		Sessions:  store,
		Resolver:  resolver,
		Challenge: captcha.NewGate(provider, "IN"),
		Logger:    discardLogger(),
		Now:       func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	return &testFlow{flow: flow, backend: backend, store: store, resolver: resolver, provider: provider}
}

// submitSignup はメールアドレスを送信してCODE_PENDINGまで進める。
func (tf *testFlow) submitSignup(t *testing.T) {
	t.Helper()
	if err := tf.flow.SetEmail("a@b.com"); err != nil {
		t.Fatalf("SetEmail: %v", err)
	}
	tf.flow.AgreeToTerms(true)
	if _, err := tf.flow.SubmitEmail(context.Background()); err != nil {
		t.Fatalf("SubmitEmail: %v", err)
	}
}

func TestSignup_HappyPath(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	ctx := context.Background()

	if ok, _ := tf.store.IsAuthenticated(ctx); ok {
		t.Fatal("should not be authenticated before the flow")
	}

	tf.submitSignup(t)

	if got := tf.flow.State(); got != StateCodePending {
		t.Fatalf("state = %s, want CODE_PENDING", got)
	}
	pending, ok := tf.flow.Pending()
	if !ok {
		t.Fatal("expected a pending verification")
	}
	if pending.Remaining != 210 || pending.Email != "a@b.com" || pending.Purpose != PurposeSignup {
		t.Errorf("pending = %+v", pending)
	}
	if tf.flow.LastMessage() != "OTP sent to your email" {
		t.Errorf("LastMessage = %q", tf.flow.LastMessage())
	}

	if err := tf.flow.EnterCode("1234"); err != nil {
		t.Fatalf("EnterCode: %v", err)
	}
	if !tf.flow.CanVerify() {
		t.Fatal("expected CanVerify with a complete code")
	}

	result, err := tf.flow.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Next != NextOnboarding {
		t.Errorf("Next = %q, want onboarding", result.Next)
	}
	if tf.flow.State() != StateAuthenticated {
		t.Errorf("state = %s, want AUTHENTICATED", tf.flow.State())
	}

	if len(tf.backend.verifies) != 1 || tf.backend.verifies[0].OTP != "1234" {
		t.Errorf("verify calls = %+v, want exactly one with 1234", tf.backend.verifies)
	}
	if len(tf.backend.logins) != 1 || tf.backend.logins[0].Password != "tmp-pass" {
		t.Errorf("login calls = %+v, want one with the temporary password", tf.backend.logins)
	}

	if ok, _ := tf.store.IsAuthenticated(ctx); !ok {
		t.Error("expected authenticated session after verify")
	}
	profile, _ := tf.store.GetSession(ctx)
	if profile == nil || *profile != tf.backend.loginData.UserProfile {
		t.Errorf("stored profile = %+v, want %+v", profile, tf.backend.loginData.UserProfile)
	}
	if _, ok := tf.flow.Pending(); ok {
		t.Error("pending verification should be consumed")
	}
}

func TestSubmitEmail_LocalValidation_NoNetwork(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		agree   bool
		wantMsg string
	}{
		{"empty email", "", true, "email is required"},
		{"bad email", "not-an-email", true, "Please enter a valid email address"},
		{"terms not agreed", "a@b.com", false, "Please agree to the Terms and Privacy Policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tf := newTestFlow(t, PurposeSignup, indiaContext)
			tf.flow.SetEmail(tt.email)
			tf.flow.AgreeToTerms(tt.agree)

			_, err := tf.flow.SubmitEmail(context.Background())
			if !model.HasCode(err, model.ErrCodeValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if got := model.UserMessage(err, ""); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
			if len(tf.backend.registrations) != 0 {
				t.Error("registration must not be called")
			}
			if tf.flow.State() != StateEmailEntry {
				t.Errorf("state = %s, want EMAIL_ENTRY", tf.flow.State())
			}
		})
	}
}

func TestSubmitEmail_ForeignRegistrant_RequiresChallenge(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, usContext)
	tf.flow.SetEmail("a@b.com")
	tf.flow.AgreeToTerms(true)

	if !tf.flow.ChallengeRequired(context.Background(), "IN") {
		t.Fatal("challenge should be required for US registrant")
	}

	_, err := tf.flow.SubmitEmail(context.Background())
	if !model.HasCode(err, model.ErrCodeChallengeRequired) {
		t.Fatalf("err = %v, want CHALLENGE_REQUIRED", err)
	}
	if len(tf.backend.registrations) != 0 {
		t.Fatal("registration must not be called without a challenge token")
	}
	if tf.flow.Busy() {
		t.Error("flow should not stay busy after a local rejection")
	}

	tf.provider.Solve("captcha-token")
	if _, err := tf.flow.SubmitEmail(context.Background()); err != nil {
		t.Fatalf("SubmitEmail after solving: %v", err)
	}
	if len(tf.backend.registrations) != 1 {
		t.Fatalf("registrations = %d, want 1", len(tf.backend.registrations))
	}
	if tok := tf.backend.registrations[0].RecaptchaToken; tok == nil || *tok != "captcha-token" {
		t.Errorf("RecaptchaToken = %v, want captcha-token", tok)
	}
	if tf.provider.Token() != "" {
		t.Error("challenge token should be consumed after submission")
	}
}

func TestSubmitEmail_ChallengeNotReady(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, usContext)
	tf.flow.deps.Challenge = captcha.NewGate(captcha.NewStaticProvider(""), "IN")
	tf.flow.SetEmail("a@b.com")
	tf.flow.AgreeToTerms(true)

	_, err := tf.flow.SubmitEmail(context.Background())
	if !model.HasCode(err, model.ErrCodeChallengeNotReady) {
		t.Fatalf("err = %v, want CHALLENGE_NOT_READY", err)
	}
}

// ボット検証トークンが無いことによるローカルな失敗は、バックエンドの拒否とは別に数える。
func TestSubmitEmail_ChallengeFailureMetric(t *testing.T) {
	rec := &outcomeRecorder{}
	tf := newTestFlow(t, PurposeSignup, usContext)
	tf.flow.deps.Metrics = rec
	tf.flow.SetEmail("a@b.com")
	tf.flow.AgreeToTerms(true)

	if _, err := tf.flow.SubmitEmail(context.Background()); !model.HasCode(err, model.ErrCodeChallengeRequired) {
		t.Fatalf("err = %v, want CHALLENGE_REQUIRED", err)
	}

	tf.backend.registerErr = model.NewBackendRejectedError("Email already registered", 400)
	tf.provider.Solve("captcha-token")
	if _, err := tf.flow.SubmitEmail(context.Background()); !model.HasCode(err, model.ErrCodeBackendRejected) {
		t.Fatalf("err = %v, want BACKEND_REJECTED", err)
	}

	got := rec.Outcomes()
	if len(got) != 2 || got[0] != "challenge_missing" || got[1] != "email_rejected" {
		t.Errorf("outcomes = %v, want [challenge_missing email_rejected]", got)
	}
}

func TestSubmitEmail_IndianRegistrant_NoChallenge(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.submitSignup(t)

	if tok := tf.backend.registrations[0].RecaptchaToken; tok != nil {
		t.Errorf("RecaptchaToken = %q, want null", *tok)
	}
}

func TestSubmitEmail_BackendRejection_StaysInEmailEntry(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.backend.registerErr = model.NewBackendRejectedError("Email already registered", 400)
	tf.flow.SetEmail("a@b.com")
	tf.flow.AgreeToTerms(true)

	_, err := tf.flow.SubmitEmail(context.Background())
	if got := model.UserMessage(err, ""); got != "Email already registered" {
		t.Errorf("message = %q, want backend message verbatim", got)
	}
	if tf.flow.State() != StateEmailEntry {
		t.Errorf("state = %s, want EMAIL_ENTRY", tf.flow.State())
	}
	if !errors.Is(tf.flow.LastError(), err) {
		t.Error("LastError should hold the rejection")
	}
	if _, ok := tf.flow.ClientContext(); !ok {
		t.Error("resolved client context should be kept after a rejection")
	}

	// 再送信ではClientContextを解決し直さない
	tf.backend.registerErr = nil
	if _, err := tf.flow.SubmitEmail(context.Background()); err != nil {
		t.Fatalf("retry SubmitEmail: %v", err)
	}
	if tf.resolver.Calls() != 1 {
		t.Errorf("resolver calls = %d, want 1", tf.resolver.Calls())
	}
}

func TestVerify_IncompleteCode_NoCall(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.submitSignup(t)

	for i, d := range []string{"1", "2", "3"} {
		tf.flow.SetDigit(i, d)
	}
	if tf.flow.CanVerify() {
		t.Fatal("CanVerify should be false with 3 digits")
	}

	_, err := tf.flow.Verify(context.Background())
	if !model.HasCode(err, model.ErrCodeIncompleteCode) {
		t.Fatalf("err = %v, want INCOMPLETE_CODE", err)
	}
	if len(tf.backend.verifies) != 0 {
		t.Error("verify must not be called with an incomplete code")
	}
}

func TestVerify_Rejected_StaysPending(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.backend.verifyErr = model.NewBackendRejectedError("Invalid OTP", 400)
	tf.submitSignup(t)
	tf.flow.EnterCode("9999")

	_, err := tf.flow.Verify(context.Background())
	if got := model.UserMessage(err, ""); got != "Invalid OTP" {
		t.Errorf("message = %q, want Invalid OTP", got)
	}
	if tf.flow.State() != StateCodePending {
		t.Errorf("state = %s, want CODE_PENDING", tf.flow.State())
	}
	if ok, _ := tf.store.IsAuthenticated(context.Background()); ok {
		t.Error("no session should be created")
	}
	if tf.flow.CodeComplete() || tf.flow.CanVerify() {
		t.Error("rejected code should be cleared so a fresh code must be entered")
	}
	if got := tf.flow.Code(); got != "" {
		t.Errorf("Code() = %q, want empty after rejection", got)
	}

	// 新しい4桁を入力すれば再検証できる
	tf.backend.verifyErr = nil
	if err := tf.flow.EnterCode("1234"); err != nil {
		t.Fatalf("EnterCode: %v", err)
	}
	if !tf.flow.CanVerify() {
		t.Error("CanVerify should be true after entering a fresh code")
	}
}

func TestExpiredCode_ResendThenVerify(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.submitSignup(t)
	tf.flow.EnterCode("1234")

	if _, err := tf.flow.Resend(context.Background()); !model.HasCode(err, model.ErrCodeResendNotAvailable) {
		t.Fatalf("Resend before expiry: err = %v, want RESEND_NOT_AVAILABLE", err)
	}

	for i := 0; i < 300; i++ {
		tf.flow.Tick()
	}
	if tf.flow.Remaining() != 0 || !tf.flow.Expired() {
		t.Fatalf("Remaining = %d, want 0", tf.flow.Remaining())
	}
	if tf.flow.CanVerify() {
		t.Error("CanVerify should be false after expiry")
	}

	// 期限切れ後に元のコードを送るとバックエンドが拒否する
	tf.backend.verifyErr = model.NewBackendRejectedError("OTP has expired", 400)
	if _, err := tf.flow.Verify(context.Background()); model.UserMessage(err, "") != "OTP has expired" {
		t.Errorf("Verify after expiry: err = %v", err)
	}
	if ok, _ := tf.store.IsAuthenticated(context.Background()); ok {
		t.Error("no session should be created from an expired code")
	}

	if _, err := tf.flow.Resend(context.Background()); err != nil {
		t.Fatalf("Resend after expiry: %v", err)
	}
	if len(tf.backend.registrations) != 2 {
		t.Errorf("registrations = %d, want 2 (resend re-issues registration)", len(tf.backend.registrations))
	}
	if tf.flow.Remaining() != 210 {
		t.Errorf("Remaining = %d, want 210 after resend", tf.flow.Remaining())
	}
	if tf.flow.Code() != "" {
		t.Errorf("digits should be cleared after resend, got %q", tf.flow.Code())
	}

	tf.backend.verifyErr = nil
	tf.flow.EnterCode("5678")
	if _, err := tf.flow.Verify(context.Background()); err != nil {
		t.Fatalf("Verify after resend: %v", err)
	}
	if tf.flow.State() != StateAuthenticated {
		t.Errorf("state = %s, want AUTHENTICATED", tf.flow.State())
	}
}

func TestVerify_AutoLoginFailure_GoesToFailed(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.backend.loginErr = model.NewBackendRejectedError("Invalid credentials", 401)
	tf.submitSignup(t)
	tf.flow.EnterCode("1234")

	_, err := tf.flow.Verify(context.Background())
	if !model.HasCode(err, model.ErrCodeAutoLoginFailed) {
		t.Fatalf("err = %v, want AUTO_LOGIN_FAILED", err)
	}
	if tf.flow.State() != StateFailed {
		t.Errorf("state = %s, want FAILED", tf.flow.State())
	}
	if ok, _ := tf.store.IsAuthenticated(context.Background()); ok {
		t.Error("no session should be created")
	}

	tf.flow.Restart()
	if tf.flow.State() != StateEmailEntry {
		t.Errorf("state after Restart = %s, want EMAIL_ENTRY", tf.flow.State())
	}
	if _, ok := tf.flow.ClientContext(); !ok {
		t.Error("client context should survive Restart")
	}
	if tf.flow.Email() != "a@b.com" {
		t.Errorf("email after Restart = %q", tf.flow.Email())
	}
}

func TestVerify_SignupWithoutCredential_Fails(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.backend.outcome = model.ResetTarget{Email: "a@b.com", UserID: "u1"}
	tf.submitSignup(t)
	tf.flow.EnterCode("1234")

	_, err := tf.flow.Verify(context.Background())
	if got := model.UserMessage(err, ""); got != "Missing credentials for auto-login" {
		t.Errorf("message = %q", got)
	}
	if tf.flow.State() != StateFailed {
		t.Errorf("state = %s, want FAILED", tf.flow.State())
	}
	if len(tf.backend.logins) != 0 {
		t.Error("login must not be called without a credential")
	}
}

func TestRecovery_AutoLogin(t *testing.T) {
	tf := newTestFlow(t, PurposeRecovery, usContext)
	tf.flow.SetEmail("a@b.com")

	// 再設定ではボット検証も利用規約の同意も不要
	if _, err := tf.flow.SubmitEmail(context.Background()); err != nil {
		t.Fatalf("SubmitEmail: %v", err)
	}
	if len(tf.backend.forgots) != 1 || len(tf.backend.registrations) != 0 {
		t.Fatalf("forgot = %d, registrations = %d", len(tf.backend.forgots), len(tf.backend.registrations))
	}

	tf.flow.EnterCode("4321")
	result, err := tf.flow.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(tf.backend.forgotVerify) != 1 || len(tf.backend.verifies) != 0 {
		t.Error("recovery should use the forgot-password verify endpoint")
	}
	if result.Next != NextResetPassword {
		t.Errorf("Next = %q, want reset-password", result.Next)
	}
	if result.ResetTarget == nil || result.ResetTarget.UserID != "u1" {
		t.Errorf("ResetTarget = %+v", result.ResetTarget)
	}
	if ok, _ := tf.store.IsAuthenticated(context.Background()); !ok {
		t.Error("expected a session after recovery auto-login")
	}
}

func TestRecovery_ResetTarget(t *testing.T) {
	tf := newTestFlow(t, PurposeRecovery, indiaContext)
	tf.backend.outcome = model.ResetTarget{Email: "a@b.com", UserID: "u9"}
	tf.flow.SetEmail("a@b.com")
	if _, err := tf.flow.SubmitEmail(context.Background()); err != nil {
		t.Fatalf("SubmitEmail: %v", err)
	}
	tf.flow.EnterCode("1111")

	result, err := tf.flow.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if tf.flow.State() != StateResetRequired {
		t.Errorf("state = %s, want RESET_REQUIRED", tf.flow.State())
	}
	if result.ResetTarget.UserID != "u9" || result.Code != "1111" {
		t.Errorf("result = %+v", result)
	}
	if ok, _ := tf.store.IsAuthenticated(context.Background()); ok {
		t.Error("no session without auto-login")
	}
}

func TestOperations_InWrongState(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)

	if _, err := tf.flow.Verify(context.Background()); !model.HasCode(err, model.ErrCodeInvalidState) {
		t.Errorf("Verify in EMAIL_ENTRY: err = %v", err)
	}
	if _, err := tf.flow.Resend(context.Background()); !model.HasCode(err, model.ErrCodeInvalidState) {
		t.Errorf("Resend in EMAIL_ENTRY: err = %v", err)
	}

	tf.submitSignup(t)
	if err := tf.flow.SetEmail("other@b.com"); !model.HasCode(err, model.ErrCodeInvalidState) {
		t.Errorf("SetEmail in CODE_PENDING: err = %v", err)
	}
	if _, err := tf.flow.SubmitEmail(context.Background()); !model.HasCode(err, model.ErrCodeInvalidState) {
		t.Errorf("SubmitEmail in CODE_PENDING: err = %v", err)
	}
}

// blockingBackend は検証呼び出しを解放されるまで止める。
type blockingBackend struct {
	*fakeBackend
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) VerifyOTP(ctx context.Context, req model.VerifyRequest) (model.VerifyOutcome, error) {
	close(b.started)
	<-b.release
	return b.fakeBackend.VerifyOTP(ctx, req)
}

func TestVerify_ConcurrentSubmissionRejected(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.submitSignup(t)
	tf.flow.EnterCode("1234")

	bb := &blockingBackend{fakeBackend: tf.backend, started: make(chan struct{}), release: make(chan struct{})}
	tf.flow.deps.Backend = bb

	done := make(chan error, 1)
	go func() {
		_, err := tf.flow.Verify(context.Background())
		done <- err
	}()

	<-bb.started
	if !tf.flow.Busy() {
		t.Error("flow should be busy while verify is in flight")
	}
	if tf.flow.CanVerify() {
		t.Error("CanVerify should be false while busy")
	}
	if _, err := tf.flow.Verify(context.Background()); !model.HasCode(err, model.ErrCodeRequestInFlight) {
		t.Errorf("second Verify: err = %v, want REQUEST_IN_FLIGHT", err)
	}
	close(bb.release)

	if err := <-done; err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if len(tf.backend.verifies) != 1 {
		t.Errorf("verify calls = %d, want 1", len(tf.backend.verifies))
	}
}

func TestRunCountdown_StopsAtZero(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.flow.cfg.Countdown = 3 * time.Second
	tf.flow.cfg.TickInterval = time.Millisecond
	tf.submitSignup(t)

	var seen []int
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tf.flow.RunCountdown(ctx, func(remaining int) { seen = append(seen, remaining) })

	want := []int{2, 1, 0}
	if len(seen) != len(want) {
		t.Fatalf("ticks = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("tick %d = %d, want %d", i, seen[i], want[i])
		}
	}
	if !tf.flow.Expired() {
		t.Error("expected expired after countdown")
	}
}

func TestRunCountdown_StopsOnCancel(t *testing.T) {
	tf := newTestFlow(t, PurposeSignup, indiaContext)
	tf.submitSignup(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tf.flow.RunCountdown(ctx, nil)

	if tf.flow.Remaining() != 210 {
		t.Errorf("Remaining = %d, want untouched 210", tf.flow.Remaining())
	}
}

// TestSignup_AgainstHTTPBackend は実際のAPIクライアントとHTTPサーバーで新規登録を通す。
func TestSignup_AgainstHTTPBackend(t *testing.T) {
	var mu sync.Mutex
	var paths []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/Customer/RegisterEmail":
			json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "OTP sent"})
		case "/api/v1/Customer/VerifyEmail":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"email": "a@b.com", "password": "tmp", "userId": "u1"},
			})
		case "/api/v1/Token":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]any{
					"token": "tok-http", "userId": "u1", "email": "a@b.com", "userName": "a",
					"displayName": "A", "userRole": "Customer", "profilePicture": "", "userType": "customer",
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := session.NewStore(repository.NewMemoryKVStore(), discardLogger())
	client, err := api.NewClient(api.Options{BaseURL: server.URL + "/api/v1", Tokens: store, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	flow := NewFlow(PurposeSignup, Config{}, Deps{
		Backend:  client,
		Sessions: store,
		Resolver: &countingResolver{cc: indiaContext},
		Logger:   discardLogger(),
	})
	flow.SetEmail("a@b.com")
	flow.AgreeToTerms(true)
	if _, err := flow.SubmitEmail(context.Background()); err != nil {
		t.Fatalf("SubmitEmail: %v", err)
	}
	flow.EnterCode("1234")
	if _, err := flow.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	token, _ := store.GetToken(context.Background())
	if token != "tok-http" {
		t.Errorf("token = %q, want tok-http", token)
	}
	want := []string{"/api/v1/Customer/RegisterEmail", "/api/v1/Customer/VerifyEmail", "/api/v1/Token"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}
