package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 利用者に表示するメッセージと原因カテゴリ、対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // 表示用メッセージ（バックエンドのメッセージをそのまま使う場合がある）
	Category   string // カテゴリ: validation, backend, transport, auth, system
	Action     string // ユーザー向け対処方法
	StatusCode int    // バックエンドのHTTPステータス（通信前のエラーは0）
	Err        error  // 元のエラー（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_FAILED"
	ErrCodeBackendRejected      = "BACKEND_REJECTED"
	ErrCodeTransport            = "TRANSPORT_FAILED"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeChallengeRequired    = "CHALLENGE_REQUIRED"
	ErrCodeChallengeNotReady    = "CHALLENGE_NOT_READY"
	ErrCodeIncompleteCode       = "INCOMPLETE_CODE"
	ErrCodeResendNotAvailable   = "RESEND_NOT_AVAILABLE"
	ErrCodeMissingCredential    = "MISSING_CREDENTIAL"
	ErrCodeAutoLoginFailed      = "AUTO_LOGIN_FAILED"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeGoogleTokenRejected  = "GOOGLE_TOKEN_REJECTED"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeRequestInFlight      = "REQUEST_IN_FLIGHT"
)

// NewValidationError は通信前に検出した入力エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewBackendRejectedError はバックエンドが拒否したリクエストのエラーを生成する。
// message にはバックエンドのメッセージをそのまま渡す。
func NewBackendRejectedError(message string, statusCode int) *APIError {
	return &APIError{
		Code:       ErrCodeBackendRejected,
		Message:    message,
		Category:   "backend",
		Action:     "内容を確認して再度お試しください。",
		StatusCode: statusCode,
	}
}

// NewTransportError は通信失敗エラーを生成する。
// 利用者にはバックエンド拒否と同じ汎用メッセージを表示する。
func NewTransportError(fallback string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeTransport,
		Message:  fallback,
		Category: "transport",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewSessionExpiredError は認証拒否によりセッションが破棄された場合のエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:       ErrCodeSessionExpired,
		Message:    "Your session has expired. Please log in again.",
		Category:   "auth",
		Action:     "ログインし直してください。",
		StatusCode: 401,
	}
}

// NewNotAuthenticatedError はセッションが存在しない場合のエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "You are not logged in.",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewChallengeRequiredError はボット検証トークンが未取得の場合のエラーを生成する。
func NewChallengeRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeChallengeRequired,
		Message:  "Please complete the reCAPTCHA verification",
		Category: "validation",
		Action:   "reCAPTCHAを完了してから再度送信してください。",
	}
}

// NewChallengeNotReadyError はボット検証プロバイダーが未初期化の場合のエラーを生成する。
func NewChallengeNotReadyError() *APIError {
	return &APIError{
		Code:     ErrCodeChallengeNotReady,
		Message:  "reCAPTCHA not loaded. Please refresh the page.",
		Category: "validation",
		Action:   "reCAPTCHAのサイトキーとトークンを設定してください。",
	}
}

// NewIncompleteCodeError はワンタイムコードの桁が揃っていない場合のエラーを生成する。
func NewIncompleteCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteCode,
		Message:  "Please enter complete OTP",
		Category: "validation",
		Action:   "すべての桁を入力してください。",
	}
}

// NewResendNotAvailableError はカウントダウン中に再送しようとした場合のエラーを生成する。
func NewResendNotAvailableError(remainingSeconds int) *APIError {
	return &APIError{
		Code:     ErrCodeResendNotAvailable,
		Message:  fmt.Sprintf("You can request a new code in %d seconds", remainingSeconds),
		Category: "validation",
		Action:   "カウントダウン終了後に再送してください。",
	}
}

// NewMissingCredentialError は自動ログイン用の一時資格情報が無い場合のエラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "Missing credentials for auto-login",
		Category: "backend",
		Action:   "手動でログインしてください。",
	}
}

// NewAutoLoginFailedError は一時資格情報によるログインが失敗した場合のエラーを生成する。
func NewAutoLoginFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAutoLoginFailed,
		Message:  "Auto-login failed. Please login manually.",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
		Err:      cause,
	}
}

// NewInvalidStateError は現在の状態で実行できない操作のエラーを生成する。
func NewInvalidStateError(op, state string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("%s is not available in state %s", op, state),
		Category: "system",
		Action:   "最初からやり直してください。",
	}
}

// NewRequestInFlightError は前のリクエストが完了していない場合のエラーを生成する。
func NewRequestInFlightError() *APIError {
	return &APIError{
		Code:     ErrCodeRequestInFlight,
		Message:  "A request is already in progress",
		Category: "validation",
		Action:   "前の処理が終わるまでお待ちください。",
	}
}

// NewGoogleTokenRejectedError はGoogleの資格情報検証に失敗した場合のエラーを生成する。
func NewGoogleTokenRejectedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeGoogleTokenRejected,
		Message:  reason,
		Category: "auth",
		Action:   "もう一度Googleでサインインしてください。",
	}
}

// UserMessage はエラーから利用者に表示するメッセージを取り出す。
// APIError でない場合は fallback を返す。
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// IsUnauthorized はエラーが認証拒否（401）によるものかを返す。
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeSessionExpired || apiErr.StatusCode == 401
	}
	return false
}

// HasCode はエラーが指定コードの APIError かを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
