// Package api はテスティモニアルSaaSバックエンドのRESTクライアントを提供する。
//
// すべての呼び出しは保存済みのベアラートークンを付与し、
// 認証付きリクエストが401で拒否された場合はセッションを破棄する。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/model"
)

const (
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 10 * 1024 * 1024
	// defaultUserType はバックエンドに送る利用者種別。
	defaultUserType = "customer"
)

// TokenSource は保存済みトークンの取得と、認証拒否時のセッション破棄を提供する。
// session.Store がこれを満たす。
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	ClearSession(ctx context.Context) error
}

// Options はClientの生成オプション。
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // req/sec。0以下は無制限
	UserType  string

	Tokens TokenSource
	// OnUnauthorized は認証付きリクエストが401で拒否され、セッションを破棄した後に呼ばれる。
	OnUnauthorized func()

	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
	HTTPClient *http.Client // 指定した場合はTimeoutとCookieJarを上書きしない
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	baseURL        string
	userType       string
	httpClient     *http.Client
	tokens         TokenSource
	onUnauthorized func()
	limiter        *rate.Limiter
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
}

// NewClient はClientを生成する。
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api: base url is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: opts.Timeout, Jar: jar}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}

	userType := opts.UserType
	if userType == "" {
		userType = defaultUserType
	}
	mc := opts.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		userType:       userType,
		httpClient:     httpClient,
		tokens:         opts.Tokens,
		onUnauthorized: opts.OnUnauthorized,
		limiter:        rate.NewLimiter(limit, burst),
		metrics:        mc,
		logger:         logger,
	}, nil
}

// UserType はリクエストに付与する利用者種別を返す。
func (c *Client) UserType() string {
	return c.userType
}

// envelope はバックエンドの共通レスポンス形式。
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// request は1回のAPI呼び出しの内容。
type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	// fallback はバックエンドがメッセージを返さなかった場合、または通信に失敗した場合に表示する文言。
	fallback string
	// public はログイン前の呼び出し。トークンを付けず、401もセッション失効として扱わない。
	public bool
}

// postJSON はJSONボディでPOSTし、レスポンスのdataをoutにデコードする。
func (c *Client) postJSON(ctx context.Context, path string, payload any, fallback string, out any) (string, error) {
	r, err := jsonRequest(path, payload, fallback)
	if err != nil {
		return "", err
	}
	return c.do(ctx, r, out)
}

// postPublicJSON はログイン前のアカウント系エンドポイントにPOSTする。
// 保存済みのトークンは送らず、401はバックエンドのメッセージのまま返す。
func (c *Client) postPublicJSON(ctx context.Context, path string, payload any, fallback string, out any) (string, error) {
	r, err := jsonRequest(path, payload, fallback)
	if err != nil {
		return "", err
	}
	r.public = true
	return c.do(ctx, r, out)
}

func jsonRequest(path string, payload any, fallback string) (request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("failed to encode request: %w", err)
	}
	return request{
		method:      http.MethodPost,
		path:        path,
		body:        bytes.NewReader(data),
		contentType: "application/json",
		fallback:    fallback,
	}, nil
}

// get はGETし、レスポンスをoutにデコードする。
func (c *Client) get(ctx context.Context, path, fallback string, out any) (string, error) {
	return c.do(ctx, request{method: http.MethodGet, path: path, fallback: fallback}, out)
}

// do はリクエストを送信してレスポンスを解釈する。戻り値の文字列はバックエンドのメッセージ。
func (c *Client) do(ctx context.Context, r request, out any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", model.NewTransportError(r.fallback, err)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	authenticated := false
	if c.tokens != nil && !r.public {
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read session token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			authenticated = true
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	c.metrics.RecordAPILatency(r.path, elapsed)

	if err != nil {
		c.metrics.RecordAPIRequest(r.path, 0)
		c.logger.Error("api_request failed",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("request_id", requestID),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return "", model.NewTransportError(r.fallback, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordAPIRequest(r.path, resp.StatusCode)
	c.logger.Info("api_request",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", model.NewTransportError(r.fallback, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusUnauthorized && authenticated {
		c.handleUnauthorized(ctx)
		return "", model.NewSessionExpiredError()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", model.NewBackendRejectedError(extractMessage(body, r.fallback), resp.StatusCode)
	}

	return decodeResponse(body, r.fallback, resp.StatusCode, out)
}

// handleUnauthorized はセッションを破棄し、登録されたフックを呼ぶ。
func (c *Client) handleUnauthorized(ctx context.Context) {
	if c.tokens != nil {
		if err := c.tokens.ClearSession(ctx); err != nil {
			c.logger.Error("failed to clear session after 401",
				slog.String("error", err.Error()),
			)
		}
	}
	c.logger.Warn("session rejected by backend, session cleared")
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// decodeResponse は2xxレスポンスを解釈する。
// 共通形式（success/message/data）の場合はsuccess=falseを拒否として扱い、dataをoutにデコードする。
// 配列や共通形式でないオブジェクトはそのままoutにデコードする。
func decodeResponse(body []byte, fallback string, status int, out any) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", nil
	}

	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return "", model.NewTransportError(fallback, fmt.Errorf("malformed response: %w", err))
		}
		if env.Success != nil {
			if !*env.Success {
				msg := env.Message
				if msg == "" {
					msg = fallback
				}
				return "", model.NewBackendRejectedError(msg, status)
			}
			if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
				if err := json.Unmarshal(env.Data, out); err != nil {
					return "", model.NewTransportError(fallback, fmt.Errorf("malformed response data: %w", err))
				}
			}
			return env.Message, nil
		}
	}

	if out != nil {
		if err := json.Unmarshal(trimmed, out); err != nil {
			return "", model.NewTransportError(fallback, fmt.Errorf("malformed response: %w", err))
		}
	}
	return "", nil
}

// extractMessage はエラーレスポンスから表示用メッセージを取り出す。
// message → error → ボディ文字列 → fallback の順に採用する。
func extractMessage(body []byte, fallback string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fallback
	}

	var fields struct {
		Message any `json:"message"`
		Error   any `json:"error"`
	}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &fields) == nil {
		if s := stringify(fields.Message); s != "" {
			return s
		}
		if s := stringify(fields.Error); s != "" {
			return s
		}
	}

	var s string
	if trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil && s != "" {
		return s
	}
	return string(trimmed)
}

// stringify はJSON値を表示用文字列にする。文字列以外はJSONに戻す。
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
