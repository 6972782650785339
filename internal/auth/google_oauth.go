package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/hitoshi/clientalio/internal/model"
)

const (
	defaultGoogleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

// GoogleConfig はGoogleサインインの設定。
type GoogleConfig struct {
	ClientID    string
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL      string
	TokenInfoURL string
}

// GoogleProvider はGoogleのIDトークン（credential）の取得URL生成と検証を行う。
// 認可コードは使わず、リダイレクト先のフラグメントでIDトークンを受け取る。
type GoogleProvider struct {
	oauth        *oauth2.Config
	clientID     string
	tokenInfoURL string
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(config GoogleConfig, httpClient *http.Client, logger *slog.Logger) *GoogleProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:    config.ClientID,
			RedirectURL: config.RedirectURL,
			Scopes:      []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: defaultGoogleTokenURL,
			},
		},
		clientID:     config.ClientID,
		tokenInfoURL: config.TokenInfoURL,
		httpClient:   httpClient,
		logger:       logger,
		now:          time.Now,
	}
}

// LoginURL はIDトークンを直接受け取るGoogleサインインURLを生成する。
// nonceはstateとしても使用する。
func (p *GoogleProvider) LoginURL(nonce string) string {
	return p.oauth.AuthCodeURL(nonce,
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// CredentialFromCallbackURL はリダイレクト先URLからIDトークンを取り出す。
// フラグメントを優先し、無ければクエリを参照する。
func CredentialFromCallbackURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", model.NewGoogleTokenRejectedError("Invalid callback URL")
	}

	if fragment, err := url.ParseQuery(u.Fragment); err == nil {
		if v := firstNonEmpty(fragment.Get("id_token"), fragment.Get("credential")); v != "" {
			return v, nil
		}
	}

	query := u.Query()
	if v := firstNonEmpty(query.Get("credential"), query.Get("id_token")); v != "" {
		return v, nil
	}

	return "", model.NewGoogleTokenRejectedError("No credential found in URL")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// tokenInfo はtokeninfoエンドポイントのレスポンス。
type tokenInfo struct {
	Aud   string `json:"aud"`
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

// VerifyCredential はIDトークンを検証する。
// 署名検証はtokeninfoエンドポイントに任せ、送信前に aud と exp だけをローカルで確認する。
func (p *GoogleProvider) VerifyCredential(ctx context.Context, credential string) error {
	if err := p.precheck(credential); err != nil {
		return err
	}

	endpoint := p.tokenInfoURL + "?" + url.Values{"id_token": {credential}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("tokeninfo request failed", slog.String("error", err.Error()))
		return model.NewGoogleTokenRejectedError("Token verification failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("tokeninfo rejected credential", slog.Int("http_status", resp.StatusCode))
		return model.NewGoogleTokenRejectedError("Token verification failed")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return model.NewGoogleTokenRejectedError("Token verification failed")
	}

	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return model.NewGoogleTokenRejectedError("Token verification failed")
	}
	if info.Aud != p.clientID {
		return model.NewGoogleTokenRejectedError("Invalid token audience")
	}
	return nil
}

// precheck は署名を検証せずにクレームを読み、明らかに不正なトークンを送信前に弾く。
func (p *GoogleProvider) precheck(credential string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return model.NewGoogleTokenRejectedError("Malformed Google credential")
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains([]string(aud), p.clientID) {
		return model.NewGoogleTokenRejectedError("Invalid token audience")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return model.NewGoogleTokenRejectedError("Malformed Google credential")
	}
	if exp != nil && !exp.After(p.now()) {
		return model.NewGoogleTokenRejectedError("Google credential has expired")
	}
	return nil
}

// TokenExpiry は署名を検証せずにJWT形式のベアラートークンの有効期限を読む。
// JWTでない、または exp を含まない場合は ok=false を返す。
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
