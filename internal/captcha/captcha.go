// Package captcha はボット検証チャレンジ（reCAPTCHA）の準備状態とトークンを扱う。
//
// プロバイダーは「初期化済みか」と「解答トークン」だけを公開し、
// 解答方法（ブラウザ、環境変数、対話入力）には依存しない。
package captcha

import (
	"strings"
	"sync"

	"github.com/hitoshi/clientalio/internal/geo"
	"github.com/hitoshi/clientalio/internal/model"
)

// Provider はボット検証チャレンジを提供する。
type Provider interface {
	// Init はプロバイダーを初期化し、解答時に呼ばれる完了ハンドラーを登録する。
	Init(onComplete func(token string))
	// IsReady は初期化済みでチャレンジを提示できるかを返す。
	IsReady() bool
	// Token は最後に得た解答トークンを返す。未解答の場合は空文字。
	Token() string
	// Reset は解答トークンを破棄する。トークンは1回の送信にしか使えない。
	Reset()
}

// StaticProvider はオペレーターが外部で取得したトークンを受け取るプロバイダー。
// サイトキーが設定されている場合のみ利用可能になる。
type StaticProvider struct {
	siteKey string

	mu         sync.Mutex
	ready      bool
	token      string
	onComplete func(string)
}

// NewStaticProvider はStaticProviderを生成する。
func NewStaticProvider(siteKey string) *StaticProvider {
	return &StaticProvider{siteKey: siteKey}
}

// SiteKey はサイトキーを返す。
func (p *StaticProvider) SiteKey() string {
	return p.siteKey
}

// Init はプロバイダーを初期化する。サイトキーが空の場合は準備完了にならない。
func (p *StaticProvider) Init(onComplete func(token string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onComplete = onComplete
	p.ready = p.siteKey != ""
}

// IsReady は初期化済みかを返す。
func (p *StaticProvider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Solve は解答トークンを設定し、登録された完了ハンドラーを呼ぶ。
// 空白のみのトークンは無視する。
func (p *StaticProvider) Solve(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}

	p.mu.Lock()
	p.token = token
	cb := p.onComplete
	p.mu.Unlock()

	if cb != nil {
		cb(token)
	}
}

// Token は解答トークンを返す。
func (p *StaticProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Reset は解答トークンを破棄する。
func (p *StaticProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}

var _ Provider = (*StaticProvider)(nil)

// Gate は登録リクエストの前にチャレンジが必要かを判定し、トークンを取り出す。
// ネットワーク呼び出しは行わない。
type Gate struct {
	provider    Provider
	homeCountry string
}

// NewGate はGateを生成する。providerがnilの場合、チャレンジが必要な利用者は常に準備未完了となる。
func NewGate(provider Provider, homeCountry string) *Gate {
	return &Gate{provider: provider, homeCountry: homeCountry}
}

// Required はClientContextに対してチャレンジが必要かを返す。
func (g *Gate) Required(cc model.ClientContext) bool {
	return geo.RequiresChallenge(cc, g.homeCountry)
}

// Require はチャレンジが必要な場合に解答トークンを返す。
// 不要な場合は空文字とnilを返す。
func (g *Gate) Require(cc model.ClientContext) (string, error) {
	if !g.Required(cc) {
		return "", nil
	}
	if g.provider == nil || !g.provider.IsReady() {
		return "", model.NewChallengeNotReadyError()
	}
	token := g.provider.Token()
	if token == "" {
		return "", model.NewChallengeRequiredError()
	}
	return token, nil
}

// Consume は送信に使ったトークンを破棄する。
func (g *Gate) Consume() {
	if g.provider != nil {
		g.provider.Reset()
	}
}
