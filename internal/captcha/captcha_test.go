package captcha

import (
	"testing"

	"github.com/hitoshi/clientalio/internal/model"
)

var (
	india   = model.ClientContext{CountryCode: "IN"}
	germany = model.ClientContext{CountryCode: "DE"}
)

func TestStaticProvider_ReadyOnlyWithSiteKey(t *testing.T) {
	p := NewStaticProvider("")
	p.Init(nil)
	if p.IsReady() {
		t.Error("provider without site key should not be ready")
	}

	p = NewStaticProvider("site-key")
	if p.IsReady() {
		t.Error("provider should not be ready before Init")
	}
	p.Init(nil)
	if !p.IsReady() {
		t.Error("provider with site key should be ready after Init")
	}
}

func TestStaticProvider_SolveInvokesCompletionHandler(t *testing.T) {
	p := NewStaticProvider("site-key")
	var got string
	p.Init(func(token string) { got = token })

	p.Solve("  tok-1 ")
	if got != "tok-1" {
		t.Errorf("completion token = %q, want tok-1", got)
	}
	if p.Token() != "tok-1" {
		t.Errorf("Token = %q, want tok-1", p.Token())
	}

	got = ""
	p.Solve("   ")
	if got != "" || p.Token() != "tok-1" {
		t.Error("blank solve should be ignored")
	}

	p.Reset()
	if p.Token() != "" {
		t.Error("Reset should clear the token")
	}
}

func TestGate_HomeCountrySkipsChallenge(t *testing.T) {
	g := NewGate(nil, "IN")

	token, err := g.Require(india)
	if err != nil || token != "" {
		t.Errorf("Require(IN) = %q, %v; want empty, nil", token, err)
	}
}

func TestGate_ForeignCountry(t *testing.T) {
	t.Run("プロバイダー未準備", func(t *testing.T) {
		g := NewGate(NewStaticProvider(""), "IN")
		_, err := g.Require(germany)
		if !model.HasCode(err, model.ErrCodeChallengeNotReady) {
			t.Errorf("error = %v, want CHALLENGE_NOT_READY", err)
		}
	})

	t.Run("未解答", func(t *testing.T) {
		p := NewStaticProvider("site-key")
		p.Init(nil)
		g := NewGate(p, "IN")

		_, err := g.Require(germany)
		if !model.HasCode(err, model.ErrCodeChallengeRequired) {
			t.Fatalf("error = %v, want CHALLENGE_REQUIRED", err)
		}
		if msg := model.UserMessage(err, ""); msg != "Please complete the reCAPTCHA verification" {
			t.Errorf("message = %q", msg)
		}
	})

	t.Run("解答済み", func(t *testing.T) {
		p := NewStaticProvider("site-key")
		p.Init(nil)
		p.Solve("tok")
		g := NewGate(p, "IN")

		token, err := g.Require(germany)
		if err != nil || token != "tok" {
			t.Errorf("Require = %q, %v; want tok, nil", token, err)
		}

		g.Consume()
		if _, err := g.Require(germany); !model.HasCode(err, model.ErrCodeChallengeRequired) {
			t.Errorf("token should be single-use, got %v", err)
		}
	})
}

func TestGate_UnknownCountryRequiresChallenge(t *testing.T) {
	g := NewGate(NewStaticProvider(""), "IN")
	if !g.Required(model.UnknownClientContext()) {
		t.Error("unknown country should require the challenge")
	}
}
