package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hitoshi/clientalio/internal/captcha"
	"github.com/hitoshi/clientalio/internal/model"
	"github.com/hitoshi/clientalio/internal/verification"
)

var errAborted = errors.New("aborted")

// runVerification は signup と forgot の対話フローを実行する。
// メールアドレスの送信後、コードの桁を標準入力から読み取り、
// 期限切れになれば r で再送できる。
func (a *App) runVerification(ctx context.Context, cmd Command, args []string) error {
	fs := a.newFlagSet(cmd)
	email := fs.String("email", "", "account email")
	token := fs.String("recaptcha-token", "", "reCAPTCHA token, required outside the home country")
	password := fs.String("password", "", "new password once a recovery code is verified")
	var agree *bool
	if cmd == CommandSignup {
		agree = fs.Bool("agree", false, "agree to the Terms and Privacy Policy")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token != "" {
		a.captcha.Solve(*token)
	}

	purpose := verification.PurposeRecovery
	if cmd == CommandSignup {
		purpose = verification.PurposeSignup
	}

	flow := verification.NewFlow(purpose, verification.Config{
		Countdown:  a.cfg.OTPCountdown,
		CodeLength: a.cfg.OTPLength,
	}, verification.Deps{
		Backend:   a.client,
		Sessions:  a.sessions,
		Resolver:  a.resolver,
		Challenge: captcha.NewGate(a.captcha, a.cfg.HomeCountryCode),
		Metrics:   a.metrics,
		Logger:    a.logger,
	})

	for {
		if err := a.submitEmail(ctx, flow, *email, agree); err != nil {
			return err
		}

		result, err := a.enterCode(ctx, flow)
		if err == nil {
			return a.finishVerification(ctx, result, *password)
		}
		if flow.State() != verification.StateFailed {
			return err
		}

		again, askErr := a.confirm("Start over?")
		if askErr != nil || !again {
			return err
		}
		flow.Restart()
		*email = flow.Email()
	}
}

// submitEmail はメールアドレスを送信し、CODE_PENDING に進める。
// 入力の誤りは再入力を求め、バックエンドの拒否はそのまま返す。
func (a *App) submitEmail(ctx context.Context, flow *verification.Flow, email string, agree *bool) error {
	for {
		var err error
		if email, err = a.askIfEmpty(email, "Email: "); err != nil {
			return err
		}
		if err := flow.SetEmail(email); err != nil {
			return err
		}

		if agree != nil {
			if !*agree {
				ok, err := a.confirm("Do you agree to the Terms and Privacy Policy?")
				if err != nil {
					return err
				}
				*agree = ok
			}
			flow.AgreeToTerms(*agree)
		}

		if flow.Purpose() == verification.PurposeSignup {
			if err := a.solveChallenge(ctx, flow); err != nil {
				return err
			}
		}

		msg, err := flow.SubmitEmail(ctx)
		if err == nil {
			a.printf("%s\n", msg)
			return nil
		}

		a.printf("%s\n", model.UserMessage(err, err.Error()))
		switch {
		case model.HasCode(err, model.ErrCodeValidation) && agree != nil && !*agree:
			return err
		case model.HasCode(err, model.ErrCodeValidation):
			email = ""
		case model.HasCode(err, model.ErrCodeChallengeRequired):
			// トークンを入力し直す
		default:
			return err
		}
	}
}

// solveChallenge はチャレンジが必要で、まだトークンが無い場合にトークンの入力を求める。
func (a *App) solveChallenge(ctx context.Context, flow *verification.Flow) error {
	if !flow.ChallengeRequired(ctx, a.cfg.HomeCountryCode) || a.captcha.Token() != "" {
		return nil
	}
	if !a.captcha.IsReady() {
		// SubmitEmail が準備未完了のエラーを返す
		return nil
	}

	cc, _ := flow.ClientContext()
	a.printf("A reCAPTCHA check is required for sign-ups from %s.\n", orUnknown(cc.Location()))
	a.printf("Solve the challenge for site key %s and paste the token.\n", a.captcha.SiteKey())
	token, err := a.ask("reCAPTCHA token: ")
	if err != nil {
		return err
	}
	a.captcha.Solve(token)
	return nil
}

// enterCode はコードの入力と検証を繰り返す。
// 1行に1桁を入力すると次の桁へ進み、"-" で1桁戻る。コード全体の貼り付けも受け付ける。
func (a *App) enterCode(ctx context.Context, flow *verification.Flow) (*verification.Result, error) {
	countdownCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	startCountdown := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flow.RunCountdown(countdownCtx, func(remaining int) {
				if remaining == 0 {
					a.printf("\nThe code has expired. Type r to request a new one.\n")
				}
			})
		}()
	}
	startCountdown()

	pos := 0
	for {
		line, err := a.ask(a.codePrompt(flow, pos))
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errAborted
			}
			return nil, err
		}

		switch {
		case line == "q":
			return nil, errAborted
		case line == "r":
			msg, err := flow.Resend(ctx)
			if model.HasCode(err, model.ErrCodeChallengeRequired) {
				// 送信ごとにトークンを消費するため、再送では新しいトークンが要る
				if err = a.solveChallenge(ctx, flow); err == nil {
					msg, err = flow.Resend(ctx)
				}
			}
			if err != nil {
				a.printf("%s\n", model.UserMessage(err, err.Error()))
				continue
			}
			a.printf("%s\n", msg)
			pos = 0
			startCountdown()
			continue
		case line == "-":
			pos = flow.Backspace(pos)
			continue
		case len(line) == 1:
			next, ok := flow.SetDigit(pos, line)
			if !ok {
				a.printf("Digits only.\n")
				continue
			}
			pos = next
		default:
			if err := flow.EnterCode(line); err != nil {
				a.printf("%s\n", model.UserMessage(err, err.Error()))
				continue
			}
		}

		if !flow.CodeComplete() {
			continue
		}
		if !flow.CanVerify() {
			if flow.Expired() {
				a.printf("The code has expired. Type r to request a new one.\n")
			}
			continue
		}

		result, err := flow.Verify(ctx)
		if err == nil {
			return result, nil
		}
		a.printf("%s\n", model.UserMessage(err, err.Error()))
		if flow.State() == verification.StateFailed {
			return nil, err
		}
		pos = 0
	}
}

func (a *App) codePrompt(flow *verification.Flow, pos int) string {
	if flow.Expired() {
		return "Code expired. r to resend, q to quit: "
	}
	digits := flow.Digits()
	entered := ""
	for _, d := range digits {
		if d == "" {
			d = "_"
		}
		entered += d
	}
	return fmt.Sprintf("Code for %s [%s] digit %d/%d (%s left, r resend, q quit): ",
		flow.Email(), entered, pos+1, len(digits), flow.FormatRemaining())
}

// finishVerification は検証結果に応じて次の手順を案内する。
func (a *App) finishVerification(ctx context.Context, result *verification.Result, password string) error {
	switch result.Next {
	case verification.NextOnboarding:
		a.printf("Email verified. Signed in as %s.\n", result.Profile.Label())
		a.printf("Next: complete your profile with \"clientalio onboard\".\n")
		return nil
	case verification.NextResetPassword:
		a.printf("Code verified. Choose a new password.\n")
		return a.resetPassword(ctx, *result.ResetTarget, password)
	default:
		return nil
	}
}

func orUnknown(s string) string {
	if s == "" {
		return model.Unknown
	}
	return s
}
