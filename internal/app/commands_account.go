package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/clientalio/internal/auth"
	"github.com/hitoshi/clientalio/internal/model"
)

// runLogin はメールアドレスとパスワードでログインする。
func (a *App) runLogin(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandLogin)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if *email, err = a.askIfEmpty(*email, "Email: "); err != nil {
		return err
	}
	if *password, err = a.askIfEmpty(*password, "Password: "); err != nil {
		return err
	}

	profile, err := a.auth.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	a.printf("Signed in as %s.\n", profile.Label())
	return nil
}

// runLogout は保存済みのセッションを破棄する。
func (a *App) runLogout(ctx context.Context, args []string) error {
	if err := a.newFlagSet(CommandLogout).Parse(args); err != nil {
		return err
	}
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	a.printf("Signed out.\n")
	return nil
}

// runWhoami はログイン中の利用者を表示する。
func (a *App) runWhoami(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandWhoami)
	asJSON := fs.Bool("json", false, "print the stored profile as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	snap, err := a.sessions.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !snap.Present() {
		return model.NewNotAuthenticatedError()
	}

	if *asJSON {
		return writeJSON(a.out, snap.Profile)
	}

	if snap.Profile != nil {
		a.printf("Signed in as %s <%s>\n", snap.Profile.Label(), snap.Profile.Email)
		if snap.Profile.UserID != "" {
			a.printf("User ID:  %s\n", snap.Profile.UserID)
		}
		if snap.Profile.UserRole != "" {
			a.printf("Role:     %s\n", snap.Profile.UserRole)
		}
	} else {
		a.printf("Signed in (profile unavailable)\n")
	}
	if exp, ok := auth.TokenExpiry(snap.Token); ok {
		state := "valid"
		if time.Now().After(exp) {
			state = "expired"
		}
		a.printf("Token:    %s until %s\n", state, exp.Local().Format(time.RFC1123))
	}
	return nil
}

// runResetPassword はパスワードを再設定する。
// 検証フローの後で、または受け取ったユーザーIDを使って単独で呼び出せる。
func (a *App) runResetPassword(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandResetPassword)
	email := fs.String("email", "", "account email (defaults to the signed-in user)")
	userID := fs.String("user-id", "", "account id (defaults to the signed-in user)")
	password := fs.String("password", "", "new password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" || *userID == "" {
		profile, err := a.sessions.GetSession(ctx)
		if err != nil {
			return err
		}
		if profile != nil {
			if *email == "" {
				*email = profile.Email
			}
			if *userID == "" {
				*userID = profile.UserID
			}
		}
	}

	var err error
	if *email, err = a.askIfEmpty(*email, "Email: "); err != nil {
		return err
	}
	return a.resetPassword(ctx, model.ResetTarget{Email: *email, UserID: *userID}, *password)
}

// resetPassword は新しいパスワードと確認入力を受け取って再設定する。
// 入力ミスの場合は確認からやり直す。
func (a *App) resetPassword(ctx context.Context, target model.ResetTarget, password string) error {
	fromFlag := password != ""
	confirm := password
	for {
		var err error
		if password == "" {
			if password, err = a.ask("New password: "); err != nil {
				return err
			}
			if confirm, err = a.ask("Confirm password: "); err != nil {
				return err
			}
		}

		msg, err := a.auth.ResetPassword(ctx, auth.ResetPasswordInput{
			UserID:   target.UserID,
			Email:    target.Email,
			Password: password,
			Confirm:  confirm,
		})
		if err == nil {
			a.printf("%s\n", msg)
			return nil
		}
		if fromFlag || !model.HasCode(err, model.ErrCodeValidation) {
			return err
		}
		a.printf("%s\n", model.UserMessage(err, err.Error()))
		password, confirm = "", ""
	}
}

// runGoogleURL はGoogleサインインURLを表示する。
func (a *App) runGoogleURL(ctx context.Context, args []string) error {
	if err := a.newFlagSet(CommandGoogleURL).Parse(args); err != nil {
		return err
	}
	url, nonce, err := a.auth.GoogleLoginURL()
	if err != nil {
		return err
	}
	a.printf("Open this URL in a browser and sign in:\n\n  %s\n\n", url)
	a.printf("Then run: clientalio google-signin -callback '<redirected URL>'\n")
	a.logger.Debug("google sign-in url issued", slog.String("nonce", nonce))
	return nil
}

// runGoogleSignIn はGoogleのIDトークンをセッションに交換する。
func (a *App) runGoogleSignIn(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandGoogleSignIn)
	credential := fs.String("credential", "", "Google ID token")
	callback := fs.String("callback", "", "redirected URL containing id_token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *credential == "" && *callback != "" {
		c, err := auth.CredentialFromCallbackURL(*callback)
		if err != nil {
			return err
		}
		*credential = c
	}
	var err error
	if *credential, err = a.askIfEmpty(*credential, "Google ID token: "); err != nil {
		return err
	}

	profile, err := a.auth.GoogleSignIn(ctx, *credential)
	if err != nil {
		return err
	}
	a.printf("Signed in as %s.\n", profile.Label())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
