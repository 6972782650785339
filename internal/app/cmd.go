package app

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Command はサブコマンドを表す。
type Command string

const (
	CommandSignup        Command = "signup"
	CommandForgot        Command = "forgot"
	CommandLogin         Command = "login"
	CommandLogout        Command = "logout"
	CommandWhoami        Command = "whoami"
	CommandResetPassword Command = "reset-password"
	CommandGoogleURL     Command = "google-url"
	CommandGoogleSignIn  Command = "google-signin"
	CommandTestimonials  Command = "testimonials"
	CommandSubmit        Command = "submit"
	CommandWall          Command = "wall"
	CommandPlans         Command = "plans"
	CommandUpload        Command = "upload"
	CommandOnboard       Command = "onboard"
	CommandDownload      Command = "download"
	// CommandServe は wall of love の埋め込みサーバーを起動する。
	CommandServe Command = "serve"
	// CommandMigrate はセッション保存用テーブルのマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	CommandHelp        Command = "help"
)

// commandHelp は usage に表示する順序と説明。
var commandHelp = []struct {
	cmd  Command
	desc string
}{
	{CommandSignup, "register an email address, verify the code and sign in"},
	{CommandForgot, "verify a password-reset code and set a new password"},
	{CommandLogin, "sign in with email and password"},
	{CommandLogout, "clear the stored session"},
	{CommandWhoami, "show the signed-in user"},
	{CommandResetPassword, "set a new password for a verified account"},
	{CommandGoogleURL, "print the Google sign-in URL"},
	{CommandGoogleSignIn, "exchange a Google ID token (or callback URL) for a session"},
	{CommandTestimonials, "list and search testimonials"},
	{CommandSubmit, "submit a text testimonial"},
	{CommandWall, "show the wall of love or print its embed snippet"},
	{CommandPlans, "list subscription plans"},
	{CommandUpload, "upload a video testimonial"},
	{CommandOnboard, "complete the profile after signup"},
	{CommandDownload, "download a testimonial video"},
	{CommandServe, "serve the embeddable wall of love"},
	{CommandMigrate, "apply (or roll back) the postgres session schema"},
	{CommandHealthcheck, "probe a running server's /health endpoint"},
}

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を取り出す。
// 引数が空の場合は CommandHelp を返す。
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 {
		return CommandHelp, nil, nil
	}

	name := Command(args[0])
	switch name {
	case CommandHelp, "-h", "--help":
		return CommandHelp, args[1:], nil
	}
	for _, c := range commandHelp {
		if c.cmd == name {
			return name, args[1:], nil
		}
	}
	return "", nil, fmt.Errorf("unknown command %q (run \"clientalio help\")", args[0])
}

// Usage はコマンド一覧を書き出す。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: clientalio <command> [flags]")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commandHelp {
		fmt.Fprintf(tw, "  %s\t%s\n", c.cmd, c.desc)
	}
	tw.Flush()
}

// needsSession はセッションストアを開く必要があるかを返す。
func (c Command) needsSession() bool {
	switch c {
	case CommandHelp, CommandHealthcheck, CommandMigrate, CommandDownload:
		return false
	}
	return true
}
