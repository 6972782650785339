// Package app はコマンドラインのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/clientalio/internal/config"
	"github.com/hitoshi/clientalio/internal/logger"
)

// Streams はコマンドの入出力先。
// Out にはコマンドの結果を、Log には構造化ログを書き出す。
type Streams struct {
	In  io.Reader
	Out io.Writer
	Log io.Writer
}

func (s Streams) withDefaults() Streams {
	if s.In == nil {
		s.In = os.Stdin
	}
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.Log == nil {
		s.Log = os.Stderr
	}
	return s
}

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、設定されたログレベルでJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(s Streams, args []string) error {
	s = s.withDefaults()

	cmd, rest, err := ParseCommand(args)
	if err != nil {
		Usage(s.Log)
		return err
	}

	switch cmd {
	case CommandHelp:
		Usage(s.Out)
		return nil
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		return runHealthcheck(rest)
	}

	cfg, err := Init(s.Log)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, cmd, s, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Debug("running command",
		slog.String("command", string(cmd)),
		slog.String("session_store", cfg.SessionStore),
	)

	return a.Execute(ctx, cmd, rest)
}

// runHealthcheck は /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(args []string) error {
	fs := flag.NewFlagSet(string(CommandHealthcheck), flag.ContinueOnError)
	port := fs.String("port", envOr("SERVER_PORT", "8080"), "server port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	url := fmt.Sprintf("http://localhost:%s/health", *port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
