// Package repository はクライアント状態を保存するキーバリューストアを定義する。
//
// バックエンドはメモリ・ファイル・PostgreSQL・Redisの4種類で、
// セッションストアはこのインターフェース越しにのみ永続化を行う。
package repository

import "context"

// KeyValueStore は文字列キーと文字列値の永続化インターフェース。
// 複数プロセスから同じ保存先に書き込んだ場合は後勝ちとなる。
type KeyValueStore interface {
	// Get は指定キーの値を取得する。キーが存在しない場合は ok=false を返す。
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set は指定キーに値を保存する。
	Set(ctx context.Context, key, value string) error

	// Delete は指定キーを削除する。存在しないキーの削除はエラーにしない。
	Delete(ctx context.Context, key string) error

	// SetMany は複数のキーをまとめて保存する。
	// 途中で失敗した場合に一部のキーだけが書き込まれた状態を外部に見せない。
	SetMany(ctx context.Context, values map[string]string) error

	// DeleteMany は複数のキーをまとめて削除する。
	DeleteMany(ctx context.Context, keys ...string) error
}
