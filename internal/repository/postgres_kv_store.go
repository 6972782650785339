package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresKVStore はPostgreSQLの client_storage テーブルを使用するストア。
// namespace ごとに独立したキー空間を持つため、複数の利用者が1つのDBを共有できる。
type PostgresKVStore struct {
	db        *sql.DB
	namespace string
}

// NewPostgresKVStore はPostgresKVStoreを生成する。
func NewPostgresKVStore(db *sql.DB, namespace string) *PostgresKVStore {
	return &PostgresKVStore{db: db, namespace: namespace}
}

// Get は指定キーの値を取得する。
func (r *PostgresKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM client_storage WHERE namespace = $1 AND key = $2`,
		r.namespace, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, true, nil
}

// Set は指定キーに値を保存する。既存の値は上書きする。
func (r *PostgresKVStore) Set(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, upsertKVSQL, r.namespace, key, value); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *PostgresKVStore) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM client_storage WHERE namespace = $1 AND key = $2`,
		r.namespace, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// SetMany は複数のキーを同一トランザクションで保存する。
func (r *PostgresKVStore) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		if _, err := tx.ExecContext(ctx, upsertKVSQL, r.namespace, k, v); err != nil {
			return fmt.Errorf("failed to set key %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteMany は複数のキーを同一トランザクションで削除する。
func (r *PostgresKVStore) DeleteMany(ctx context.Context, keys ...string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM client_storage WHERE namespace = $1 AND key = $2`,
			r.namespace, k,
		)
		if err != nil {
			return fmt.Errorf("failed to delete key %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const upsertKVSQL = `INSERT INTO client_storage (namespace, key, value, updated_at)
	 VALUES ($1, $2, $3, now())
	 ON CONFLICT (namespace, key)
	 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

// compile-time interface check
var _ KeyValueStore = (*PostgresKVStore)(nil)
