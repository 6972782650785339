package database

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// testDatabaseURL はテスト用のデータベースURLを返す。
// TEST_DATABASE_URL が未設定の場合はテストをスキップする。
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	return url
}

// setupTestDB はテスト用データベースを準備する。
// テスト実行前にテーブルとマイグレーション履歴をドロップしてクリーンな状態にする。
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbURL := testDatabaseURL(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}

	cleanupSQL := `
		DROP TABLE IF EXISTS client_storage CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`
	if _, err := db.Exec(cleanupSQL); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}

	return db, dbURL
}

func TestMigrationsFS_ContainsUpAndDown(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	for _, want := range []string{
		"000001_create_client_storage.up.sql",
		"000001_create_client_storage.down.sql",
	} {
		if !names[want] {
			t.Errorf("embedded migration %q not found", want)
		}
	}
}

func TestRunMigrations_Up(t *testing.T) {
	db, dbURL := setupTestDB(t)
	defer db.Close()

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	var exists bool
	err := db.QueryRow(
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'client_storage')",
	).Scan(&exists)
	if err != nil {
		t.Fatalf("テーブル存在確認クエリに失敗: %v", err)
	}
	if !exists {
		t.Error("テーブル client_storage が存在しません")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, dbURL := setupTestDB(t)
	defer db.Close()

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("1回目のマイグレーション実行に失敗: %v", err)
	}
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("2回目のマイグレーション実行に失敗（冪等性の問題）: %v", err)
	}
}

func TestMigrations_UpAndDown(t *testing.T) {
	db, dbURL := setupTestDB(t)
	defer db.Close()

	m, err := NewMigrator(dbURL)
	if err != nil {
		t.Fatalf("Migrator生成に失敗: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		t.Fatalf("Up マイグレーション実行に失敗: %v", err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("Down マイグレーション実行に失敗: %v", err)
	}

	var count int
	err = db.QueryRow(
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'client_storage'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("テーブルカウント取得に失敗: %v", err)
	}
	if count != 0 {
		t.Errorf("Down後も client_storage が残っています")
	}
}

// TestClientStorageTable はclient_storageテーブルのカラム構成と制約を検証する。
func TestClientStorageTable(t *testing.T) {
	db, dbURL := setupTestDB(t)
	defer db.Close()

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	assertTableColumns(t, db, "client_storage", map[string]string{
		"namespace":  "character varying",
		"key":        "character varying",
		"value":      "text",
		"updated_at": "timestamp with time zone",
	})
	assertNotNull(t, db, "client_storage", []string{"namespace", "key", "value", "updated_at"})
	assertPrimaryKey(t, db, "client_storage", "namespace")
	assertPrimaryKey(t, db, "client_storage", "key")
}

// assertTableColumns はテーブルのカラム名とデータ型を検証する。
func assertTableColumns(t *testing.T, db *sql.DB, table string, expected map[string]string) {
	t.Helper()

	rows, err := db.Query(
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1",
		table,
	)
	if err != nil {
		t.Fatalf("%s テーブルのカラム情報取得に失敗: %v", table, err)
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var name, dtype string
		if err := rows.Scan(&name, &dtype); err != nil {
			t.Fatalf("カラム情報のスキャンに失敗: %v", err)
		}
		actual[name] = dtype
	}

	for col, expectedType := range expected {
		actualType, ok := actual[col]
		if !ok {
			t.Errorf("%s.%s カラムが存在しません", table, col)
			continue
		}
		if actualType != expectedType {
			t.Errorf("%s.%s の型が不正: got %q, want %q", table, col, actualType, expectedType)
		}
	}
}

// assertNotNull はNOT NULL制約を検証する。
func assertNotNull(t *testing.T, db *sql.DB, table string, columns []string) {
	t.Helper()

	for _, col := range columns {
		var isNullable string
		err := db.QueryRow(
			"SELECT is_nullable FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2",
			table, col,
		).Scan(&isNullable)
		if err != nil {
			t.Errorf("%s.%s のNOT NULL制約確認に失敗: %v", table, col, err)
			continue
		}
		if isNullable != "NO" {
			t.Errorf("%s.%s にNOT NULL制約が設定されていません", table, col)
		}
	}
}

// assertPrimaryKey はカラムがプライマリキーに含まれることを検証する。
func assertPrimaryKey(t *testing.T, db *sql.DB, table, column string) {
	t.Helper()

	var count int
	err := db.QueryRow(`
		SELECT count(*) FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = 'public'
			AND tc.table_name = $1
			AND kcu.column_name = $2
	`, table, column).Scan(&count)
	if err != nil {
		t.Fatalf("%s.%s のPK確認に失敗: %v", table, column, err)
	}
	if count == 0 {
		t.Errorf("%s.%s にプライマリキーが設定されていません", table, column)
	}
}

func TestMigrationVersion_AfterUp(t *testing.T) {
	db, dbURL := setupTestDB(t)
	defer db.Close()

	if v, _, err := MigrationVersion(dbURL); err != nil || v != 0 {
		t.Fatalf("MigrationVersion before up = %d, %v; want 0, nil", v, err)
	}
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	v, dirty, err := MigrationVersion(dbURL)
	if err != nil {
		t.Fatalf("MigrationVersion returned error: %v", err)
	}
	if v != 1 || dirty {
		t.Errorf("MigrationVersion = %d (dirty=%v), want 1 (clean)", v, dirty)
	}
	if err := RollbackMigrations(dbURL); err != nil {
		t.Fatalf("RollbackMigrations returned error: %v", err)
	}
}
