package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileKVStore は1つのJSONオブジェクトファイルに全キーを保存するストア。
// CLIの既定の保存先で、ログイン状態をコマンド実行間で引き継ぐ。
//
// 書き込みは一時ファイルに出力してからrenameするため、
// 書き込み途中の内容が他のプロセスから見えることはない。
type FileKVStore struct {
	path string
	mu   sync.Mutex
}

// NewFileKVStore は指定パスを保存先とするFileKVStoreを生成する。
// ファイルは最初の書き込み時に作成される。
func NewFileKVStore(path string) *FileKVStore {
	return &FileKVStore{path: path}
}

// Path は保存先ファイルのパスを返す。
func (s *FileKVStore) Path() string {
	return s.path
}

// Get は指定キーの値を取得する。
func (s *FileKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set は指定キーに値を保存する。
func (s *FileKVStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// Delete は指定キーを削除する。
func (s *FileKVStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

// SetMany は複数のキーを1回のファイル置き換えで保存する。
func (s *FileKVStore) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}
	return s.save(current)
}

// DeleteMany は複数のキーを1回のファイル置き換えで削除する。
// 削除後にキーが1つも残らない場合はファイル自体を削除する。
func (s *FileKVStore) DeleteMany(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := current[k]; ok {
			delete(current, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if len(current) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove store file: %w", err)
		}
		return nil
	}
	return s.save(current)
}

func (s *FileKVStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode store file %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileKVStore) save(values map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".clientalio-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KeyValueStore = (*FileKVStore)(nil)
