package repository

import (
	"context"
	"sync"
)

// MemoryKVStore はプロセス内メモリに値を保持するストア。
// テストと SESSION_STORE=memory で使用する。
type MemoryKVStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKVStore は空のMemoryKVStoreを生成する。
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{values: make(map[string]string)}
}

// Get は指定キーの値を取得する。
func (s *MemoryKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set は指定キーに値を保存する。
func (s *MemoryKVStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete は指定キーを削除する。
func (s *MemoryKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// SetMany は複数のキーを1回のロックで保存する。
func (s *MemoryKVStore) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

// DeleteMany は複数のキーを1回のロックで削除する。
func (s *MemoryKVStore) DeleteMany(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Len は保存されているキー数を返す。
func (s *MemoryKVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// compile-time interface check
var _ KeyValueStore = (*MemoryKVStore)(nil)
