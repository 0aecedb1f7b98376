// Package storage provides the durable key/value backends that persist SVG
// cache generations between runs.
//
// Every backend stores opaque string values under string keys and can list
// keys sharing a prefix, which is all the cache needs to seed itself from the
// current generation and to purge older ones.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Storage is a durable string key/value store.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisDB   int
	Fs        afero.Fs
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendFile:
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewFileStorage(fs, opts.Path)
	case BackendSQLite:
		return NewSQLiteStorage(ctx, opts.Path)
	case BackendRedis:
		return NewRedisStorage(ctx, RedisOptions{Addr: opts.RedisAddr, DB: opts.RedisDB})
	case "", BackendNone:
		return nil, fmt.Errorf("no storage backend configured")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// MemoryStorage keeps values in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStorage) Close() error { return nil }
