package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore — Store в памяти процесса. Используется в тестах и
// в однопроцессном режиме (memory://).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	closed  bool

	// now подменяется в тестах.
	now func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Get возвращает копию записи.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrUnavailable
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Value = append([]byte(nil), rec.Value...)
	return &rec, nil
}

// PutIf выполняет условную запись.
func (s *MemoryStore) PutIf(_ context.Context, key string, value []byte, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrUnavailable
	}
	cur, ok := s.records[key]
	switch {
	case !ok && version != 0:
		return 0, ErrConflict
	case ok && cur.Version != version:
		return 0, ErrConflict
	}

	next := version + 1
	s.records[key] = Record{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Version:   next,
		UpdatedAt: s.now(),
	}
	return next, nil
}

// DeleteIf удаляет запись при совпадении версии.
func (s *MemoryStore) DeleteIf(_ context.Context, key string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrUnavailable
	}
	cur, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != version {
		return ErrConflict
	}
	delete(s.records, key)
	return nil
}

// List возвращает записи по префиксу, упорядоченные по ключу.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrUnavailable
	}
	var out []Record
	for k, rec := range s.records {
		if strings.HasPrefix(k, prefix) {
			rec.Value = append([]byte(nil), rec.Value...)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping возвращает ErrUnavailable после Close.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrUnavailable
	}
	return nil
}

// Close помечает хранилище недоступным.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Reopen снимает пометку Close (для сценариев с недоступным хранилищем).
func (s *MemoryStore) Reopen() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}
