package report

import (
	"context"
	"sync"
)

// MemoryStore 进程内存储，未配置数据库时使用
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]AuditRecord
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]AuditRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, record *AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := stamp(record)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrExists
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*AuditRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	rec.Findings = cloneFindings(rec.Findings)
	return &rec, nil
}

// Len 返回当前记录数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
