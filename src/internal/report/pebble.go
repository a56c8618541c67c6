package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

var prefixAudit = []byte("audit:") // audit:ID -> JSON

// PebbleStore 本地嵌入式存储，适合单机部署
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex // 保证 检查-写入 的原子性
}

// NewPebbleStore 打开（或创建）dir 下的 pebble 数据库
func NewPebbleStore(dir string) (*PebbleStore, error) {
	cache := pebble.NewCache(8 << 20)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db %q: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func auditKey(id string) []byte {
	return append(append([]byte(nil), prefixAudit...), id...)
}

func (s *PebbleStore) Save(ctx context.Context, record *AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := stamp(record)
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit %s: %w", rec.ID, err)
	}

	key := auditKey(rec.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return ErrExists
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("failed to check audit %s: %w", rec.ID, err)
	}

	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write audit %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PebbleStore) Get(ctx context.Context, id string) (*AuditRecord, error) {
	data, closer, err := s.db.Get(auditKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read audit %s: %w", id, err)
	}
	defer closer.Close()

	var rec AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode audit %s: %w", id, err)
	}
	rec.Findings = cloneFindings(rec.Findings)
	return &rec, nil
}

// Close 关闭数据库
func (s *PebbleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
