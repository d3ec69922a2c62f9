package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/service"
)

// MemoryStore is an in-memory RecordStore used in tests. Ids are
// sequential so test assertions stay deterministic.
type MemoryStore struct {
	tables map[string][]service.Record
	mu     sync.Mutex
	nextID int
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]service.Record)}
}

// Create inserts a single record.
func (s *MemoryStore) Create(_ context.Context, table string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(table, fields), nil
}

// CreateBatch inserts up to MaxBatchSize records.
func (s *MemoryStore) CreateBatch(_ context.Context, table string, batch []map[string]any) ([]string, error) {
	if len(batch) > service.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds store limit of %d", len(batch), service.MaxBatchSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(batch))
	for _, fields := range batch {
		ids = append(ids, s.insert(table, fields))
	}
	return ids, nil
}

func (s *MemoryStore) insert(table string, fields map[string]any) string {
	s.nextID++
	id := fmt.Sprintf("rec%03d", s.nextID)
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.tables[table] = append(s.tables[table], service.Record{ID: id, Fields: copied})
	return id
}

// Update merges fields into an existing record.
func (s *MemoryStore) Update(_ context.Context, table, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.tables[table] {
		if rec.ID == id {
			for k, v := range fields {
				s.tables[table][i].Fields[k] = v
			}
			return nil
		}
	}
	return common.ErrNotFound
}

// Find fetches one record by id.
func (s *MemoryStore) Find(_ context.Context, table, id string) (*service.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.tables[table] {
		if rec.ID == id {
			copied := service.Record{ID: rec.ID, Fields: make(map[string]any, len(rec.Fields))}
			for k, v := range rec.Fields {
				copied.Fields[k] = v
			}
			return &copied, nil
		}
	}
	return nil, common.ErrNotFound
}

// Query lists records matching the filter.
func (s *MemoryStore) Query(_ context.Context, table string, q service.Query) ([]service.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []service.Record
	for _, rec := range s.tables[table] {
		if matches(rec, q.Filter) {
			copied := service.Record{ID: rec.ID, Fields: make(map[string]any, len(rec.Fields))}
			for k, v := range rec.Fields {
				copied.Fields[k] = v
			}
			out = append(out, copied)
		}
	}
	return applyQuery(out, q), nil
}

// Destroy deletes records by id.
func (s *MemoryStore) Destroy(_ context.Context, table string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.tables[table][:0]
	for _, rec := range s.tables[table] {
		if !drop[rec.ID] {
			kept = append(kept, rec)
		}
	}
	s.tables[table] = kept
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
