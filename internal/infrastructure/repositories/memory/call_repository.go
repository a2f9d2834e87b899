package memory

import (
	"context"
	"sync"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"
)

type MemoryCallRepository struct {
	records  map[string]*domain.CallRecord
	bySignal map[domain.CallID]string
	mu       sync.RWMutex
}

func NewMemoryCallRepository() ports.CallRecordRepository {
	return &MemoryCallRepository{
		records:  make(map[string]*domain.CallRecord),
		bySignal: make(map[domain.CallID]string),
	}
}

func (r *MemoryCallRepository) Insert(ctx context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The signal-id index is the uniqueness guarantee both peers race on.
	if _, exists := r.bySignal[record.SignalID]; exists {
		return domain.ErrCallExists
	}
	if _, exists := r.records[record.ID]; exists {
		return domain.ErrCallExists
	}

	r.records[record.ID] = cloneRecord(record)
	r.bySignal[record.SignalID] = record.ID
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id string) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}

	return cloneRecord(record), nil
}

func (r *MemoryCallRepository) FindBySignalID(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.bySignal[signalID]
	if !exists {
		return nil, domain.ErrCallNotFound
	}

	return cloneRecord(r.records[id]), nil
}

func (r *MemoryCallRepository) Update(ctx context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; !exists {
		return domain.ErrCallNotFound
	}

	r.records[record.ID] = cloneRecord(record)
	return nil
}

func cloneRecord(record *domain.CallRecord) *domain.CallRecord {
	clone := *record
	if record.StartedAt != nil {
		startedAt := *record.StartedAt
		clone.StartedAt = &startedAt
	}
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		clone.EndedAt = &endedAt
	}
	return &clone
}
