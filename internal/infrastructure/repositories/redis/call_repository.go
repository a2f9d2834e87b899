package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	callRecordKeyPrefix = "call:record:"
	callSignalIndexPfx  = "call:signal:"
)

type RedisCallRepository struct {
	client *redis.Client
}

func NewRedisCallRepository(client *redis.Client) ports.CallRecordRepository {
	return &RedisCallRepository{client: client}
}

// Insert claims the signal-id index with SETNX first; losing that claim means
// the other peer created the record and the caller re-reads instead.
func (r *RedisCallRepository) Insert(ctx context.Context, record *domain.CallRecord) error {
	claimed, err := r.client.SetNX(ctx, callSignalIndexPfx+string(record.SignalID), record.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim signal index: %w", err)
	}
	if !claimed {
		return domain.ErrCallExists
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	if err := r.client.Set(ctx, callRecordKeyPrefix+record.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store call record: %w", err)
	}

	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id string) (*domain.CallRecord, error) {
	data, err := r.client.Get(ctx, callRecordKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to load call record: %w", err)
	}

	var record domain.CallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}

	return &record, nil
}

func (r *RedisCallRepository) FindBySignalID(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error) {
	id, err := r.client.Get(ctx, callSignalIndexPfx+string(signalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to resolve signal index: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *RedisCallRepository) Update(ctx context.Context, record *domain.CallRecord) error {
	exists, err := r.client.Exists(ctx, callRecordKeyPrefix+record.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to check call record: %w", err)
	}
	if exists == 0 {
		return domain.ErrCallNotFound
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	if err := r.client.Set(ctx, callRecordKeyPrefix+record.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}

	return nil
}
