package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const chatMessagesKeyPrefix = "chat:messages:"

type RedisChatRepository struct {
	client *redis.Client
}

func NewRedisChatRepository(client *redis.Client) ports.ChatMessageRepository {
	return &RedisChatRepository{client: client}
}

func (r *RedisChatRepository) Append(ctx context.Context, message *domain.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	if err := r.client.RPush(ctx, chatMessagesKeyPrefix+string(message.CallID), data).Err(); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	return nil
}

func (r *RedisChatRepository) ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.ChatMessage, error) {
	raw, err := r.client.LRange(ctx, chatMessagesKeyPrefix+string(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat messages: %w", err)
	}

	messages := make([]*domain.ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var message domain.ChatMessage
		if err := json.Unmarshal([]byte(entry), &message); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		messages = append(messages, &message)
	}

	// Append order is close to creation order, but the contract is CreatedAt
	// ascending; make it explicit.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}
