package memory

import (
	"context"
	"sort"
	"sync"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"
)

type MemoryChatRepository struct {
	messages map[domain.CallID][]*domain.ChatMessage
	mu       sync.RWMutex
}

func NewMemoryChatRepository() ports.ChatMessageRepository {
	return &MemoryChatRepository{
		messages: make(map[domain.CallID][]*domain.ChatMessage),
	}
}

func (r *MemoryChatRepository) Append(ctx context.Context, message *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *message
	r.messages[message.CallID] = append(r.messages[message.CallID], &clone)
	return nil
}

func (r *MemoryChatRepository) ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.messages[callID]
	messages := make([]*domain.ChatMessage, 0, len(stored))
	for _, message := range stored {
		clone := *message
		messages = append(messages, &clone)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}
