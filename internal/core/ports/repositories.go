package ports

import (
	"context"

	"campuscall/internal/core/domain"
)

type CallRecordRepository interface {
	Insert(ctx context.Context, record *domain.CallRecord) error
	GetByID(ctx context.Context, id string) (*domain.CallRecord, error)
	// FindBySignalID returns domain.ErrCallNotFound when no record exists for
	// the signaling call id. At most one record may ever exist per signal id.
	FindBySignalID(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error)
	Update(ctx context.Context, record *domain.CallRecord) error
}

type ChatMessageRepository interface {
	Append(ctx context.Context, message *domain.ChatMessage) error
	// ListByCall returns all messages for the call ordered by CreatedAt ascending.
	ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.ChatMessage, error)
}
