package services

import (
	"context"
	"fmt"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"
	"campuscall/pkg/validation"

	"github.com/google/uuid"
)

type chatService struct {
	chatRepo ports.ChatMessageRepository
}

func NewChatService(chatRepo ports.ChatMessageRepository) ports.ChatService {
	return &chatService{chatRepo: chatRepo}
}

func (s *chatService) Append(ctx context.Context, callID domain.CallID, userID domain.UserID, text string) (*domain.ChatMessage, error) {
	if err := validation.ValidateCallID(string(callID)); err != nil {
		return nil, err
	}
	if err := validation.ValidateChatMessage(text); err != nil {
		return nil, err
	}

	message := &domain.ChatMessage{
		ID:        uuid.New().String(),
		CallID:    callID,
		UserID:    userID,
		Message:   text,
		CreatedAt: time.Now(),
	}

	if err := s.chatRepo.Append(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to append chat message: %w", err)
	}

	return message, nil
}

func (s *chatService) History(ctx context.Context, callID domain.CallID) ([]*domain.ChatMessage, error) {
	return s.chatRepo.ListByCall(ctx, callID)
}
