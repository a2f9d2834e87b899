package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"

	"github.com/google/uuid"
)

type callRecordService struct {
	callRepo ports.CallRecordRepository
}

func NewCallRecordService(callRepo ports.CallRecordRepository) ports.CallRecordService {
	return &callRecordService{callRepo: callRepo}
}

// OpenCall is the racing-creation path: both peers may reach it for the same
// signaling call id, so it is lookup-before-insert with a re-lookup when the
// insert loses the race.
func (s *callRecordService) OpenCall(ctx context.Context, signalID domain.CallID, caller, callee domain.UserID) (*domain.CallRecord, error) {
	if existing, err := s.callRepo.FindBySignalID(ctx, signalID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrCallNotFound) {
		return nil, fmt.Errorf("failed to look up call record: %w", err)
	}

	record := &domain.CallRecord{
		ID:        uuid.New().String(),
		SignalID:  signalID,
		CallerID:  caller,
		CalleeID:  callee,
		Status:    domain.CallStatusPending,
		CreatedAt: time.Now(),
	}

	if err := s.callRepo.Insert(ctx, record); err != nil {
		if errors.Is(err, domain.ErrCallExists) {
			return s.callRepo.FindBySignalID(ctx, signalID)
		}
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}

	return record, nil
}

func (s *callRecordService) MarkActive(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error) {
	record, err := s.callRepo.FindBySignalID(ctx, signalID)
	if err != nil {
		return nil, err
	}

	// StartedAt is stamped on the first transition only, and a record that
	// already reached a terminal status stays there.
	if record.StartedAt != nil || isTerminal(record.Status) {
		return record, nil
	}

	now := time.Now()
	record.Status = domain.CallStatusActive
	record.StartedAt = &now

	if err := s.callRepo.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to mark call active: %w", err)
	}

	return record, nil
}

func (s *callRecordService) MarkEnded(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error) {
	record, err := s.callRepo.FindBySignalID(ctx, signalID)
	if err != nil {
		return nil, err
	}

	if isTerminal(record.Status) {
		return record, nil
	}

	now := time.Now()
	record.Status = domain.CallStatusEnded
	record.EndedAt = &now
	if record.StartedAt != nil {
		record.DurationSeconds = int64(now.Sub(*record.StartedAt).Seconds())
	}

	if err := s.callRepo.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to mark call ended: %w", err)
	}

	return record, nil
}

func (s *callRecordService) MarkFailed(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error) {
	record, err := s.callRepo.FindBySignalID(ctx, signalID)
	if err != nil {
		return nil, err
	}

	if isTerminal(record.Status) {
		return record, nil
	}

	record.Status = domain.CallStatusFailed

	if err := s.callRepo.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to mark call failed: %w", err)
	}

	return record, nil
}

func (s *callRecordService) GetByID(ctx context.Context, id string) (*domain.CallRecord, error) {
	return s.callRepo.GetByID(ctx, id)
}

func (s *callRecordService) GetBySignalID(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error) {
	return s.callRepo.FindBySignalID(ctx, signalID)
}

func isTerminal(status domain.CallStatus) bool {
	return status == domain.CallStatusEnded || status == domain.CallStatusFailed
}
