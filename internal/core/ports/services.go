package ports

import (
	"context"

	"campuscall/internal/core/domain"
)

// CallRecordService keeps the persisted call record consistent with the live
// connection state. All transitions are idempotent: both peers may drive the
// same transition and the record must end up written exactly once.
type CallRecordService interface {
	// OpenCall creates the record for a signaling call id, or returns the
	// existing one when the other peer (or a retry) already created it.
	OpenCall(ctx context.Context, signalID domain.CallID, caller, callee domain.UserID) (*domain.CallRecord, error)

	// MarkActive stamps StartedAt on the first call only; later calls for the
	// same id return the record unchanged.
	MarkActive(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error)

	// MarkEnded stamps EndedAt and computes DurationSeconds (floor of whole
	// seconds since StartedAt, zero when the call never went active).
	MarkEnded(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error)

	MarkFailed(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error)

	GetByID(ctx context.Context, id string) (*domain.CallRecord, error)
	GetBySignalID(ctx context.Context, signalID domain.CallID) (*domain.CallRecord, error)
}

// ChatService persists session chat and serves history reads. The live relay
// never writes through this; clients do, before or after sending on the relay.
type ChatService interface {
	Append(ctx context.Context, callID domain.CallID, userID domain.UserID, text string) (*domain.ChatMessage, error)
	History(ctx context.Context, callID domain.CallID) ([]*domain.ChatMessage, error)
}
