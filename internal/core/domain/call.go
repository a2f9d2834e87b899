package domain

import "time"

type CallStatus string

const (
	CallStatusPending CallStatus = "pending"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
	CallStatusFailed  CallStatus = "failed"
)

// CallRecord is the persisted view of one logical call. It is created once per
// call (idempotently, keyed by SignalID, since both peers may race to create
// it), mutated on every status transition and never deleted by the core.
type CallRecord struct {
	ID              string
	SignalID        CallID
	CallerID        UserID
	CalleeID        UserID
	Status          CallStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int64
	CreatedAt       time.Time
}

// ChatMessage is one persisted session-chat line. The live relay never writes
// these; clients persist through the chat service and reconstruct history from
// the store on reconnect.
type ChatMessage struct {
	ID        string
	CallID    CallID
	UserID    UserID
	Message   string
	CreatedAt time.Time
}
