package domain

import "errors"

var (
	ErrCallNotFound    = errors.New("call record not found")
	ErrCallExists      = errors.New("call record already exists")
	ErrInvalidEnvelope = errors.New("invalid signal envelope")
	ErrCallInProgress  = errors.New("a call is already in progress")
	ErrEngineClosed    = errors.New("negotiation engine closed")
	ErrBusClosed       = errors.New("signal bus closed")
	ErrPromptExpired   = errors.New("incoming-call prompt no longer active")
)
