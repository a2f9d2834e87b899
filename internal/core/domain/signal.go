package domain

import (
	"encoding/json"
	"fmt"
)

// CallID correlates all signaling traffic for one logical call. It is distinct
// from the persisted record's primary key.
type CallID string

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	SignalEndCall      SignalKind = "end-call"
)

// SignalEnvelope is the unit exchanged over the shared signaling channel.
//
// The channel itself does no routing: every subscriber receives every envelope
// and discards those whose To does not match its own identity. Envelopes are
// neither ordered nor deduplicated in transit, so receivers must tolerate
// duplicate candidates and candidates arriving ahead of the description they
// belong to.
type SignalEnvelope struct {
	Kind    SignalKind      `json:"kind"`
	From    UserID          `json:"from"`
	To      UserID          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
	CallID  CallID          `json:"callId,omitempty"`

	// Presentation-only metadata, set on offer envelopes for the
	// incoming-call prompt. No protocol meaning.
	DisplayName string   `json:"displayName,omitempty"`
	Role        UserRole `json:"role,omitempty"`
}

// Validate reports whether the envelope carries the fields its kind requires.
// Malformed envelopes are dropped by subscribers, never acted on.
func (e *SignalEnvelope) Validate() error {
	if e.To == "" {
		return fmt.Errorf("%w: missing to", ErrInvalidEnvelope)
	}
	if e.From == "" {
		return fmt.Errorf("%w: missing from", ErrInvalidEnvelope)
	}

	switch e.Kind {
	case SignalOffer:
		if e.CallID == "" {
			return fmt.Errorf("%w: offer without callId", ErrInvalidEnvelope)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: offer without description", ErrInvalidEnvelope)
		}
	case SignalAnswer, SignalICECandidate:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: %s without payload", ErrInvalidEnvelope, e.Kind)
		}
	case SignalEndCall:
		// No payload.
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}

	return nil
}
