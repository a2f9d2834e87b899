package ports

import (
	"context"

	"campuscall/internal/core/domain"
)

// SignalHandler receives one envelope addressed to the subscriber's identity.
// Handlers run on the bus's dispatch goroutine and must not block.
type SignalHandler func(envelope *domain.SignalEnvelope)

// UnsubscribeFunc removes a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// SignalBus is the shared broadcast channel all signaling traffic rides on.
//
// It is a mailbox abstraction over one physical topic: Publish fans the
// envelope out to every current subscriber, and each subscription only sees
// envelopes whose To equals its identity. Delivery is at-least-once and
// unordered; envelopes published while nobody is subscribed for the target
// identity are lost. Publish failures are non-fatal to the subsystem.
type SignalBus interface {
	// Publish stamps the envelope's From with the bus's authenticated local
	// identity before sending; caller-supplied From values are not trusted.
	Publish(ctx context.Context, envelope *domain.SignalEnvelope) error

	// Subscribe registers a handler for envelopes addressed to identity.
	// Multiple independent subscriptions for the same identity may coexist.
	Subscribe(identity domain.UserID, handler SignalHandler) (UnsubscribeFunc, error)

	Close() error
}
