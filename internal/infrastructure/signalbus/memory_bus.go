package signalbus

import (
	"context"
	"encoding/json"
	"sync"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"

	"go.uber.org/zap"
)

// MemoryBroker is the in-process stand-in for the shared broadcast channel.
// Endpoints attached to the same broker see each other's envelopes exactly the
// way processes sharing one Redis channel would: every endpoint receives every
// envelope and filters by identity.
type MemoryBroker struct {
	mu        sync.RWMutex
	endpoints []*MemoryBus
	closed    bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// Attach binds a new endpoint for one authenticated local identity.
func (br *MemoryBroker) Attach(local domain.Identity, logger *zap.SugaredLogger) *MemoryBus {
	bus := &MemoryBus{
		broker: br,
		local:  local,
		logger: logger,
		subs:   make(map[int]subscription),
		queue:  make(chan *domain.SignalEnvelope, 64),
		done:   make(chan struct{}),
	}

	br.mu.Lock()
	br.endpoints = append(br.endpoints, bus)
	br.mu.Unlock()

	go bus.dispatchLoop()

	return bus
}

func (br *MemoryBroker) broadcast(envelope *domain.SignalEnvelope) {
	br.mu.RLock()
	endpoints := make([]*MemoryBus, len(br.endpoints))
	copy(endpoints, br.endpoints)
	br.mu.RUnlock()

	for _, endpoint := range endpoints {
		endpoint.deliver(envelope)
	}
}

// MemoryBus is one endpoint on a MemoryBroker. Delivery to local handlers runs
// on a dedicated goroutine so a handler that publishes in response never
// re-enters the publisher's stack.
type MemoryBus struct {
	broker *MemoryBroker
	local  domain.Identity
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
	closed bool

	queue chan *domain.SignalEnvelope
	done  chan struct{}
}

func (b *MemoryBus) dispatchLoop() {
	defer close(b.done)

	for envelope := range b.queue {
		b.mu.RLock()
		var handlers []ports.SignalHandler
		for _, sub := range b.subs {
			if sub.identity == envelope.To {
				handlers = append(handlers, sub.handler)
			}
		}
		b.mu.RUnlock()

		for _, handler := range handlers {
			handler(envelope)
		}
	}
}

func (b *MemoryBus) deliver(envelope *domain.SignalEnvelope) {
	// Deep copy through JSON so no endpoint can mutate another's view.
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	clone := &domain.SignalEnvelope{}
	if err := json.Unmarshal(data, clone); err != nil {
		return
	}

	// The read lock is held across the send so Close cannot close the queue
	// under an in-flight delivery.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.queue <- clone:
	default:
		// A full mailbox loses envelopes, same as the real channel under
		// backpressure. Surfaced, not fatal.
		b.logger.Warnw("signal mailbox full, dropping envelope",
			"kind", envelope.Kind,
			"to", envelope.To,
		)
	}
}

func (b *MemoryBus) Publish(ctx context.Context, envelope *domain.SignalEnvelope) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return domain.ErrBusClosed
	}

	envelope.From = b.local.ID
	if err := envelope.Validate(); err != nil {
		return err
	}

	b.broker.broadcast(envelope)
	return nil
}

func (b *MemoryBus) Subscribe(identity domain.UserID, handler ports.SignalHandler) (ports.UnsubscribeFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, domain.ErrBusClosed
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{identity: identity, handler: handler}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done
	return nil
}
