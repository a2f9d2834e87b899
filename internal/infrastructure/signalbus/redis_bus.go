package signalbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus carries signal envelopes over a single shared Redis Pub/Sub channel.
//
// Every process subscribed to the channel receives every envelope; routing is
// equality of the envelope's To against each local subscription's identity.
// Redis Pub/Sub gives no ordering, no persistence and no acknowledgment, which
// matches the contract the call layer is written against.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   domain.Identity
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
	closed bool

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

type subscription struct {
	identity domain.UserID
	handler  ports.SignalHandler
}

func NewRedisBus(client *redis.Client, channel string, local domain.Identity, logger *zap.SugaredLogger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisBus{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger,
		subs:    make(map[int]subscription),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	bus.pubsub = client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning so envelopes
	// published right after construction are not silently lost on our side.
	if _, err := bus.pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to signal channel: %w", err)
	}

	go bus.dispatchLoop(ctx)

	return bus, nil
}

func (b *RedisBus) dispatchLoop(ctx context.Context) {
	defer close(b.done)

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var envelope domain.SignalEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				b.logger.Warnw("dropping malformed signal envelope",
					"error", err,
				)
				continue
			}

			if err := envelope.Validate(); err != nil {
				b.logger.Warnw("dropping invalid signal envelope",
					"error", err,
					"kind", envelope.Kind,
				)
				continue
			}

			b.dispatch(&envelope)
		}
	}
}

func (b *RedisBus) dispatch(envelope *domain.SignalEnvelope) {
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

// Publish stamps From with the bus's authenticated identity and sends the
// envelope to the shared channel. Fire and forget: there is no acknowledgment
// and an envelope nobody is subscribed for is lost.
func (b *RedisBus) Publish(ctx context.Context, envelope *domain.SignalEnvelope) error {
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

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal signal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish signal envelope: %w", err)
	}

	b.logger.Debugw("published signal envelope",
		"kind", envelope.Kind,
		"to", envelope.To,
		"call_id", envelope.CallID,
	)

	return nil
}

func (b *RedisBus) Subscribe(identity domain.UserID, handler ports.SignalHandler) (ports.UnsubscribeFunc, error) {
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

func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	<-b.done
	return err
}
