package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"

	"go.uber.org/zap"
)

// Prompt is one actionable incoming-call notification. Exactly one prompt is
// live at a time; it resolves by Accept, Reject or the ring timeout, and any
// later Accept/Reject returns domain.ErrPromptExpired.
type Prompt struct {
	CallID     domain.CallID
	Caller     domain.Identity
	ReceivedAt time.Time

	offer    *domain.SignalEnvelope
	notifier *Notifier
}

// Accept hands the offer to the coordinator's callee path.
func (p *Prompt) Accept(ctx context.Context) error {
	if err := p.notifier.resolve(p); err != nil {
		return err
	}
	return p.notifier.coordinator.AcceptCall(ctx, p.offer)
}

// Reject dismisses the prompt and tells the caller, best-effort.
func (p *Prompt) Reject(ctx context.Context) error {
	if err := p.notifier.resolve(p); err != nil {
		return err
	}
	p.notifier.declineCall(ctx, p.offer)
	return nil
}

// Notifier watches the signal bus for offers addressed to the local identity
// and surfaces them as prompts while no call is in progress.
//
// A second offer arriving while a prompt is visible (or a call is live) is
// declined busy rather than queued; it is never auto-accepted.
type Notifier struct {
	local       domain.Identity
	bus         ports.SignalBus
	coordinator *Coordinator
	ringTimeout time.Duration
	logger      *zap.SugaredLogger

	// OnMissed, when set, fires after a prompt rings out unanswered.
	OnMissed func(prompt *Prompt)

	mu          sync.Mutex
	current     *Prompt
	ringTimer   *time.Timer
	unsubscribe ports.UnsubscribeFunc
	closed      bool

	prompts chan *Prompt
}

func NewNotifier(local domain.Identity, bus ports.SignalBus, coordinator *Coordinator, ringTimeout time.Duration, logger *zap.SugaredLogger) (*Notifier, error) {
	if ringTimeout <= 0 {
		return nil, fmt.Errorf("ring timeout must be > 0")
	}

	n := &Notifier{
		local:       local,
		bus:         bus,
		coordinator: coordinator,
		ringTimeout: ringTimeout,
		logger:      logger,
		prompts:     make(chan *Prompt, 1),
	}

	unsubscribe, err := bus.Subscribe(local.ID, n.handleSignal)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to signal bus: %w", err)
	}
	n.unsubscribe = unsubscribe

	return n, nil
}

// Prompts delivers live prompts to the presentation layer.
func (n *Notifier) Prompts() <-chan *Prompt {
	return n.prompts
}

func (n *Notifier) handleSignal(envelope *domain.SignalEnvelope) {
	if envelope.Kind != domain.SignalOffer {
		return
	}

	n.mu.Lock()

	if n.closed {
		n.mu.Unlock()
		return
	}

	if n.current != nil || n.coordinator.InCall() {
		n.mu.Unlock()
		n.logger.Infow("declining offer: busy",
			"from", envelope.From,
			"call_id", envelope.CallID,
		)
		n.declineCall(context.Background(), envelope)
		return
	}

	prompt := &Prompt{
		CallID: envelope.CallID,
		Caller: domain.Identity{
			ID:          envelope.From,
			DisplayName: envelope.DisplayName,
			Role:        envelope.Role,
		},
		ReceivedAt: time.Now(),
		offer:      envelope,
		notifier:   n,
	}

	select {
	case n.prompts <- prompt:
	default:
		// Nobody consuming prompts means nobody to accept; decline rather
		// than hold a ring the user will never see.
		n.mu.Unlock()
		n.logger.Warnw("declining offer: no prompt consumer", "from", envelope.From)
		n.declineCall(context.Background(), envelope)
		return
	}

	n.current = prompt
	n.ringTimer = time.AfterFunc(n.ringTimeout, func() {
		n.ringTimeoutFired(prompt)
	})
	n.mu.Unlock()

	n.logger.Infow("incoming call",
		"from", envelope.From,
		"display_name", envelope.DisplayName,
		"call_id", envelope.CallID,
	)
}

// resolve atomically claims the prompt; only the first resolver wins.
func (n *Notifier) resolve(prompt *Prompt) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != prompt {
		return domain.ErrPromptExpired
	}

	n.current = nil
	if n.ringTimer != nil {
		n.ringTimer.Stop()
		n.ringTimer = nil
	}
	return nil
}

func (n *Notifier) ringTimeoutFired(prompt *Prompt) {
	if err := n.resolve(prompt); err != nil {
		// Accepted or rejected first.
		return
	}

	n.logger.Infow("call missed", "from", prompt.Caller.ID, "call_id", prompt.CallID)

	// Not required, but preferred: stop the caller's ringing too.
	n.declineCall(context.Background(), prompt.offer)

	if n.OnMissed != nil {
		n.OnMissed(prompt)
	}
}

func (n *Notifier) declineCall(ctx context.Context, offer *domain.SignalEnvelope) {
	// The offer will never be accepted; any candidates buffered for it go too.
	n.coordinator.discardEarlyCandidates(offer.From, offer.CallID)

	err := n.bus.Publish(ctx, &domain.SignalEnvelope{
		Kind:   domain.SignalEndCall,
		To:     offer.From,
		CallID: offer.CallID,
	})
	if err != nil {
		n.logger.Warnw("failed to send decline", "to", offer.From, "error", err)
	}
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if n.current != nil {
		n.coordinator.discardEarlyCandidates(n.current.Caller.ID, n.current.CallID)
	}
	n.current = nil
	if n.ringTimer != nil {
		n.ringTimer.Stop()
		n.ringTimer = nil
	}
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
	return nil
}
