package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/services"
	"campuscall/internal/infrastructure/repositories/memory"
	"campuscall/internal/infrastructure/signalbus"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotifierHarness(t *testing.T, broker *signalbus.MemoryBroker, local domain.Identity, ringTimeout time.Duration) (*coordinatorHarness, *Notifier) {
	t.Helper()

	records := services.NewCallRecordService(memory.NewMemoryCallRepository())
	h := newCoordinatorHarness(t, broker, records, local, time.Minute)

	notifier, err := NewNotifier(local, h.localBus, h.coordinator, ringTimeout, h.coordinator.logger)
	require.NoError(t, err)
	t.Cleanup(func() { notifier.Close() })

	return h, notifier
}

func publishOffer(t *testing.T, broker *signalbus.MemoryBroker, caller, callee domain.Identity, callID domain.CallID) *envelopeLog {
	t.Helper()

	bus, log := attachPeer(t, broker, caller)
	err := bus.Publish(context.Background(), &domain.SignalEnvelope{
		Kind:        domain.SignalOffer,
		To:          callee.ID,
		CallID:      callID,
		Payload:     mustMarshal(t, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}),
		DisplayName: caller.DisplayName,
		Role:        caller.Role,
	})
	require.NoError(t, err)

	return log
}

func TestNotifier_PromptCarriesCallerMetadata(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	_, notifier := newNotifierHarness(t, broker, bob, time.Minute)

	publishOffer(t, broker, alice, bob, "call-1")

	select {
	case prompt := <-notifier.Prompts():
		assert.Equal(t, domain.CallID("call-1"), prompt.CallID)
		assert.Equal(t, alice.ID, prompt.Caller.ID)
		assert.Equal(t, alice.DisplayName, prompt.Caller.DisplayName)
		assert.Equal(t, alice.Role, prompt.Caller.Role)
		assert.False(t, prompt.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no prompt arrived")
	}
}

func TestNotifier_AcceptJoinsTheCall(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, notifier := newNotifierHarness(t, broker, bob, time.Minute)

	callerLog := publishOffer(t, broker, alice, bob, "call-1")

	prompt := <-notifier.Prompts()
	require.NoError(t, prompt.Accept(context.Background()))

	assert.Equal(t, CallNegotiating, h.coordinator.State())
	eventually(t, func() bool { return callerLog.first(domain.SignalAnswer) != nil }, "caller never got the answer")

	// Resolving twice loses.
	assert.ErrorIs(t, prompt.Reject(context.Background()), domain.ErrPromptExpired)
}

func TestNotifier_RejectDeclinesTheCall(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, notifier := newNotifierHarness(t, broker, bob, time.Minute)

	callerLog := publishOffer(t, broker, alice, bob, "call-1")

	prompt := <-notifier.Prompts()
	require.NoError(t, prompt.Reject(context.Background()))

	assert.Equal(t, CallIdle, h.coordinator.State())
	eventually(t, func() bool { return callerLog.first(domain.SignalEndCall) != nil }, "caller never got the decline")

	assert.ErrorIs(t, prompt.Accept(context.Background()), domain.ErrPromptExpired)
}

func TestNotifier_SecondOfferWhilePromptVisibleIsDeclinedBusy(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, notifier := newNotifierHarness(t, broker, bob, time.Minute)

	carol := domain.Identity{ID: "carol", DisplayName: "Carol", Role: domain.RoleStudent}

	publishOffer(t, broker, alice, bob, "call-1")

	prompt := <-notifier.Prompts()

	carolLog := publishOffer(t, broker, carol, bob, "call-2")

	// Carol is declined without disturbing the visible prompt.
	eventually(t, func() bool { return carolLog.first(domain.SignalEndCall) != nil }, "second caller was not declined")
	decline := carolLog.first(domain.SignalEndCall)
	assert.Equal(t, domain.CallID("call-2"), decline.CallID)

	// The first prompt is still actionable.
	require.NoError(t, prompt.Accept(context.Background()))
	assert.Equal(t, CallNegotiating, h.coordinator.State())
	assert.Equal(t, domain.CallID("call-1"), h.coordinator.CallID())
}

func TestNotifier_OfferDuringLiveCallIsDeclinedBusy(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, _ := newNotifierHarness(t, broker, bob, time.Minute)

	carol := domain.Identity{ID: "carol", DisplayName: "Carol", Role: domain.RoleStudent}

	_, err := h.coordinator.StartCall(context.Background(), alice)
	require.NoError(t, err)

	carolLog := publishOffer(t, broker, carol, bob, "call-2")
	eventually(t, func() bool { return carolLog.first(domain.SignalEndCall) != nil }, "offer during live call was not declined")
}

func TestNotifier_RingTimeoutMissesTheCall(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, notifier := newNotifierHarness(t, broker, bob, 50*time.Millisecond)

	var missed []*Prompt
	var missedMu sync.Mutex
	notifier.OnMissed = func(prompt *Prompt) {
		missedMu.Lock()
		missed = append(missed, prompt)
		missedMu.Unlock()
	}

	callerLog := publishOffer(t, broker, alice, bob, "call-1")

	prompt := <-notifier.Prompts()

	eventually(t, func() bool {
		missedMu.Lock()
		defer missedMu.Unlock()
		return len(missed) == 1
	}, "ring timeout never fired")

	// The prompt expired; it is never auto-accepted and cannot be acted on.
	assert.Equal(t, CallIdle, h.coordinator.State())
	assert.ErrorIs(t, prompt.Accept(context.Background()), domain.ErrPromptExpired)

	// The caller's ringing is stopped.
	eventually(t, func() bool { return callerLog.first(domain.SignalEndCall) != nil })
}

func TestNotifier_RejectDiscardsBufferedCandidates(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, notifier := newNotifierHarness(t, broker, bob, time.Minute)

	publishOffer(t, broker, alice, bob, "call-1")
	prompt := <-notifier.Prompts()

	h.coordinator.handleCandidate(&domain.SignalEnvelope{
		Kind:    domain.SignalICECandidate,
		From:    alice.ID,
		To:      bob.ID,
		CallID:  "call-1",
		Payload: mustMarshal(t, webrtc.ICECandidateInit{Candidate: "c1"}),
	})

	require.NoError(t, prompt.Reject(context.Background()))

	h.coordinator.mu.Lock()
	defer h.coordinator.mu.Unlock()
	assert.Empty(t, h.coordinator.earlyCandidates)
}

func TestNotifier_RingTimeoutDiscardsBufferedCandidates(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	h, notifier := newNotifierHarness(t, broker, bob, 50*time.Millisecond)

	publishOffer(t, broker, alice, bob, "call-1")
	<-notifier.Prompts()

	h.coordinator.handleCandidate(&domain.SignalEnvelope{
		Kind:    domain.SignalICECandidate,
		From:    alice.ID,
		To:      bob.ID,
		CallID:  "call-1",
		Payload: mustMarshal(t, webrtc.ICECandidateInit{Candidate: "c1"}),
	})

	eventually(t, func() bool {
		h.coordinator.mu.Lock()
		defer h.coordinator.mu.Unlock()
		return len(h.coordinator.earlyCandidates) == 0
	}, "ring timeout did not evict buffered candidates")
}

func TestNotifier_NonOfferSignalsIgnored(t *testing.T) {
	broker := signalbus.NewMemoryBroker()
	_, notifier := newNotifierHarness(t, broker, bob, time.Minute)

	aliceBus, _ := attachPeer(t, broker, alice)
	err := aliceBus.Publish(context.Background(), &domain.SignalEnvelope{
		Kind:   domain.SignalEndCall,
		To:     bob.ID,
		CallID: "call-1",
	})
	require.NoError(t, err)

	select {
	case <-notifier.Prompts():
		t.Fatal("non-offer signal produced a prompt")
	case <-time.After(100 * time.Millisecond):
	}
}
