package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/ports"
	"campuscall/internal/media"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// CallState is the coordinator's view of one call. Ended and Failed are
// terminal: no transition leaves them, and a subsequent call is a fresh
// session starting from Idle.
type CallState string

const (
	CallIdle           CallState = "idle"
	CallInitiating     CallState = "initiating"
	CallAwaitingAnswer CallState = "awaiting-answer"
	CallNegotiating    CallState = "negotiating"
	CallActive         CallState = "active"
	CallEnded          CallState = "ended"
	CallFailed         CallState = "failed"
)

// Notice is a non-fatal, user-facing condition: degraded media, lost signals,
// record-write inconsistencies. Notices never change the call state.
type Notice struct {
	Code    string
	Message string
}

// negotiator is the slice of the Engine the coordinator drives; a seam for
// tests that exercise the state machine without a real peer connection.
type negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer(remoteOffer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// EngineFactory builds the negotiation engine for one call.
type EngineFactory func(tracks []webrtc.TrackLocal, events EngineEvents) (negotiator, error)

// maxEarlyCandidates bounds how many candidates are held per offer for a
// call that has not been accepted yet (prompt still visible), and
// maxEarlyBuffers bounds how many such offers are buffered for at once.
const (
	maxEarlyCandidates = 32
	maxEarlyBuffers    = 16
)

// earlyKey identifies one pending offer's candidate buffer. Keying by call id
// as well as sender keeps candidates from a peer's earlier, unaccepted call
// out of a later call's connection.
type earlyKey struct {
	from   domain.UserID
	callID domain.CallID
}

type CoordinatorConfig struct {
	Local         domain.Identity
	ICEServers    []webrtc.ICEServer
	AnswerTimeout time.Duration

	// NewSource provides a fresh media source per call; local streams are
	// never shared between calls.
	NewSource func() media.Source

	// OnNotice, OnStateChange and OnRemoteTrack run on coordinator internal
	// goroutines and must not call back into the coordinator synchronously.
	OnNotice      func(Notice)
	OnStateChange func(state CallState)
	OnRemoteTrack func(track *webrtc.TrackRemote)

	// EngineFactory overrides the pion-backed default. Tests only.
	EngineFactory EngineFactory
}

// Coordinator orchestrates media acquisition, the negotiation engine and the
// persisted call record for one call at a time.
type Coordinator struct {
	cfg     CoordinatorConfig
	bus     ports.SignalBus
	records ports.CallRecordService
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	state  CallState
	callID domain.CallID
	peer   domain.UserID
	engine negotiator
	acq    *media.Acquisition

	answerTimer *time.Timer

	// Candidates received for a call the local side has not joined yet
	// (offer still sitting in the notifier's prompt).
	earlyCandidates map[earlyKey][]webrtc.ICECandidateInit

	unsubscribe ports.UnsubscribeFunc
	closed      bool
}

func NewCoordinator(cfg CoordinatorConfig, bus ports.SignalBus, records ports.CallRecordService, logger *zap.SugaredLogger) (*Coordinator, error) {
	if cfg.AnswerTimeout <= 0 {
		return nil, fmt.Errorf("answer timeout must be > 0")
	}
	if cfg.NewSource == nil {
		return nil, fmt.Errorf("media source factory is required")
	}

	c := &Coordinator{
		cfg:             cfg,
		bus:             bus,
		records:         records,
		logger:          logger,
		state:           CallIdle,
		earlyCandidates: make(map[earlyKey][]webrtc.ICECandidateInit),
	}

	if c.cfg.EngineFactory == nil {
		c.cfg.EngineFactory = func(tracks []webrtc.TrackLocal, events EngineEvents) (negotiator, error) {
			return NewEngine(cfg.ICEServers, tracks, events, logger)
		}
	}

	unsubscribe, err := bus.Subscribe(cfg.Local.ID, c.handleSignal)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to signal bus: %w", err)
	}
	c.unsubscribe = unsubscribe

	return c, nil
}

// State returns the current call's state, CallIdle when no call exists.
func (c *Coordinator) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InCall reports whether a call is currently in progress (any non-terminal,
// non-idle state).
func (c *Coordinator) InCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgressLocked()
}

func (c *Coordinator) inProgressLocked() bool {
	switch c.state {
	case CallInitiating, CallAwaitingAnswer, CallNegotiating, CallActive:
		return true
	}
	return false
}

// CallID returns the signaling id of the current (or last) call.
func (c *Coordinator) CallID() domain.CallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// StartCall is the caller path: acquire media, create the engine, open the
// persisted record, send the offer and wait for an answer.
func (c *Coordinator) StartCall(ctx context.Context, callee domain.Identity) (domain.CallID, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return "", domain.ErrBusClosed
	}
	if c.inProgressLocked() {
		c.mu.Unlock()
		return "", domain.ErrCallInProgress
	}

	callID := domain.CallID(uuid.New().String())
	c.callID = callID
	c.peer = callee.ID
	c.setStateLocked(CallInitiating)

	acq, engine, err := c.setupSessionLocked(ctx, callID)
	if err != nil {
		c.failLocked(callID, fmt.Sprintf("failed to set up call: %v", err))
		c.mu.Unlock()
		return "", err
	}
	c.acq = acq
	c.engine = engine

	if _, err := c.records.OpenCall(ctx, callID, c.cfg.Local.ID, callee.ID); err != nil {
		// The live call survives record-store trouble; surface it instead.
		c.logger.Warnw("failed to open call record", "call_id", callID, "error", err)
		c.noticeLocked("record-inconsistent", "call record could not be created")
	}

	offer, err := engine.CreateOffer()
	if err != nil {
		c.failLocked(callID, fmt.Sprintf("failed to create offer: %v", err))
		c.mu.Unlock()
		return "", err
	}

	offerEnv := &domain.SignalEnvelope{
		Kind:        domain.SignalOffer,
		To:          callee.ID,
		CallID:      callID,
		Payload:     marshalDescription(offer),
		DisplayName: c.cfg.Local.DisplayName,
		Role:        c.cfg.Local.Role,
	}

	c.setStateLocked(CallAwaitingAnswer)
	c.answerTimer = time.AfterFunc(c.cfg.AnswerTimeout, func() {
		c.answerTimedOut(callID)
	})

	c.mu.Unlock()

	c.publish(offerEnv)
	return callID, nil
}

// AcceptCall is the callee path: the notifier (or app) hands over an accepted
// offer envelope; the coordinator joins the call and sends the answer.
func (c *Coordinator) AcceptCall(ctx context.Context, offer *domain.SignalEnvelope) error {
	if offer.Kind != domain.SignalOffer {
		return fmt.Errorf("%w: not an offer", domain.ErrInvalidEnvelope)
	}

	var remoteOffer webrtc.SessionDescription
	if err := json.Unmarshal(offer.Payload, &remoteOffer); err != nil {
		return fmt.Errorf("%w: malformed offer description", domain.ErrInvalidEnvelope)
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return domain.ErrBusClosed
	}
	if c.inProgressLocked() {
		c.mu.Unlock()
		return domain.ErrCallInProgress
	}

	callID := offer.CallID
	c.callID = callID
	c.peer = offer.From
	c.setStateLocked(CallNegotiating)

	acq, engine, err := c.setupSessionLocked(ctx, callID)
	if err != nil {
		c.failLocked(callID, fmt.Sprintf("failed to set up call: %v", err))
		c.mu.Unlock()
		return err
	}
	c.acq = acq
	c.engine = engine

	if _, err := c.records.OpenCall(ctx, callID, offer.From, c.cfg.Local.ID); err != nil {
		c.logger.Warnw("failed to open call record", "call_id", callID, "error", err)
		c.noticeLocked("record-inconsistent", "call record could not be created")
	}

	answer, err := engine.CreateAnswer(remoteOffer)
	if err != nil {
		c.failLocked(callID, fmt.Sprintf("failed to create answer: %v", err))
		c.mu.Unlock()
		return err
	}

	// Candidates that raced ahead of the accept are applied now, in the
	// order they were received. Only this offer's buffer: candidates from
	// the same peer's other calls stay out of this connection.
	key := earlyKey{from: offer.From, callID: callID}
	for _, candidate := range c.earlyCandidates[key] {
		if err := engine.AddICECandidate(candidate); err != nil {
			c.logger.Warnw("failed to apply early ice candidate", "call_id", callID, "error", err)
		}
	}
	delete(c.earlyCandidates, key)

	answerEnv := &domain.SignalEnvelope{
		Kind:    domain.SignalAnswer,
		To:      offer.From,
		CallID:  callID,
		Payload: marshalDescription(answer),
	}

	c.mu.Unlock()

	c.publish(answerEnv)
	return nil
}

// EndCall is the local hangup: tear down, persist ended, signal the peer.
func (c *Coordinator) EndCall(ctx context.Context) error {
	c.mu.Lock()

	if !c.inProgressLocked() {
		c.mu.Unlock()
		return nil
	}

	farewell := c.teardownLocked(CallEnded, true)
	c.mu.Unlock()

	if farewell != nil {
		c.publish(farewell)
	}
	return nil
}

// Close unsubscribes from the bus and ends any call in progress.
func (c *Coordinator) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var farewell *domain.SignalEnvelope
	if c.inProgressLocked() {
		farewell = c.teardownLocked(CallEnded, true)
	}
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if farewell != nil {
		c.publish(farewell)
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

// setupSessionLocked acquires fresh media and builds the negotiation engine
// for callID. Engine events carry the call id so stale callbacks from a
// previous call's engine can never touch the current session.
func (c *Coordinator) setupSessionLocked(ctx context.Context, callID domain.CallID) (*media.Acquisition, negotiator, error) {
	source := c.cfg.NewSource()
	acq := media.Acquire(ctx, source, func(n media.Notice) {
		c.logger.Warnw("media degraded", "call_id", callID, "level", n.Level.String(), "reason", n.Reason)
		if c.cfg.OnNotice != nil {
			c.cfg.OnNotice(Notice{Code: "media-degraded", Message: fmt.Sprintf("continuing %s: %s", n.Level, n.Reason)})
		}
	})

	peer := c.peer
	events := EngineEvents{
		OnCandidate: func(candidate webrtc.ICECandidateInit) {
			c.sendLocalCandidate(callID, peer, candidate)
		},
		OnStateChange: func(state ConnectionState) {
			c.handleEngineState(callID, state)
		},
		OnRemoteTrack: c.cfg.OnRemoteTrack,
	}

	engine, err := c.cfg.EngineFactory(acq.Tracks, events)
	if err != nil {
		acq.Close()
		return nil, nil, fmt.Errorf("failed to create negotiation engine: %w", err)
	}

	return acq, engine, nil
}

// sendLocalCandidate pushes a locally gathered candidate to the peer. A
// candidate with no known peer is dropped with a warning, never retried.
func (c *Coordinator) sendLocalCandidate(callID domain.CallID, peer domain.UserID, candidate webrtc.ICECandidateInit) {
	if peer == "" {
		c.logger.Warnw("dropping local ice candidate: peer identity unknown", "call_id", callID)
		return
	}

	payload, err := json.Marshal(candidate)
	if err != nil {
		c.logger.Warnw("failed to marshal ice candidate", "call_id", callID, "error", err)
		return
	}

	c.publish(&domain.SignalEnvelope{
		Kind:    domain.SignalICECandidate,
		To:      peer,
		CallID:  callID,
		Payload: payload,
	})
}

// handleSignal is the bus subscription: answer, candidate and end-call
// envelopes addressed to the local identity. Offers are the notifier's job.
func (c *Coordinator) handleSignal(envelope *domain.SignalEnvelope) {
	switch envelope.Kind {
	case domain.SignalAnswer:
		c.handleAnswer(envelope)
	case domain.SignalICECandidate:
		c.handleCandidate(envelope)
	case domain.SignalEndCall:
		c.handleRemoteEnd(envelope)
	}
}

func (c *Coordinator) handleAnswer(envelope *domain.SignalEnvelope) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(envelope.Payload, &answer); err != nil {
		c.logger.Warnw("dropping malformed answer", "from", envelope.From, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallAwaitingAnswer || envelope.From != c.peer {
		c.logger.Debugw("ignoring answer", "from", envelope.From, "state", c.state)
		return
	}

	if err := c.engine.ApplyRemoteAnswer(answer); err != nil {
		c.logger.Warnw("failed to apply remote answer", "call_id", c.callID, "error", err)
		c.noticeLocked("negotiation-degraded", "could not apply the peer's answer")
		return
	}

	c.stopAnswerTimerLocked()
	c.setStateLocked(CallNegotiating)
}

func (c *Coordinator) handleCandidate(envelope *domain.SignalEnvelope) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(envelope.Payload, &candidate); err != nil {
		c.logger.Warnw("dropping malformed ice candidate", "from", envelope.From, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine != nil && c.inProgressLocked() && envelope.From == c.peer && envelope.CallID == c.callID {
		if err := c.engine.AddICECandidate(candidate); err != nil {
			c.logger.Warnw("failed to add remote ice candidate", "call_id", c.callID, "error", err)
		}
		return
	}

	// No engine for this offer yet: it may still be sitting in the
	// incoming-call prompt. Hold the candidate for a potential accept.
	key := earlyKey{from: envelope.From, callID: envelope.CallID}
	held, exists := c.earlyCandidates[key]
	if !exists && len(c.earlyCandidates) >= maxEarlyBuffers {
		c.logger.Warnw("dropping early ice candidate: too many pending offers", "from", envelope.From, "call_id", envelope.CallID)
		return
	}
	if len(held) >= maxEarlyCandidates {
		c.logger.Warnw("dropping early ice candidate: buffer full", "from", envelope.From, "call_id", envelope.CallID)
		return
	}
	c.earlyCandidates[key] = append(held, candidate)
}

// discardEarlyCandidates drops the candidate buffer for one offer. The
// notifier calls it whenever a prompt resolves without an accept.
func (c *Coordinator) discardEarlyCandidates(from domain.UserID, callID domain.CallID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.earlyCandidates, earlyKey{from: from, callID: callID})
}

func (c *Coordinator) handleRemoteEnd(envelope *domain.SignalEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inProgressLocked() || envelope.From != c.peer {
		return
	}

	// The peer already tore down; no end-call goes back.
	c.teardownLocked(CallEnded, false)
}

// handleEngineState reacts to the reduced connection-state stream.
func (c *Coordinator) handleEngineState(callID domain.CallID, state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.callID != callID {
		// A previous call's engine winding down.
		return
	}

	switch state {
	case StateConnected:
		if c.state != CallNegotiating {
			return
		}
		c.stopAnswerTimerLocked()
		c.setStateLocked(CallActive)
		if _, err := c.records.MarkActive(context.Background(), callID); err != nil {
			c.logger.Warnw("failed to mark call record active", "call_id", callID, "error", err)
			c.noticeLocked("record-inconsistent", "call record is out of date")
		}

	case StateDisconnected:
		if c.inProgressLocked() {
			c.noticeLocked("connection-degraded", "connection to the peer was interrupted")
		}

	case StateFailed:
		if c.inProgressLocked() {
			c.teardownLocked(CallFailed, false)
		}
	}
}

func (c *Coordinator) answerTimedOut(callID domain.CallID) {
	c.mu.Lock()

	if c.callID != callID || c.state != CallAwaitingAnswer {
		c.mu.Unlock()
		return
	}

	c.noticeLocked("call-unanswered", "the call was not answered")
	farewell := c.teardownLocked(CallFailed, true)
	c.mu.Unlock()

	if farewell != nil {
		c.publish(farewell)
	}
}

// failLocked is terminal setup failure: release what exists, persist failed.
func (c *Coordinator) failLocked(callID domain.CallID, reason string) {
	c.logger.Warnw("call failed", "call_id", callID, "reason", reason)
	c.teardownLocked(CallFailed, false)
}

// teardownLocked drives every path out of a live call: local hangup, remote
// end-call, negotiation failure, answer timeout and setup errors. It stops
// local media, disposes the engine and persists the terminal status. For
// locally initiated ends it returns the end-call envelope for the peer; the
// caller publishes it after releasing the mutex so transport I/O never runs
// under the lock.
func (c *Coordinator) teardownLocked(terminal CallState, signalPeer bool) *domain.SignalEnvelope {
	c.stopAnswerTimerLocked()

	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			c.logger.Warnw("failed to close negotiation engine", "call_id", c.callID, "error", err)
		}
		c.engine = nil
	}
	if c.acq != nil {
		if err := c.acq.Close(); err != nil {
			c.logger.Warnw("failed to stop local media", "call_id", c.callID, "error", err)
		}
		c.acq = nil
	}

	delete(c.earlyCandidates, earlyKey{from: c.peer, callID: c.callID})

	var err error
	if terminal == CallFailed {
		_, err = c.records.MarkFailed(context.Background(), c.callID)
	} else {
		_, err = c.records.MarkEnded(context.Background(), c.callID)
	}
	if err != nil {
		c.logger.Warnw("failed to persist terminal call status", "call_id", c.callID, "status", terminal, "error", err)
		c.noticeLocked("record-inconsistent", "call record is out of date")
	}

	var farewell *domain.SignalEnvelope
	if signalPeer && c.peer != "" {
		farewell = &domain.SignalEnvelope{
			Kind:   domain.SignalEndCall,
			To:     c.peer,
			CallID: c.callID,
		}
	}

	c.setStateLocked(terminal)
	return farewell
}

func (c *Coordinator) stopAnswerTimerLocked() {
	if c.answerTimer != nil {
		c.answerTimer.Stop()
		c.answerTimer = nil
	}
}

func (c *Coordinator) setStateLocked(state CallState) {
	c.state = state
	c.logger.Infow("call state changed", "call_id", c.callID, "state", state)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state)
	}
}

func (c *Coordinator) noticeLocked(code, message string) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(Notice{Code: code, Message: message})
	}
}

// publish sends best-effort: transport failures degrade, they never crash or
// end the call by themselves. Callers must not hold c.mu; the bus may do
// network I/O and signal handlers need the lock.
func (c *Coordinator) publish(envelope *domain.SignalEnvelope) {
	if err := c.bus.Publish(context.Background(), envelope); err != nil {
		c.logger.Warnw("signal publish failed",
			"kind", envelope.Kind,
			"to", envelope.To,
			"error", err,
		)
		if c.cfg.OnNotice != nil {
			c.cfg.OnNotice(Notice{Code: "signal-degraded", Message: "a signaling message could not be delivered"})
		}
	}
}

func marshalDescription(desc webrtc.SessionDescription) json.RawMessage {
	data, err := json.Marshal(desc)
	if err != nil {
		return nil
	}
	return data
}
