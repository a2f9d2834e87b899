package call

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"campuscall/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ConnectionState is the reduced view of the underlying transport's state
// enumeration. The engine only reports the transitions the coordinator acts
// on; everything else stays internal.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// EngineEvents are the engine's outbound event stream. Callbacks fire on
// pion's internal goroutines and must not block.
type EngineEvents struct {
	// OnRemoteTrack fires as remote media tracks arrive, asynchronously and
	// possibly after the connection is already reported connected.
	OnRemoteTrack func(track *webrtc.TrackRemote)
	// OnCandidate fires for every locally gathered ICE candidate.
	OnCandidate func(candidate webrtc.ICECandidateInit)
	// OnStateChange fires for the reduced state transitions only.
	OnStateChange func(state ConnectionState)
}

// peerConnection is the slice of *webrtc.PeerConnection the engine drives.
type peerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// Engine owns exactly one peer connection for the lifetime of one call.
//
// Remote ICE candidates that arrive before the remote description is applied
// are buffered, then flushed in receipt order immediately after
// SetRemoteDescription succeeds. The mutex serializes candidate application
// against description application, so a candidate is never applied out of
// order relative to the description it belongs to.
type Engine struct {
	pc     peerConnection
	logger *zap.SugaredLogger

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	closed  bool
}

// NewEngine builds an engine around a fresh peer connection configured with
// the fixed STUN set, attaches the local tracks and wires the event stream.
func NewEngine(iceServers []webrtc.ICEServer, tracks []webrtc.TrackLocal, events EngineEvents, logger *zap.SugaredLogger) (*Engine, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &Engine{pc: pc, logger: logger}
	if err := engine.wire(tracks, events); err != nil {
		pc.Close()
		return nil, err
	}

	return engine, nil
}

// newEngineWithConn is the test seam: everything but the pion constructor.
func newEngineWithConn(pc peerConnection, tracks []webrtc.TrackLocal, events EngineEvents, logger *zap.SugaredLogger) (*Engine, error) {
	engine := &Engine{pc: pc, logger: logger}
	if err := engine.wire(tracks, events); err != nil {
		return nil, err
	}
	return engine, nil
}

func (e *Engine) wire(tracks []webrtc.TrackLocal, events EngineEvents) error {
	for _, track := range tracks {
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add local track: %w", err)
		}
		if sender != nil {
			go e.drainRTCP(sender)
		}
	}

	e.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// Gathering finished.
			return
		}
		if events.OnCandidate != nil {
			events.OnCandidate(candidate.ToJSON())
		}
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Infow("remote track added",
			"kind", track.Kind().String(),
			"id", track.ID(),
		)
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(track)
		}
	})

	e.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Infow("peer connection state changed", "state", state.String())

		if events.OnStateChange == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			events.OnStateChange(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			events.OnStateChange(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			events.OnStateChange(StateFailed)
		}
	})

	return nil
}

// drainRTCP keeps reading sender reports so interceptors stay fed; feedback
// like PLI is logged and otherwise dropped (no simulcast, nothing to switch).
func (e *Engine) drainRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				e.logger.Debugw("rtcp read ended", "error", err)
			}
			return
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				e.logger.Debugw("picture loss indication received")
			}
		}
	}
}

// CreateOffer produces and installs the local offer. Candidates trickle via
// OnCandidate afterwards.
func (e *Engine) CreateOffer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return webrtc.SessionDescription{}, domain.ErrEngineClosed
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local offer: %w", err)
	}

	return offer, nil
}

// CreateAnswer applies the remote offer, flushes any buffered candidates and
// produces the local answer.
func (e *Engine) CreateAnswer(remoteOffer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return webrtc.SessionDescription{}, domain.ErrEngineClosed
	}

	if err := e.applyRemoteDescription(remoteOffer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local answer: %w", err)
	}

	return answer, nil
}

// ApplyRemoteAnswer installs the peer's answer and flushes any candidates that
// arrived ahead of it.
func (e *Engine) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return domain.ErrEngineClosed
	}

	return e.applyRemoteDescription(answer)
}

func (e *Engine) applyRemoteDescription(desc webrtc.SessionDescription) error {
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	// Flush strictly after the description is in, preserving receipt order.
	for _, candidate := range e.pending {
		if err := e.pc.AddICECandidate(candidate); err != nil {
			e.logger.Warnw("failed to apply buffered ice candidate", "error", err)
		}
	}
	e.pending = nil

	return nil
}

// AddICECandidate applies a remote candidate, or buffers it when the remote
// description is not yet set. Buffering is unbounded within a call: candidates
// are never dropped, and duplicates are kept (the transport may duplicate
// envelopes; each is applied exactly once, in arrival order).
func (e *Engine) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return domain.ErrEngineClosed
	}

	if e.pc.RemoteDescription() == nil {
		e.pending = append(e.pending, candidate)
		return nil
	}

	if err := e.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// Close disposes the peer connection. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.pending = nil

	return e.pc.Close()
}
