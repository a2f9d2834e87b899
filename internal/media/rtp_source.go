package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// opusSilence is a minimal Opus frame decoding to silence, pumped while no
// real capture pipeline feeds the audio track.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	opusClockRate  = 48000
	opusFrameMs    = 20
	opusFrameTicks = opusClockRate / 1000 * opusFrameMs
)

// StaticRTPSource is the headless-client media source: it hands out
// TrackLocalStaticRTP tracks that an external pipeline (or the built-in
// silence pump) feeds with RTP packets. Each call gets its own source; Close
// stops the pumps and invalidates the tracks.
type StaticRTPSource struct {
	// DisableVideo/DisableAudio simulate a missing device, which puts the
	// acquisition ladder onto its degraded levels.
	DisableVideo bool
	DisableAudio bool

	mu     sync.Mutex
	audio  *webrtc.TrackLocalStaticRTP
	video  *webrtc.TrackLocalStaticRTP
	cancel context.CancelFunc
	closed bool
}

func NewStaticRTPSource() *StaticRTPSource {
	return &StaticRTPSource{}
}

func (s *StaticRTPSource) AudioTrack() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("media source closed")
	}
	if s.DisableAudio {
		return nil, fmt.Errorf("audio capture unavailable")
	}
	if s.audio != nil {
		return s.audio, nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "campuscall",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	s.audio = track
	return track, nil
}

func (s *StaticRTPSource) VideoTrack() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("media source closed")
	}
	if s.DisableVideo {
		return nil, fmt.Errorf("video capture unavailable")
	}
	if s.video != nil {
		return s.video, nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "campuscall",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	s.video = track
	return track, nil
}

// WriteVideoRTP forwards one externally produced video packet onto the track.
func (s *StaticRTPSource) WriteVideoRTP(packet *rtp.Packet) error {
	s.mu.Lock()
	track := s.video
	s.mu.Unlock()

	if track == nil {
		return fmt.Errorf("video track not acquired")
	}
	return track.WriteRTP(packet)
}

// StartSilence pumps Opus silence frames on the audio track until the context
// is cancelled or the source is closed. Keeps the RTP stream alive when the
// caller has no microphone pipeline.
func (s *StaticRTPSource) StartSilence(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("media source closed")
	}
	track := s.audio
	if track == nil {
		s.mu.Unlock()
		return fmt.Errorf("audio track not acquired")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(opusFrameMs * time.Millisecond)
		defer ticker.Stop()

		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SSRC:           rand.Uint32(),
				SequenceNumber: uint16(rand.Uint32()),
			},
			Payload: opusSilence,
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				packet.Header.SequenceNumber++
				packet.Header.Timestamp += opusFrameTicks
				if err := track.WriteRTP(packet); err != nil {
					return
				}
			}
		}
	}()

	return nil
}

func (s *StaticRTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.audio = nil
	s.video = nil
	return nil
}
