package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource pops one result per track request, nil meaning success.
type fakeSource struct {
	videoErrs []error
	audioErrs []error

	videoCalls int
	audioCalls int
	closed     bool
}

func (f *fakeSource) VideoTrack() (webrtc.TrackLocal, error) {
	idx := f.videoCalls
	f.videoCalls++
	if idx < len(f.videoErrs) && f.videoErrs[idx] != nil {
		return nil, f.videoErrs[idx]
	}
	return newTestTrack(webrtc.MimeTypeVP8, 90000, 0, "video")
}

func (f *fakeSource) AudioTrack() (webrtc.TrackLocal, error) {
	idx := f.audioCalls
	f.audioCalls++
	if idx < len(f.audioErrs) && f.audioErrs[idx] != nil {
		return nil, f.audioErrs[idx]
	}
	return newTestTrack(webrtc.MimeTypeOpus, 48000, 2, "audio")
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func newTestTrack(mimeType string, clockRate uint32, channels uint16, id string) (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  mimeType,
		ClockRate: clockRate,
		Channels:  channels,
	}, id, "test")
}

func TestAcquire_FullMedia(t *testing.T) {
	source := &fakeSource{}

	var notices []Notice
	acq := Acquire(context.Background(), source, func(n Notice) {
		notices = append(notices, n)
	})

	assert.Equal(t, LevelFull, acq.Level)
	assert.Len(t, acq.Tracks, 2)
	assert.Empty(t, notices)
}

func TestAcquire_AudioFailureKeepsVideo(t *testing.T) {
	source := &fakeSource{
		audioErrs: []error{errors.New("microphone busy")},
	}

	var notices []Notice
	acq := Acquire(context.Background(), source, func(n Notice) {
		notices = append(notices, n)
	})

	assert.Equal(t, LevelVideoOnly, acq.Level)
	assert.Len(t, acq.Tracks, 1)
	require.Len(t, notices, 1)
	assert.Equal(t, LevelVideoOnly, notices[0].Level)
	assert.Contains(t, notices[0].Reason, "microphone busy")

	// The video track already acquired is reused, not requested again.
	assert.Equal(t, 1, source.videoCalls)
}

func TestAcquire_TransientVideoFailure(t *testing.T) {
	source := &fakeSource{
		videoErrs: []error{errors.New("camera warming up"), nil},
	}

	var notices []Notice
	acq := Acquire(context.Background(), source, func(n Notice) {
		notices = append(notices, n)
	})

	assert.Equal(t, LevelVideoOnly, acq.Level)
	assert.Len(t, acq.Tracks, 1)
	require.Len(t, notices, 1)
	assert.Equal(t, 2, source.videoCalls)
}

func TestAcquire_FallsBackToAudioOnly(t *testing.T) {
	videoErr := errors.New("no camera")
	source := &fakeSource{
		videoErrs: []error{videoErr, videoErr},
	}

	var notices []Notice
	acq := Acquire(context.Background(), source, func(n Notice) {
		notices = append(notices, n)
	})

	assert.Equal(t, LevelAudioOnly, acq.Level)
	assert.Len(t, acq.Tracks, 1)
	require.Len(t, notices, 2)
	assert.Equal(t, LevelVideoOnly, notices[0].Level)
	assert.Equal(t, LevelAudioOnly, notices[1].Level)
}

func TestAcquire_NeverFails(t *testing.T) {
	videoErr := errors.New("no camera")
	audioErr := errors.New("no microphone")
	source := &fakeSource{
		videoErrs: []error{videoErr, videoErr},
		audioErrs: []error{audioErr},
	}

	var notices []Notice
	acq := Acquire(context.Background(), source, func(n Notice) {
		notices = append(notices, n)
	})

	require.NotNil(t, acq)
	assert.Equal(t, LevelNone, acq.Level)
	assert.Empty(t, acq.Tracks)
	require.Len(t, notices, 3)
	assert.Equal(t, LevelNone, notices[2].Level)
}

func TestAcquisition_CloseReleasesSource(t *testing.T) {
	source := &fakeSource{}
	acq := Acquire(context.Background(), source, nil)

	require.NoError(t, acq.Close())
	assert.True(t, source.closed)
}
