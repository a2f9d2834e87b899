package media

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// Source produces local tracks on demand. Each call to a track method is one
// acquisition attempt; implementations return an error when the underlying
// device (or pipeline) for that kind is unavailable.
type Source interface {
	AudioTrack() (webrtc.TrackLocal, error)
	VideoTrack() (webrtc.TrackLocal, error)
	// Close stops capture and releases the devices behind issued tracks.
	Close() error
}

// Level is how much local media an acquisition ended up with.
type Level int

const (
	LevelFull Level = iota
	LevelVideoOnly
	LevelAudioOnly
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "video+audio"
	case LevelVideoOnly:
		return "video-only"
	case LevelAudioOnly:
		return "audio-only"
	default:
		return "no-media"
	}
}

// Notice is a non-fatal downgrade report surfaced to the user. Level is the
// next level about to be attempted.
type Notice struct {
	Level  Level
	Reason string
}

// Acquisition holds the tracks one call sends. Owned by a single call and
// closed with it; never shared between calls.
type Acquisition struct {
	Tracks []webrtc.TrackLocal
	Level  Level
	source Source
}

func (a *Acquisition) Close() error {
	if a.source == nil {
		return nil
	}
	return a.source.Close()
}

// Acquire walks the degradation ladder: video+audio, then video-only, then
// audio-only, then no media at all, emitting a notice through notify (when
// non-nil) at each downgrade. Acquire never fails; a call proceeds without
// local media rather than not at all.
func Acquire(ctx context.Context, source Source, notify func(Notice)) *Acquisition {
	downgrade := func(next Level, err error) {
		if notify != nil {
			notify(Notice{Level: next, Reason: err.Error()})
		}
	}

	// Full: both kinds must succeed together.
	video, videoErr := source.VideoTrack()
	if videoErr == nil {
		audio, audioErr := source.AudioTrack()
		if audioErr == nil {
			return &Acquisition{
				Tracks: []webrtc.TrackLocal{video, audio},
				Level:  LevelFull,
				source: source,
			}
		}

		// Audio sank the full attempt; the video track already in hand
		// satisfies the video-only level.
		downgrade(LevelVideoOnly, audioErr)
		return &Acquisition{
			Tracks: []webrtc.TrackLocal{video},
			Level:  LevelVideoOnly,
			source: source,
		}
	}
	downgrade(LevelVideoOnly, videoErr)

	if video, videoErr = source.VideoTrack(); videoErr == nil {
		return &Acquisition{
			Tracks: []webrtc.TrackLocal{video},
			Level:  LevelVideoOnly,
			source: source,
		}
	}
	downgrade(LevelAudioOnly, videoErr)

	if audio, audioErr := source.AudioTrack(); audioErr == nil {
		return &Acquisition{
			Tracks: []webrtc.TrackLocal{audio},
			Level:  LevelAudioOnly,
			source: source,
		}
	} else {
		downgrade(LevelNone, audioErr)
	}

	return &Acquisition{Level: LevelNone, source: source}
}
