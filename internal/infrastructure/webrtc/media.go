package webrtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// MediaSource supplies the local tracks published on a connection. Tracks is
// called once per Connect; implementations return fresh tracks every time so
// reconnection starts from a clean transport.
type MediaSource interface {
	Tracks(ctx context.Context) ([]LocalTrack, error)
}

// LocalTrack is a publishable track that can be muted and released.
type LocalTrack interface {
	webrtc.TrackLocal
	SetEnabled(enabled bool)
	Stop()
}

// SyntheticSource produces an audio and a video track fed by generated
// samples. It stands in for camera/microphone capture in the headless peer
// and in integration tests; negotiation, candidate exchange and the track
// plumbing behave exactly as with real capture.
type SyntheticSource struct{}

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{}
}

func (s *SyntheticSource) Tracks(ctx context.Context) ([]LocalTrack, error) {
	audio, err := newSyntheticTrack(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "peercall-audio",
		20*time.Millisecond,
	)
	if err != nil {
		return nil, err
	}

	video, err := newSyntheticTrack(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "peercall-video",
		100*time.Millisecond,
	)
	if err != nil {
		audio.Stop()
		return nil, err
	}

	return []LocalTrack{audio, video}, nil
}

type syntheticTrack struct {
	*webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

func newSyntheticTrack(codec webrtc.RTPCodecCapability, id, streamID string, interval time.Duration) (*syntheticTrack, error) {
	inner, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	t := &syntheticTrack{
		TrackLocalStaticSample: inner,
		stop:                   make(chan struct{}),
	}
	t.enabled.Store(true)

	go t.writeLoop(interval)
	return t, nil
}

func (t *syntheticTrack) writeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	payload := make([]byte, 16)

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			// WriteSample fails until the track is bound; that is expected
			// while negotiation is still in flight.
			_ = t.WriteSample(media.Sample{Data: payload, Duration: interval})
		}
	}
}

func (t *syntheticTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *syntheticTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}
