package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// SampleSource produces synthetic tracks for headless clients. Devices lists
// the kinds that exist; asking for a missing one fails like a real device.
type SampleSource struct {
	Devices media.Constraints
	// Denied kinds fail with media.ErrPermissionDenied.
	Denied media.Constraints
}

func (s SampleSource) Open(ctx context.Context, c media.Constraints) ([]media.Track, error) {
	if (c.Audio && s.Denied.Audio) || (c.Video && s.Denied.Video) {
		return nil, media.ErrPermissionDenied
	}
	if (c.Audio && !s.Devices.Audio) || (c.Video && !s.Devices.Video) {
		return nil, media.ErrDeviceNotFound
	}
	stream := "viewing-" + uuid.NewString()
	var tracks []media.Track
	if c.Video {
		t, err := newSampleTrack(media.KindVideo, webrtc.MimeTypeVP8, stream, 33*time.Millisecond)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Audio {
		t, err := newSampleTrack(media.KindAudio, webrtc.MimeTypeOpus, stream, 20*time.Millisecond)
		if err != nil {
			for _, prev := range tracks {
				prev.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// SampleTrack writes a placeholder sample every frame while enabled.
type SampleTrack struct {
	kind    media.Kind
	local   *webrtc.TrackLocalStaticSample
	frame   time.Duration
	enabled atomic.Bool

	stop chan struct{}
	once sync.Once
}

func newSampleTrack(kind media.Kind, mime, stream string, frame time.Duration) (*SampleTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), stream)
	if err != nil {
		return nil, err
	}
	t := &SampleTrack{kind: kind, local: local, frame: frame, stop: make(chan struct{})}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *SampleTrack) ID() string                    { return t.local.ID() }
func (t *SampleTrack) Kind() media.Kind              { return t.kind }
func (t *SampleTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *SampleTrack) SetEnabled(on bool)            { t.enabled.Store(on) }
func (t *SampleTrack) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *SampleTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *SampleTrack) pump() {
	ticker := time.NewTicker(t.frame)
	defer ticker.Stop()
	payload := make([]byte, 160)
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			if err := t.local.WriteSample(pmedia.Sample{Data: payload, Duration: t.frame}); err != nil {
				log.Debug().Err(err).Str("module", "webrtc").Str("kind", string(t.kind)).Msg("write sample")
			}
		}
	}
}
