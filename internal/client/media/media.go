package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrNoTrack          = errors.New("no such track")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is one local capture track. Disabling a track stops its samples
// without touching the negotiated channel.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(bool)
	Stop()
}

type Constraints struct {
	Audio bool
	Video bool
}

func (c Constraints) Empty() bool { return !c.Audio && !c.Video }

func (c Constraints) String() string {
	switch {
	case c.Audio && c.Video:
		return "video+audio"
	case c.Video:
		return "video"
	case c.Audio:
		return "audio"
	}
	return "none"
}

// Source opens capture devices. Open may block on a permission prompt.
type Source interface {
	Open(ctx context.Context, c Constraints) ([]Track, error)
}

// Bundle is the set of local tracks owned by one client.
type Bundle struct {
	mu     sync.Mutex
	tracks []Track
}

func NewBundle(tracks ...Track) *Bundle {
	return &Bundle{tracks: tracks}
}

func (b *Bundle) Tracks() []Track {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Track(nil), b.tracks...)
}

func (b *Bundle) track(k Kind) Track {
	for _, t := range b.tracks {
		if t.Kind() == k {
			return t
		}
	}
	return nil
}

func (b *Bundle) Has(k Kind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.track(k) != nil
}

// Toggle flips the enabled flag of the track of kind k and returns the new value.
func (b *Bundle) Toggle(k Kind) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.track(k)
	if t == nil {
		return false, fmt.Errorf("%w: %s", ErrNoTrack, k)
	}
	t.SetEnabled(!t.Enabled())
	return t.Enabled(), nil
}

func (b *Bundle) State() domain.MediaState {
	b.mu.Lock()
	defer b.mu.Unlock()
	var st domain.MediaState
	if t := b.track(KindAudio); t != nil {
		st.AudioEnabled = t.Enabled()
	}
	if t := b.track(KindVideo); t != nil {
		st.VideoEnabled = t.Enabled()
	}
	return st
}

func (b *Bundle) Stop() {
	b.mu.Lock()
	tracks := b.tracks
	b.tracks = nil
	b.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}

// Warning describes a degraded but accepted capture mode.
type Warning struct {
	Kind    Kind
	Message string
}

func (w Warning) String() string { return w.Message }

func warningFor(k Kind, err error) Warning {
	device := "microphone"
	if k == KindVideo {
		device = "camera"
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return Warning{Kind: k, Message: device + " permission denied"}
	case errors.Is(err, ErrDeviceNotFound):
		return Warning{Kind: k, Message: "no " + device + " found"}
	default:
		return Warning{Kind: k, Message: device + " unavailable"}
	}
}

// Acquire walks the fallback ladder video+audio, video, audio. Each step down
// yields a warning naming the missing device. When nothing can be opened the
// error wraps domain.ErrMediaUnavailable and the last device error.
func Acquire(ctx context.Context, src Source, want Constraints) (*Bundle, []Warning, error) {
	if want.Empty() {
		return NewBundle(), nil, nil
	}

	var ladder []Constraints
	if want.Video && want.Audio {
		ladder = append(ladder, Constraints{Video: true, Audio: true})
	}
	if want.Video {
		ladder = append(ladder, Constraints{Video: true})
	}
	if want.Audio {
		ladder = append(ladder, Constraints{Audio: true})
	}

	var (
		warnings []Warning
		lastErr  error
		failed   = map[Kind]error{}
	)
	for _, c := range ladder {
		tracks, err := src.Open(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Warn().Err(err).Str("module", "client.media").Str("constraints", c.String()).Msg("capture failed")
			lastErr = err
			if c.Audio && !c.Video {
				failed[KindAudio] = err
			}
			if c.Video && !c.Audio {
				failed[KindVideo] = err
			}
			continue
		}
		if want.Audio && !c.Audio {
			warnings = append(warnings, warningFor(KindAudio, cause(failed[KindAudio], lastErr)))
		}
		if want.Video && !c.Video {
			warnings = append(warnings, warningFor(KindVideo, cause(failed[KindVideo], lastErr)))
		}
		return NewBundle(tracks...), warnings, nil
	}
	return nil, nil, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, lastErr)
}

func cause(specific, fallback error) error {
	if specific != nil {
		return specific
	}
	return fallback
}

// Local caches the acquired bundle so a reconnect never prompts twice.
type Local struct {
	src  Source
	want Constraints

	mu       sync.Mutex
	bundle   *Bundle
	warnings []Warning
}

func NewLocal(src Source, want Constraints) *Local {
	return &Local{src: src, want: want}
}

// Get returns the cached bundle, acquiring it on first use.
func (l *Local) Get(ctx context.Context) (*Bundle, []Warning, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bundle != nil {
		return l.bundle, nil, nil
	}
	b, warnings, err := Acquire(ctx, l.src, l.want)
	if err != nil {
		return nil, nil, err
	}
	l.bundle, l.warnings = b, warnings
	return b, warnings, nil
}

func (l *Local) Bundle() *Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bundle
}

// Release stops the tracks. The next Get acquires again.
func (l *Local) Release() {
	l.mu.Lock()
	b := l.bundle
	l.bundle, l.warnings = nil, nil
	l.mu.Unlock()
	if b != nil {
		b.Stop()
	}
}
