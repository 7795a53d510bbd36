package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/domain"
)

type stubTrack struct{ kind media.Kind }

func (t stubTrack) ID() string       { return string(t.kind) }
func (t stubTrack) Kind() media.Kind { return t.kind }
func (t stubTrack) Enabled() bool    { return true }
func (t stubTrack) SetEnabled(bool)  {}
func (t stubTrack) Stop()            {}

type stubSource struct{ err error }

func (s stubSource) Open(context.Context, media.Constraints) ([]media.Track, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []media.Track{stubTrack{kind: media.KindAudio}}, nil
}

type fakeHandshake struct {
	cb        Callbacks
	initiator bool
	tracks    int
	startErr  error

	mu       sync.Mutex
	received []string
	closed   bool
}

func (h *fakeHandshake) Start(_ context.Context, initiator bool, tracks []media.Track) error {
	h.initiator = initiator
	h.tracks = len(tracks)
	return h.startErr
}

func (h *fakeHandshake) HandleSignal(_ context.Context, data json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, string(data))
	return nil
}

func (h *fakeHandshake) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type rig struct {
	m           *Manager
	handshakes  []*fakeHandshake
	transitions []Transition
	sent        []string
	startErr    error
}

func newRig(initiator bool, src media.Source) *rig {
	r := &rig{}
	r.m = NewManager(Config{
		Initiator: initiator,
		Local:     media.NewLocal(src, media.Constraints{Audio: true}),
		NewHandshake: func(cb Callbacks) (Handshake, error) {
			hs := &fakeHandshake{cb: cb, startErr: r.startErr}
			r.handshakes = append(r.handshakes, hs)
			return hs, nil
		},
		Send: func(to domain.ConnID, data json.RawMessage) error {
			r.sent = append(r.sent, string(to)+":"+string(data))
			return nil
		},
		Notify: func(t Transition) { r.transitions = append(r.transitions, t) },
	})
	return r
}

func (r *rig) last() *fakeHandshake { return r.handshakes[len(r.handshakes)-1] }

func (r *rig) path() []State {
	out := []State{}
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func samePath(got []State, want ...State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func (r *rig) connect(t *testing.T, remote domain.ConnID) {
	t.Helper()
	if _, err := r.m.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := r.m.PeerFound(context.Background(), remote); err != nil {
		t.Fatalf("peer found: %v", err)
	}
	r.last().cb.OnEstablished()
}

func TestManagerHappyPath(t *testing.T) {
	r := newRig(true, stubSource{})
	r.connect(t, "viewer-1")

	if !samePath(r.path(), StateAcquiringMedia, StateAwaitingPeer, StateSignaling, StateConnected) {
		t.Fatalf("path = %v", r.path())
	}
	hs := r.last()
	if !hs.initiator || hs.tracks != 1 {
		t.Fatalf("handshake started with initiator=%v tracks=%d", hs.initiator, hs.tracks)
	}

	hs.cb.OnSignal(json.RawMessage(`{"kind":"offer"}`))
	if len(r.sent) != 1 || r.sent[0] != `viewer-1:{"kind":"offer"}` {
		t.Fatalf("sent = %v", r.sent)
	}
	hs.cb.OnRemoteTrack(media.KindVideo)
	if kinds := r.m.RemoteTracks(); len(kinds) != 1 || kinds[0] != media.KindVideo {
		t.Fatalf("remote tracks = %v", kinds)
	}
}

func TestManagerMediaFailureReturnsToIdle(t *testing.T) {
	r := newRig(true, stubSource{err: media.ErrPermissionDenied})
	_, err := r.m.Acquire(context.Background())
	if !errors.Is(err, domain.ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	if r.m.State() != StateIdle {
		t.Fatalf("state = %s", r.m.State())
	}
	if !samePath(r.path(), StateAcquiringMedia, StateIdle) {
		t.Fatalf("path = %v", r.path())
	}
}

func TestManagerHandshakeFailureCloses(t *testing.T) {
	r := newRig(true, stubSource{})
	if _, err := r.m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.m.PeerFound(context.Background(), "viewer-1"); err != nil {
		t.Fatal(err)
	}
	r.last().cb.OnFailed(errors.New("ice failed"))

	if r.m.State() != StateClosed {
		t.Fatalf("state = %s", r.m.State())
	}
	final := r.transitions[len(r.transitions)-1]
	if final.To != StateClosed || !errors.Is(final.Err, domain.ErrHandshake) {
		t.Fatalf("final transition = %+v", final)
	}
	if !r.last().closed {
		t.Fatal("handshake not released")
	}
}

func TestManagerStartFailureCloses(t *testing.T) {
	r := newRig(true, stubSource{})
	r.startErr = errors.New("no codecs")
	if _, err := r.m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := r.m.PeerFound(context.Background(), "viewer-1")
	if !errors.Is(err, domain.ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if r.m.State() != StateClosed {
		t.Fatalf("state = %s", r.m.State())
	}
}

func TestManagerReconnectRenegotiates(t *testing.T) {
	r := newRig(true, stubSource{})
	r.connect(t, "viewer-1")
	stale := r.last()

	if !r.m.TransportLost() {
		t.Fatal("connected manager should go reconnecting")
	}
	if r.m.State() != StateReconnecting {
		t.Fatalf("state = %s", r.m.State())
	}
	// a late failure from the dropped channel does not close the manager
	stale.cb.OnFailed(errors.New("disconnected"))
	if r.m.State() != StateReconnecting {
		t.Fatalf("state after stale failure = %s", r.m.State())
	}

	if err := r.m.Resume(context.Background(), "viewer-1b", true, true); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if r.m.State() != StateSignaling || r.m.Remote() != "viewer-1b" {
		t.Fatalf("after resume: %s %s", r.m.State(), r.m.Remote())
	}
	if !stale.closed || len(r.handshakes) != 2 {
		t.Fatal("old handshake not replaced")
	}

	stale.cb.OnEstablished()
	stale.cb.OnSignal(json.RawMessage(`{"kind":"old"}`))
	if r.m.State() != StateSignaling || len(r.sent) != 0 {
		t.Fatalf("stale callbacks leaked: %s %v", r.m.State(), r.sent)
	}

	r.last().cb.OnEstablished()
	if r.m.State() != StateConnected {
		t.Fatalf("state = %s", r.m.State())
	}
}

func TestManagerResumeWithoutPeerCloses(t *testing.T) {
	for _, tc := range []struct {
		name          string
		present, live bool
	}{
		{"peer gone", false, true},
		{"session not live", true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(false, stubSource{})
			r.connect(t, "host-1")
			r.m.TransportLost()
			if err := r.m.Resume(context.Background(), "host-1", tc.present, tc.live); err != nil {
				t.Fatal(err)
			}
			if r.m.State() != StateClosed {
				t.Fatalf("state = %s", r.m.State())
			}
		})
	}
}

func TestManagerViewerBindsOnFirstSignal(t *testing.T) {
	r := newRig(false, stubSource{})
	if _, err := r.m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	offer := json.RawMessage(`{"kind":"offer","sdp":"v=0"}`)
	if err := r.m.HandleSignal(context.Background(), "host-1", offer); err != nil {
		t.Fatalf("handle signal: %v", err)
	}
	if r.m.State() != StateSignaling || r.m.Remote() != "host-1" {
		t.Fatalf("state=%s remote=%s", r.m.State(), r.m.Remote())
	}
	hs := r.last()
	if hs.initiator || len(hs.received) != 1 || hs.received[0] != string(offer) {
		t.Fatalf("handshake initiator=%v received=%v", hs.initiator, hs.received)
	}

	if err := r.m.HandleSignal(context.Background(), "intruder", offer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("signal from another party accepted: %v", err)
	}
}

func TestManagerRejectsIllegalTransitions(t *testing.T) {
	r := newRig(true, stubSource{})
	if err := r.m.PeerFound(context.Background(), "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("peer found while idle: %v", err)
	}
	if r.m.TransportLost() {
		t.Fatal("idle manager went reconnecting")
	}
	if err := r.m.Resume(context.Background(), "x", true, true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resume while idle: %v", err)
	}

	r.m.Close()
	r.m.Close()
	if r.m.State() != StateClosed {
		t.Fatalf("state = %s", r.m.State())
	}
	if n := len(r.transitions); n != 1 {
		t.Fatalf("closing twice produced %d transitions", n)
	}
	if _, err := r.m.Acquire(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("closed manager reused: %v", err)
	}
}
