package orch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Viewing/internal/app"
	"github.com/dkeye/Viewing/internal/core"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
)

type event struct {
	Type    string
	Payload any
}

type fakeConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	full     bool
	canceled atomic.Bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("full")
	}
	f.frames = append(f.frames, append(core.Frame(nil), fr...))
	return nil
}

func (f *fakeConn) Close() {}

// take returns and clears the decoded events received so far.
func (f *fakeConn) take(t *testing.T) []event {
	t.Helper()
	f.mu.Lock()
	frames := f.frames
	f.frames = nil
	f.mu.Unlock()
	out := make([]event, 0, len(frames))
	for _, fr := range frames {
		typ, payload, err := protocol.DecodeRelay(fr)
		if err != nil {
			t.Fatalf("decode %s: %v", fr, err)
		}
		out = append(out, event{Type: typ, Payload: payload})
	}
	return out
}

func types(evs []event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func sameTypes(got []event, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Type != want[i] {
			return false
		}
	}
	return true
}

type harness struct {
	t     *testing.T
	orch  *Orchestrator
	dir   *app.StaticDirectory
	conns map[domain.ConnID]*fakeConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := app.NewStaticDirectory()
	o := New(app.NewRegistry(time.Minute), app.NewChatRelay(50), dir, dir)
	return &harness{t: t, orch: o, dir: dir, conns: map[domain.ConnID]*fakeConn{}}
}

func (h *harness) connect(id domain.ConnID, uid domain.UserID) *fakeConn {
	f := &fakeConn{}
	h.conns[id] = f
	h.orch.Connect(id, f, uid, func() { f.canceled.Store(true) })
	return f
}

func (h *harness) join(id domain.ConnID, sid domain.SessionID, role domain.Role) protocol.Joined {
	h.t.Helper()
	j, err := h.orch.Join(context.Background(), id, protocol.JoinSession{SessionID: sid, Name: string(id), Role: role})
	if err != nil {
		h.t.Fatalf("join %s: %v", id, err)
	}
	return j
}

func (h *harness) drain() {
	for _, f := range h.conns {
		f.take(h.t)
	}
}

func TestHostThenViewerJoin(t *testing.T) {
	h := newHarness(t)
	hostConn := h.connect("host", "")
	j := h.join("host", "S1", domain.RoleHost)
	if j.Role != domain.RoleHost || j.Status != domain.StatusLive {
		t.Fatalf("host joined as %+v", j)
	}
	evs := hostConn.take(t)
	if !sameTypes(evs, protocol.TypeJoined, protocol.TypeParticipantsList) {
		t.Fatalf("host events = %v", types(evs))
	}
	if list := evs[1].Payload.(*protocol.ParticipantsList).Participants; len(list) != 1 || list[0].ConnID != "host" {
		t.Fatalf("roster = %+v", list)
	}

	v1 := h.connect("v1", "")
	h.join("v1", "S1", domain.RoleViewer)

	_, roster, _ := h.orch.Snapshot("S1")
	if len(roster) != 2 || roster[0].ConnID != "host" || roster[1].ConnID != "v1" {
		t.Fatalf("roster = %+v", roster)
	}

	evs = hostConn.take(t)
	if !sameTypes(evs, protocol.TypeParticipantJoined) {
		t.Fatalf("host events = %v", types(evs))
	}
	if p := evs[0].Payload.(*domain.Participant); p.ConnID != "v1" || p.Role != domain.RoleViewer {
		t.Fatalf("participant-joined = %+v", p)
	}

	evs = v1.take(t)
	if !sameTypes(evs, protocol.TypeJoined, protocol.TypeParticipantsList) {
		t.Fatalf("viewer events = %v", types(evs))
	}
	if list := evs[1].Payload.(*protocol.ParticipantsList).Participants; len(list) != 2 {
		t.Fatalf("viewer roster = %+v", list)
	}
}

func TestHostArrivalIsAnnouncedToWaitingViewers(t *testing.T) {
	h := newHarness(t)
	v1 := h.connect("v1", "")
	j := h.join("v1", "S1", domain.RoleViewer)
	if j.Status != domain.StatusWaiting {
		t.Fatalf("status = %s", j.Status)
	}
	v1.take(t)

	h.connect("host", "")
	h.join("host", "S1", domain.RoleHost)

	evs := v1.take(t)
	if !sameTypes(evs, protocol.TypeParticipantJoined, protocol.TypeHostJoined, protocol.TypeSessionStatus) {
		t.Fatalf("viewer events = %v", types(evs))
	}
	if hj := evs[1].Payload.(*protocol.HostJoined); hj.ConnectionID != "host" {
		t.Fatalf("host-joined = %+v", hj)
	}
	if st := evs[2].Payload.(*protocol.SessionStatus); st.Status != domain.StatusLive {
		t.Fatalf("status = %s", st.Status)
	}
}

func TestSecondHostClaimantJoinsAsViewer(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "")
	h.join("h1", "S1", domain.RoleHost)
	h.connect("h2", "")

	j := h.join("h2", "S1", domain.RoleHost)
	if j.Role != domain.RoleViewer || !j.HostConflict {
		t.Fatalf("second claimant joined as %+v", j)
	}
	s, roster, _ := h.orch.Snapshot("S1")
	if s.Host != "h1" || roster[0].ConnID != "h1" || roster[0].Role != domain.RoleHost {
		t.Fatalf("original host disturbed: %+v %+v", s, roster)
	}
}

func TestReturningHostReplacesStaleConnection(t *testing.T) {
	h := newHarness(t)
	h.dir.PutSession(domain.SessionMetadata{SessionID: "S1", HostUserID: "agent-7", Status: domain.MetadataScheduled})
	h.dir.PutUser("agent-7", "Alice Agent")
	stale := h.connect("h1", "agent-7")
	h.join("h1", "S1", domain.RoleHost)
	v1 := h.connect("v1", "")
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	h.connect("h2", "agent-7")
	j := h.join("h2", "S1", domain.RoleHost)
	if j.Role != domain.RoleHost || j.HostConflict {
		t.Fatalf("returning host joined as %+v", j)
	}
	if !stale.canceled.Load() {
		t.Fatal("stale host connection was not canceled")
	}
	s, roster, _ := h.orch.Snapshot("S1")
	if s.Host != "h2" || len(roster) != 2 {
		t.Fatalf("session = %+v roster = %+v", s, roster)
	}
	evs := v1.take(t)
	if !sameTypes(evs,
		protocol.TypeParticipantLeft, protocol.TypeHostLeft, protocol.TypeSessionStatus,
		protocol.TypeParticipantJoined, protocol.TypeHostJoined, protocol.TypeSessionStatus) {
		t.Fatalf("viewer events = %v", types(evs))
	}
	if pl := evs[0].Payload.(*protocol.ParticipantLeft); pl.ConnectionID != "h1" {
		t.Fatalf("participant-left = %+v", pl)
	}

	// Another user's claim still does not displace the host.
	h.connect("h3", "")
	if j := h.join("h3", "S1", domain.RoleHost); j.Role != domain.RoleViewer {
		t.Fatalf("anonymous claimant joined as %s", j.Role)
	}
	if s, _, _ := h.orch.Snapshot("S1"); s.Host != "h2" {
		t.Fatalf("host = %s", s.Host)
	}
}

func TestChatOrderSeenByEveryone(t *testing.T) {
	h := newHarness(t)
	hostConn := h.connect("host", "")
	v1 := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	m1, err := h.orch.SendChat("host", protocol.ChatRequest{Message: "Welcome"})
	if err != nil || m1.Seq != 1 {
		t.Fatalf("first chat: %+v %v", m1, err)
	}
	m2, err := h.orch.SendChat("v1", protocol.ChatRequest{Message: "Thanks"})
	if err != nil || m2.Seq != 2 {
		t.Fatalf("second chat: %+v %v", m2, err)
	}

	for name, f := range map[string]*fakeConn{"host": hostConn, "v1": v1} {
		evs := f.take(t)
		if !sameTypes(evs, protocol.TypeChat, protocol.TypeChat) {
			t.Fatalf("%s events = %v", name, types(evs))
		}
		first := evs[0].Payload.(*domain.ChatMessage)
		second := evs[1].Payload.(*domain.ChatMessage)
		if first.Seq != 1 || first.Text != "Welcome" || first.Sender.ConnID != "host" {
			t.Fatalf("%s first = %+v", name, first)
		}
		if second.Seq != 2 || second.Text != "Thanks" || second.Sender.ConnID != "v1" {
			t.Fatalf("%s second = %+v", name, second)
		}
	}
}

func TestChatRejectsInvalidText(t *testing.T) {
	h := newHarness(t)
	h.connect("v1", "")
	h.join("v1", "S1", domain.RoleViewer)

	if _, err := h.orch.SendChat("v1", protocol.ChatRequest{Message: "   "}); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := h.orch.SendChat("nobody", protocol.ChatRequest{Message: "hi"}); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestHostLeaveIsAnnouncedBeforeLaterRelays(t *testing.T) {
	h := newHarness(t)
	h.connect("host", "")
	v1 := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	if err := h.orch.Leave("host"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	evs := v1.take(t)
	if !sameTypes(evs, protocol.TypeParticipantLeft, protocol.TypeHostLeft, protocol.TypeSessionStatus) {
		t.Fatalf("viewer events = %v", types(evs))
	}
	if pl := evs[0].Payload.(*protocol.ParticipantLeft); pl.ConnectionID != "host" {
		t.Fatalf("participant-left = %+v", pl)
	}

	err := h.orch.Signal("host", protocol.SignalRequest{To: "v1", Data: []byte(`{"kind":"offer"}`)})
	if !errors.Is(err, domain.ErrRelayFailed) {
		t.Fatalf("expected ErrRelayFailed after leave, got %v", err)
	}
	if evs := v1.take(t); len(evs) != 0 {
		t.Fatalf("viewer got %v after host left", types(evs))
	}
}

func TestSignalRoundTripThroughCoordinator(t *testing.T) {
	h := newHarness(t)
	hostConn := h.connect("host", "")
	v1 := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	data := []byte(`{"kind":"answer","sdp":"v=0"}`)
	if err := h.orch.Signal("v1", protocol.SignalRequest{To: "host", Data: data}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	evs := hostConn.take(t)
	if !sameTypes(evs, protocol.TypeSignal) {
		t.Fatalf("host events = %v", types(evs))
	}
	d := evs[0].Payload.(*protocol.SignalDelivery)
	if d.From != "v1" || string(d.Data) != string(data) {
		t.Fatalf("delivery = %+v", d)
	}
	if len(v1.take(t)) != 0 {
		t.Fatal("sender received its own signal")
	}

	err := h.orch.Signal("v1", protocol.SignalRequest{To: "ghost", Data: data})
	var re *domain.RelayError
	if !errors.As(err, &re) || re.To != "ghost" {
		t.Fatalf("expected RelayError to ghost, got %v", err)
	}
}

func TestMediaStateGoesToOthersOnly(t *testing.T) {
	h := newHarness(t)
	hostConn := h.connect("host", "")
	v1 := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	if err := h.orch.MediaState("host", protocol.MediaStateChange{AudioEnabled: false, VideoEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if len(hostConn.take(t)) != 0 {
		t.Fatal("media change echoed to sender")
	}
	evs := v1.take(t)
	if !sameTypes(evs, protocol.TypeMediaStateChange) {
		t.Fatalf("viewer events = %v", types(evs))
	}
	if m := evs[0].Payload.(*protocol.MediaStateChange); m.ConnectionID != "host" || !m.VideoEnabled || m.AudioEnabled {
		t.Fatalf("media change = %+v", m)
	}
}

func TestClosedMetadataRejectsJoin(t *testing.T) {
	h := newHarness(t)
	h.dir.PutSession(domain.SessionMetadata{SessionID: "S1", Status: domain.MetadataCancelled})
	h.connect("v1", "")

	_, err := h.orch.Join(context.Background(), "v1", protocol.JoinSession{SessionID: "S1", Name: "v"})
	if !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if _, ok := h.orch.Registry.SessionOf("v1"); ok {
		t.Fatal("rejected join was registered")
	}
}

type brokenMetadata struct{}

func (brokenMetadata) SessionMetadata(context.Context, domain.SessionID) (*domain.SessionMetadata, error) {
	return nil, errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func TestMetadataOutageFailsJoin(t *testing.T) {
	h := newHarness(t)
	h.orch.Metadata = brokenMetadata{}
	h.connect("anon", "")

	_, err := h.orch.Join(context.Background(), "anon", protocol.JoinSession{SessionID: "S1", Name: "anon", Role: domain.RoleHost})
	if !errors.Is(err, domain.ErrMetadataUnavailable) {
		t.Fatalf("expected ErrMetadataUnavailable, got %v", err)
	}
	if _, ok := h.orch.Registry.SessionOf("anon"); ok {
		t.Fatal("join registered while metadata was unavailable")
	}
	if _, ok := h.orch.Registry.Session("S1"); ok {
		t.Fatal("session created while metadata was unavailable")
	}

	h.orch.Metadata = h.dir
	j := h.join("anon", "S1", domain.RoleHost)
	if j.Role != domain.RoleHost {
		t.Fatalf("retry after outage joined as %s", j.Role)
	}
}

func TestHostClaimNeedsScheduledHostIdentity(t *testing.T) {
	h := newHarness(t)
	h.dir.PutSession(domain.SessionMetadata{SessionID: "S1", HostUserID: "agent-7", Status: domain.MetadataScheduled})
	h.dir.PutUser("agent-7", "Alice Agent")

	h.connect("anon", "")
	j := h.join("anon", "S1", domain.RoleHost)
	if j.Role != domain.RoleViewer || !j.Anonymous {
		t.Fatalf("anonymous host claim granted: %+v", j)
	}

	h.connect("agent", "agent-7")
	j = h.join("agent", "S1", domain.RoleHost)
	if j.Role != domain.RoleHost || j.Anonymous || j.Name != "Alice Agent" {
		t.Fatalf("scheduled host joined as %+v", j)
	}
}

func TestUnverifiedUserIDIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.dir.PutUser("agent-7", "Alice Agent")
	h.connect("v1", "")

	j, err := h.orch.Join(context.Background(), "v1", protocol.JoinSession{SessionID: "S1", Name: "Bob", UserID: "agent-7"})
	if err != nil {
		t.Fatal(err)
	}
	if !j.Anonymous || j.Name != "Bob" {
		t.Fatalf("claimed identity trusted: %+v", j)
	}
}

func TestJoinTwiceOnOneConnection(t *testing.T) {
	h := newHarness(t)
	h.connect("v1", "")
	h.join("v1", "S1", domain.RoleViewer)
	_, err := h.orch.Join(context.Background(), "v1", protocol.JoinSession{SessionID: "S2", Name: "v1"})
	if !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestSlowMemberIsKicked(t *testing.T) {
	h := newHarness(t)
	h.connect("host", "")
	slow := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	if _, err := h.orch.SendChat("host", protocol.ChatRequest{Message: "hello"}); err != nil {
		t.Fatal(err)
	}
	if !slow.canceled.Load() {
		t.Fatal("slow member was not disconnected")
	}
}

func TestEndSessionByHostOnly(t *testing.T) {
	h := newHarness(t)
	hostConn := h.connect("host", "")
	v1 := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	if err := h.orch.EndSessionBy("v1"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := h.orch.EndSessionBy("host"); err != nil {
		t.Fatalf("end: %v", err)
	}
	for name, f := range map[string]*fakeConn{"host": hostConn, "v1": v1} {
		if evs := f.take(t); !sameTypes(evs, protocol.TypeSessionEnded) {
			t.Fatalf("%s events = %v", name, types(evs))
		}
	}

	h.connect("late", "")
	_, err := h.orch.Join(context.Background(), "late", protocol.JoinSession{SessionID: "S1", Name: "late"})
	if !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestEndSessionAsScheduledHost(t *testing.T) {
	h := newHarness(t)
	h.dir.PutSession(domain.SessionMetadata{SessionID: "S1", HostUserID: "agent-7", Status: domain.MetadataLive})
	v1 := h.connect("v1", "")
	h.join("v1", "S1", domain.RoleViewer)
	v1.take(t)

	if err := h.orch.EndSessionAs(context.Background(), "S1", "someone-else"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := h.orch.EndSessionAs(context.Background(), "S1", "agent-7"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if evs := v1.take(t); !sameTypes(evs, protocol.TypeSessionEnded) {
		t.Fatalf("viewer events = %v", types(evs))
	}
}

func TestResyncReturnsRosterAndMissedChat(t *testing.T) {
	h := newHarness(t)
	h.connect("host", "")
	v1 := h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	for _, text := range []string{"one", "two", "three"} {
		if _, err := h.orch.SendChat("host", protocol.ChatRequest{Message: text}); err != nil {
			t.Fatal(err)
		}
	}
	h.drain()

	if err := h.orch.Resync("v1", 1); err != nil {
		t.Fatal(err)
	}
	evs := v1.take(t)
	if !sameTypes(evs, protocol.TypeParticipantsList, protocol.TypeChatHistory) {
		t.Fatalf("events = %v", types(evs))
	}
	hist := evs[1].Payload.(*protocol.ChatHistory)
	if !hist.Complete || len(hist.Messages) != 2 || hist.Messages[0].Seq != 2 || hist.Messages[1].Text != "three" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestDisconnectRemovesParticipant(t *testing.T) {
	h := newHarness(t)
	hostConn := h.connect("host", "")
	h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	h.drain()

	h.orch.OnDisconnect("v1")

	evs := hostConn.take(t)
	if !sameTypes(evs, protocol.TypeParticipantLeft) {
		t.Fatalf("host events = %v", types(evs))
	}
	if _, ok := h.orch.Conns.Signal("v1"); ok {
		t.Fatal("connection still bound")
	}
	if h.orch.Registry.IsMember("S1", "v1") {
		t.Fatal("still a member")
	}
}

func TestReconnectKeepsChatSequence(t *testing.T) {
	h := newHarness(t)
	h.connect("host", "")
	h.connect("v1", "")
	h.join("host", "S1", domain.RoleHost)
	h.join("v1", "S1", domain.RoleViewer)
	if _, err := h.orch.SendChat("host", protocol.ChatRequest{Message: "before"}); err != nil {
		t.Fatal(err)
	}

	h.orch.OnDisconnect("v1")
	h.connect("v1-again", "")
	j := h.join("v1-again", "S1", domain.RoleViewer)
	if j.ChatSeq != 1 {
		t.Fatalf("chat seq on rejoin = %d", j.ChatSeq)
	}
	msg, err := h.orch.SendChat("v1-again", protocol.ChatRequest{Message: "after"})
	if err != nil || msg.Seq != 2 {
		t.Fatalf("chat after rejoin: %+v %v", msg, err)
	}
}
