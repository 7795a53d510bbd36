package app

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Viewing/internal/core"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
)

var errFull = errors.New("full")

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errFull
	}
	f.frames = append(f.frames, append(core.Frame(nil), fr...))
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) last(t *testing.T) (string, any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		t.Fatal("no frames")
	}
	typ, payload, err := protocol.DecodeRelay(f.frames[len(f.frames)-1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return typ, payload
}

func relayFixture(t *testing.T) (*SignalRelay, map[string]*fakeConn) {
	t.Helper()
	reg := NewRegistry(time.Minute)
	conns := NewConnections()
	fakes := map[string]*fakeConn{}
	for _, id := range []string{"A", "B", "C"} {
		fakes[id] = &fakeConn{}
		conns.Bind(domain.ConnID(id), fakes[id], "", nil)
	}
	_, _ = reg.AddParticipant("S1", host("A"))
	_, _ = reg.AddParticipant("S1", viewer("B"))
	_, _ = reg.AddParticipant("S2", viewer("C"))
	return NewSignalRelay(reg, conns), fakes
}

func TestRelayDeliversPayloadOnlyToRecipient(t *testing.T) {
	relay, fakes := relayFixture(t)
	payload := []byte(`{"kind":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n","n":[1,2.5,null]}`)

	if err := relay.Relay("S1", "A", "B", payload); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if fakes["B"].count() != 1 {
		t.Fatalf("recipient frames = %d", fakes["B"].count())
	}
	if fakes["A"].count() != 0 || fakes["C"].count() != 0 {
		t.Fatal("payload leaked to a non-recipient")
	}
	typ, got := fakes["B"].last(t)
	if typ != protocol.TypeSignal {
		t.Fatalf("type = %s", typ)
	}
	d := got.(*protocol.SignalDelivery)
	if d.From != "A" {
		t.Fatalf("from = %s", d.From)
	}
	if !bytes.Equal(d.Data, payload) {
		t.Fatalf("payload changed:\n got %s\nwant %s", d.Data, payload)
	}
}

func TestRelayKeepsPayloadBytes(t *testing.T) {
	relay, fakes := relayFixture(t)
	payload := []byte("{ \"kind\": \"offer\",\n  \"sdp\": \"v=0 <x> & y\" }")

	if err := relay.Relay("S1", "A", "B", payload); err != nil {
		t.Fatalf("relay: %v", err)
	}
	fakes["B"].mu.Lock()
	frame := fakes["B"].frames[0]
	fakes["B"].mu.Unlock()
	if !bytes.Contains(frame, payload) {
		t.Fatalf("frame rewrote the payload: %s", frame)
	}
	_, got := fakes["B"].last(t)
	if d := got.(*protocol.SignalDelivery); !bytes.Equal(d.Data, payload) {
		t.Fatalf("payload changed:\n got %s\nwant %s", d.Data, payload)
	}
}

func TestRelayFailsClosed(t *testing.T) {
	tests := []struct {
		name     string
		from, to domain.ConnID
	}{
		{"recipient not a member", "A", "ghost"},
		{"recipient in another session", "A", "C"},
		{"sender not a member", "C", "B"},
		{"self", "A", "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay, fakes := relayFixture(t)
			err := relay.Relay("S1", tt.from, tt.to, []byte(`{}`))
			if !errors.Is(err, domain.ErrRelayFailed) {
				t.Fatalf("expected ErrRelayFailed, got %v", err)
			}
			var re *domain.RelayError
			if !errors.As(err, &re) || re.To != tt.to {
				t.Fatalf("expected RelayError naming %s, got %v", tt.to, err)
			}
			for id, f := range fakes {
				if f.count() != 0 {
					t.Fatalf("%s received a frame", id)
				}
			}
		})
	}
}

func TestRelayToDisconnectedRecipientFails(t *testing.T) {
	relay, _ := relayFixture(t)
	relay.Conns.Unbind("B")
	if err := relay.Relay("S1", "A", "B", []byte(`{}`)); !errors.Is(err, domain.ErrRelayFailed) {
		t.Fatalf("expected ErrRelayFailed, got %v", err)
	}
}

func TestPresenceBroadcastReportsDropped(t *testing.T) {
	conns := NewConnections()
	ok, slow := &fakeConn{}, &fakeConn{full: true}
	conns.Bind("a", ok, "", nil)
	conns.Bind("b", slow, "", nil)
	p := NewPresence(conns)

	members := []domain.Participant{viewer("a"), viewer("b"), viewer("gone")}
	res := p.Broadcast(members, "", protocol.TypeHostLeft, nil)
	if res.SendTo != 1 {
		t.Fatalf("sent to %d", res.SendTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "b" {
		t.Fatalf("dropped = %v", res.Dropped)
	}
}
