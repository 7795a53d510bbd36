package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrClosed            = errors.New("peer manager closed")
)

// Transition is reported for every state change.
type Transition struct {
	Remote domain.ConnID
	From   State
	To     State
	Err    error
}

type Config struct {
	// Initiator makes this side send the offer. The host always initiates.
	Initiator    bool
	Local        *media.Local
	NewHandshake HandshakeFactory
	// Send relays an opaque handshake message to the remote party.
	Send func(to domain.ConnID, data json.RawMessage) error
	// Notify receives transitions and remote tracks. It must not block.
	Notify      func(Transition)
	RemoteTrack func(remote domain.ConnID, kind media.Kind)
}

// Manager owns one direct media channel between this client and one remote
// party. A closed Manager is never reused.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	state   State
	remote  domain.ConnID
	hs      Handshake
	epoch   uint64
	bundle  *media.Bundle
	remotes []media.Kind
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, state: StateIdle}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Remote() domain.ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// RemoteTracks lists the kinds received from the remote party so far.
func (m *Manager) RemoteTracks() []media.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]media.Kind(nil), m.remotes...)
}

func (m *Manager) setLocked(to State, err error) (Transition, error) {
	from := m.state
	if !allowed(from, to) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	return Transition{Remote: m.remote, From: from, To: to, Err: err}, nil
}

func (m *Manager) notify(t Transition) {
	log.Debug().Str("module", "client.peer").Str("remote", string(t.Remote)).Str("from", t.From.String()).Str("to", t.To.String()).Msg("transition")
	if m.cfg.Notify != nil {
		m.cfg.Notify(t)
	}
}

func (m *Manager) transition(to State, err error) error {
	m.mu.Lock()
	t, terr := m.setLocked(to, err)
	m.mu.Unlock()
	if terr != nil {
		return terr
	}
	m.notify(t)
	return nil
}

// Acquire moves idle -> acquiring-media -> awaiting-peer. On failure the
// manager returns to idle and the error wraps domain.ErrMediaUnavailable.
func (m *Manager) Acquire(ctx context.Context) ([]media.Warning, error) {
	if err := m.transition(StateAcquiringMedia, nil); err != nil {
		return nil, err
	}
	bundle, warnings, err := m.cfg.Local.Get(ctx)
	if err != nil {
		_ = m.transition(StateIdle, err)
		return nil, err
	}
	m.mu.Lock()
	m.bundle = bundle
	m.mu.Unlock()
	return warnings, m.transition(StateAwaitingPeer, nil)
}

// PeerFound binds the remote party and starts the handshake.
func (m *Manager) PeerFound(ctx context.Context, remote domain.ConnID) error {
	m.mu.Lock()
	if m.state != StateAwaitingPeer {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: peer found in %s", ErrInvalidTransition, st)
	}
	m.remote = remote
	m.mu.Unlock()
	return m.startSignaling(ctx)
}

// Resume follows a relay reconnection. The channel is renegotiated when the
// session is live and the remote party is still present, otherwise the
// manager closes.
func (m *Manager) Resume(ctx context.Context, remote domain.ConnID, present, live bool) error {
	m.mu.Lock()
	if m.state != StateReconnecting {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: resume in %s", ErrInvalidTransition, st)
	}
	m.mu.Unlock()
	if !present || !live {
		m.Close()
		return nil
	}
	m.mu.Lock()
	m.remote = remote
	m.mu.Unlock()
	return m.startSignaling(ctx)
}

func (m *Manager) startSignaling(ctx context.Context) error {
	m.mu.Lock()
	t, err := m.setLocked(StateSignaling, nil)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	old := m.hs
	m.hs = nil
	m.remotes = nil
	m.epoch++
	epoch := m.epoch
	remote := m.remote
	var tracks []media.Track
	if m.bundle != nil {
		tracks = m.bundle.Tracks()
	}
	m.mu.Unlock()
	m.notify(t)

	if old != nil {
		_ = old.Close()
	}

	hs, err := m.cfg.NewHandshake(m.callbacks(epoch, remote))
	if err != nil {
		m.fail(epoch, err)
		return fmt.Errorf("%w: %w", domain.ErrHandshake, err)
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state == StateClosed {
		m.mu.Unlock()
		_ = hs.Close()
		return ErrClosed
	}
	m.hs = hs
	m.mu.Unlock()

	if err := hs.Start(ctx, m.cfg.Initiator, tracks); err != nil {
		m.fail(epoch, err)
		return fmt.Errorf("%w: %w", domain.ErrHandshake, err)
	}
	return nil
}

func (m *Manager) callbacks(epoch uint64, remote domain.ConnID) Callbacks {
	return Callbacks{
		OnSignal: func(data json.RawMessage) {
			if !m.current(epoch) {
				return
			}
			if err := m.cfg.Send(remote, data); err != nil {
				log.Warn().Err(err).Str("module", "client.peer").Str("remote", string(remote)).Msg("send signal")
			}
		},
		OnEstablished: func() {
			m.mu.Lock()
			if m.epoch != epoch || m.state != StateSignaling {
				m.mu.Unlock()
				return
			}
			t, _ := m.setLocked(StateConnected, nil)
			m.mu.Unlock()
			m.notify(t)
		},
		OnFailed: func(err error) {
			m.fail(epoch, err)
		},
		OnRemoteTrack: func(kind media.Kind) {
			m.mu.Lock()
			if m.epoch != epoch {
				m.mu.Unlock()
				return
			}
			m.remotes = append(m.remotes, kind)
			m.mu.Unlock()
			if m.cfg.RemoteTrack != nil {
				m.cfg.RemoteTrack(remote, kind)
			}
		},
	}
}

func (m *Manager) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch && m.state != StateClosed
}

// fail closes the manager with a handshake error. A failed negotiation is
// surfaced so the user may rejoin.
func (m *Manager) fail(epoch uint64, err error) {
	m.mu.Lock()
	if m.epoch != epoch || m.state == StateClosed || m.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.closeWith(fmt.Errorf("%w: %w", domain.ErrHandshake, err))
}

// HandleSignal feeds an opaque message from the relay into the handshake. An
// awaiting-peer manager that is not the initiator binds to the sender.
func (m *Manager) HandleSignal(ctx context.Context, from domain.ConnID, data json.RawMessage) error {
	m.mu.Lock()
	if m.state == StateAwaitingPeer && !m.cfg.Initiator {
		m.mu.Unlock()
		if err := m.PeerFound(ctx, from); err != nil {
			return err
		}
		m.mu.Lock()
	}
	if m.state != StateSignaling && m.state != StateConnected {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: signal in %s", ErrInvalidTransition, st)
	}
	if from != m.remote {
		m.mu.Unlock()
		return fmt.Errorf("%w: signal from %s, bound to %s", ErrInvalidTransition, from, m.remote)
	}
	hs := m.hs
	m.mu.Unlock()
	if hs == nil {
		return ErrClosed
	}
	return hs.HandleSignal(ctx, data)
}

// TransportLost marks an active channel as reconnecting. Managers that have
// not started negotiating are left alone.
func (m *Manager) TransportLost() bool {
	m.mu.Lock()
	if m.state != StateSignaling && m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	t, _ := m.setLocked(StateReconnecting, nil)
	m.mu.Unlock()
	m.notify(t)
	return true
}

// Close is terminal and releases the handshake. The local bundle belongs to
// the client and is not stopped here.
func (m *Manager) Close() {
	m.closeWith(nil)
}

func (m *Manager) closeWith(err error) {
	m.mu.Lock()
	t, terr := m.setLocked(StateClosed, err)
	if terr != nil {
		m.mu.Unlock()
		return
	}
	hs := m.hs
	m.hs = nil
	m.bundle = nil
	m.remotes = nil
	m.epoch++
	m.mu.Unlock()
	if hs != nil {
		_ = hs.Close()
	}
	m.notify(t)
}
