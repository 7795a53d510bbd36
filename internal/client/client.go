package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/client/peer"
	"github.com/dkeye/Viewing/internal/client/supervisor"
	"github.com/dkeye/Viewing/internal/client/transport"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotJoined     = errors.New("not joined")
	ErrJoinTimeout   = errors.New("timed out waiting for join ack")
)

// ProtocolError is an error event returned by the relay.
type ProtocolError struct {
	Code    string
	Message string
	To      domain.ConnID
}

func (e *ProtocolError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: %s (to %s)", e.Code, e.Message, e.To)
	}
	return e.Code + ": " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	switch e.Code {
	case protocol.CodeSessionEnded:
		return domain.ErrSessionEnded
	case protocol.CodeRelayFailed:
		return domain.ErrRelayFailed
	}
	return nil
}

type Options struct {
	SessionID domain.SessionID
	Name      string
	UserID    domain.UserID
	// Role is the requested role; the relay may demote a host claim.
	Role domain.Role
	// Media is what this client publishes. Viewers usually publish nothing.
	Media      media.Constraints
	Source     media.Source
	Dialer     transport.Dialer
	Handshakes peer.HandshakeFactory
	Reconnect  supervisor.Policy
	// JoinTimeout bounds the wait for the relay's join ack.
	JoinTimeout time.Duration
}

// Client is the protocol side of a viewing participant. It holds no
// rendering state; a UI subscribes to Events and calls the commands.
type Client struct {
	opts   Options
	local  *media.Local
	sup    *supervisor.Supervisor
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	trMu sync.RWMutex
	tr   transport.Transport

	mu            sync.Mutex
	joined        bool
	rejoin        bool
	leaving       bool
	ended         bool
	self          domain.ConnID
	role          domain.Role
	status        domain.SessionStatus
	roster        []domain.Participant
	managers      map[domain.ConnID]*peer.Manager
	pending       *peer.Manager
	chat          ChatTracker
	resyncPending bool
}

func New(opts Options) *Client {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 10 * time.Second
	}
	if opts.Role == "" {
		opts.Role = domain.RoleViewer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:     opts,
		local:    media.NewLocal(opts.Source, opts.Media),
		events:   make(chan Event, 256),
		ctx:      ctx,
		cancel:   cancel,
		managers: make(map[domain.ConnID]*peer.Manager),
	}
	c.sup = supervisor.New(opts.Reconnect, supervisor.Hooks{
		Connect:   c.connect,
		Status:    func(s supervisor.Status) { c.emit(StatusChanged{Status: s}) },
		Exhausted: c.exhausted,
	})
	return c
}

func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) Status() supervisor.Status { return c.sup.Status() }

func (c *Client) Self() domain.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) Role() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) Roster() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Participant(nil), c.roster...)
}

// Peers returns the state of every bound peer manager.
func (c *Client) Peers() map[domain.ConnID]peer.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.ConnID]peer.State, len(c.managers))
	for id, m := range c.managers {
		out[id] = m.State()
	}
	return out
}

// Join acquires local media, connects to the relay and announces presence.
// Media failure leaves the client idle with an error wrapping
// domain.ErrMediaUnavailable.
func (c *Client) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.joined || c.ended {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.joined = true
	c.mu.Unlock()

	_, warnings, err := c.local.Get(ctx)
	if err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return err
	}
	for _, w := range warnings {
		c.emit(Warning{Message: w.Message})
	}

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return err
	}
	go c.sup.Run(c.ctx)
	return nil
}

// connect dials, sends join-session and waits for the ack. It is also the
// supervisor's reconnect operation.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.leaving || c.ended {
		c.mu.Unlock()
		return backoff.Permanent(ErrNotJoined)
	}
	c.mu.Unlock()

	t, err := c.opts.Dialer.Dial(ctx)
	if err != nil {
		return err
	}
	req := protocol.JoinSession{
		SessionID: c.opts.SessionID,
		Name:      c.opts.Name,
		UserID:    c.opts.UserID,
		Role:      c.opts.Role,
	}
	if err := t.Send(protocol.TypeJoinSession, req); err != nil {
		_ = t.Close()
		return err
	}
	ack, err := c.awaitJoined(ctx, t)
	if err != nil {
		_ = t.Close()
		if errors.Is(err, domain.ErrSessionEnded) {
			return backoff.Permanent(err)
		}
		return err
	}

	c.trMu.Lock()
	c.tr = t
	c.trMu.Unlock()

	c.onJoined(ack)
	go c.run(t)
	return nil
}

func (c *Client) awaitJoined(ctx context.Context, t transport.Transport) (*protocol.Joined, error) {
	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrJoinTimeout
		case <-t.Done():
			return nil, t.Err()
		case ev := <-t.Events():
			switch p := ev.Payload.(type) {
			case *protocol.Joined:
				return p, nil
			case *protocol.Error:
				return nil, &ProtocolError{Code: p.Code, Message: p.Message, To: p.To}
			default:
				log.Debug().Str("module", "client").Str("type", ev.Type).Msg("event before join ack ignored")
			}
		}
	}
}

func (c *Client) run(t transport.Transport) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-t.Events():
			c.handle(ev)
		case <-t.Done():
			c.drain(t)
			c.lost(t)
			return
		}
	}
}

// drain handles events that arrived before the transport died.
func (c *Client) drain(t transport.Transport) {
	for {
		select {
		case ev := <-t.Events():
			c.handle(ev)
		default:
			return
		}
	}
}

func (c *Client) transport() transport.Transport {
	c.trMu.RLock()
	defer c.trMu.RUnlock()
	return c.tr
}

func (c *Client) send(typ string, payload any) error {
	t := c.transport()
	if t == nil {
		return transport.ErrClosed
	}
	return t.Send(typ, payload)
}

func (c *Client) sendSignal(to domain.ConnID, data json.RawMessage) error {
	return c.send(protocol.TypeSignal, protocol.SignalRequest{To: to, Data: data})
}

// lost marks active peers reconnecting and hands over to the supervisor.
func (c *Client) lost(t transport.Transport) {
	c.trMu.Lock()
	if c.tr != t {
		c.trMu.Unlock()
		return
	}
	c.tr = nil
	c.trMu.Unlock()

	c.mu.Lock()
	if c.leaving || c.ended {
		c.mu.Unlock()
		return
	}
	for _, m := range c.managers {
		m.TransportLost()
	}
	c.mu.Unlock()

	log.Warn().Err(t.Err()).Str("module", "client").Msg("relay connection lost")
	c.sup.Lost()
}

func (c *Client) exhausted(err error) {
	if errors.Is(err, domain.ErrSessionEnded) {
		c.end()
		return
	}
	c.emit(Failed{Err: err})
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		log.Warn().Str("module", "client").Str("event", fmt.Sprintf("%T", e)).Msg("event queue full, dropping")
	}
}

// Leave removes this client from the session and releases all resources.
func (c *Client) Leave() error {
	c.mu.Lock()
	if !c.joined || c.leaving {
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.leaving = true
	c.closePeersLocked()
	c.mu.Unlock()

	if t := c.transport(); t != nil {
		_ = t.Send(protocol.TypeLeaveSession, nil)
		_ = t.Close()
	}
	c.sup.Stop()
	c.local.Release()
	c.cancel()
	return nil
}

// EndSession asks the relay to end the session for everyone. Host only.
func (c *Client) EndSession() error {
	return c.send(protocol.TypeEndSession, nil)
}

// Reconnect restarts reconnection after the automatic attempts ran out.
func (c *Client) Reconnect() {
	c.sup.Reconnect()
}

func (c *Client) ToggleAudio() (bool, error) { return c.toggle(media.KindAudio) }

func (c *Client) ToggleVideo() (bool, error) { return c.toggle(media.KindVideo) }

// toggle flips the track's enabled flag and tells the others. The channel
// is not renegotiated.
func (c *Client) toggle(k media.Kind) (bool, error) {
	b := c.local.Bundle()
	if b == nil {
		return false, domain.ErrMediaUnavailable
	}
	on, err := b.Toggle(k)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
	}
	st := b.State()
	if err := c.send(protocol.TypeMediaStateChange, protocol.MediaStateChange{
		AudioEnabled: st.AudioEnabled,
		VideoEnabled: st.VideoEnabled,
	}); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("media state not sent")
	}
	return on, nil
}

func (c *Client) SendChat(text string) error {
	return c.send(protocol.TypeChat, protocol.ChatRequest{
		Message:   text,
		Sender:    c.opts.Name,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Client) end() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.closePeersLocked()
	c.mu.Unlock()

	if t := c.transport(); t != nil {
		_ = t.Close()
	}
	c.sup.Stop()
	c.local.Release()
	c.emit(SessionEnded{})
}

func (c *Client) closePeersLocked() {
	for id, m := range c.managers {
		m.Close()
		delete(c.managers, id)
	}
	if c.pending != nil {
		c.pending.Close()
		c.pending = nil
	}
}
