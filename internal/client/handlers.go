package client

import (
	"errors"

	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/client/peer"
	"github.com/dkeye/Viewing/internal/client/transport"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (c *Client) handle(ev transport.Event) {
	switch p := ev.Payload.(type) {
	case *protocol.ParticipantsList:
		c.onParticipantsList(p.Participants)
	case *domain.Participant:
		c.onParticipantJoined(*p)
	case *protocol.ParticipantLeft:
		c.onParticipantLeft(p.ConnectionID)
	case *protocol.HostJoined:
		c.onHostJoined(p.ConnectionID)
	case *protocol.SessionStatus:
		c.mu.Lock()
		c.status = p.Status
		c.mu.Unlock()
		c.emit(SessionStatusChanged{Status: p.Status})
	case *protocol.SignalDelivery:
		c.onSignal(p)
	case *protocol.MediaStateChange:
		c.onMediaState(p)
	case *domain.ChatMessage:
		c.onChat(*p)
	case *protocol.ChatHistory:
		c.onChatHistory(p)
	case *protocol.Error:
		c.onError(p)
	case *protocol.Empty:
		switch ev.Type {
		case protocol.TypeHostLeft:
			c.onHostLeft()
		case protocol.TypeSessionEnded:
			c.end()
		}
	default:
		log.Debug().Str("module", "client").Str("type", ev.Type).Msg("unhandled event")
	}
}

func (c *Client) onJoined(j *protocol.Joined) {
	c.mu.Lock()
	rejoin := c.rejoin
	if rejoin && c.role != j.Role {
		// role changed while away; negotiate from scratch
		c.closePeersLocked()
	}
	c.self = j.ConnectionID
	c.role = j.Role
	c.status = j.Status
	if !rejoin {
		c.chat.Reset(j.ChatSeq)
	}
	needResync := rejoin && j.ChatSeq > c.chat.Last()
	if needResync {
		c.resyncPending = true
	}
	after := c.chat.Last()
	c.rejoin = true
	c.mu.Unlock()

	if j.HostConflict {
		c.emit(Warning{Message: "another host is already present, joined as viewer"})
	}
	c.emit(Joined{ConnID: j.ConnectionID, Role: j.Role, HostConflict: j.HostConflict, Status: j.Status, Rejoin: rejoin})
	if needResync {
		if err := c.send(protocol.TypeResync, protocol.Resync{AfterSeq: after}); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("resync request")
		}
	}
}

func (c *Client) newManagerLocked() *peer.Manager {
	m := peer.NewManager(peer.Config{
		Initiator:    c.role == domain.RoleHost,
		Local:        c.local,
		NewHandshake: c.opts.Handshakes,
		Send:         c.sendSignal,
		Notify:       func(t peer.Transition) { c.emit(PeerStateChanged{Transition: t}) },
		RemoteTrack: func(remote domain.ConnID, kind media.Kind) {
			c.emit(RemoteTrack{Remote: remote, Kind: kind})
		},
	})
	warnings, err := m.Acquire(c.ctx)
	for _, w := range warnings {
		c.emit(Warning{Message: w.Message})
	}
	if err != nil {
		c.emit(Failed{Err: err})
		return nil
	}
	return m
}

// ensurePendingLocked keeps one awaiting-peer manager ready for the next
// remote party.
func (c *Client) ensurePendingLocked() *peer.Manager {
	if c.pending != nil && c.pending.State() == peer.StateAwaitingPeer {
		return c.pending
	}
	c.pending = c.newManagerLocked()
	return c.pending
}

func (c *Client) bindLocked(remote domain.ConnID) {
	if _, ok := c.managers[remote]; ok {
		return
	}
	m := c.ensurePendingLocked()
	if m == nil {
		return
	}
	c.pending = nil
	c.managers[remote] = m
	if err := m.PeerFound(c.ctx, remote); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", string(remote)).Msg("start handshake")
		c.emit(Failed{Err: err})
	}
	if c.role == domain.RoleHost {
		c.ensurePendingLocked()
	}
}

func (c *Client) pruneLocked() {
	for id, m := range c.managers {
		if m.State() == peer.StateClosed {
			delete(c.managers, id)
		}
	}
}

func (c *Client) onParticipantsList(list []domain.Participant) {
	c.mu.Lock()
	c.roster = append([]domain.Participant(nil), list...)
	live := c.status == domain.StatusLive
	present := make(map[domain.ConnID]domain.Participant, len(list))
	var host *domain.Participant
	for i := range list {
		present[list[i].ConnID] = list[i]
		if list[i].Role == domain.RoleHost && list[i].ConnID != c.self {
			host = &list[i]
		}
	}

	for id, m := range c.managers {
		if m.State() != peer.StateReconnecting {
			continue
		}
		_, ok := present[id]
		if c.role == domain.RoleViewer {
			ok = ok && host != nil && host.ConnID == id
		}
		if err := m.Resume(c.ctx, id, ok, live); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("remote", string(id)).Msg("resume")
		}
	}
	c.pruneLocked()

	if c.role == domain.RoleHost {
		for _, p := range list {
			if p.ConnID != c.self && p.Role == domain.RoleViewer {
				c.bindLocked(p.ConnID)
			}
		}
		c.ensurePendingLocked()
	} else if host != nil {
		c.bindLocked(host.ConnID)
	} else if len(c.managers) == 0 {
		c.ensurePendingLocked()
	}
	roster := append([]domain.Participant(nil), c.roster...)
	c.mu.Unlock()
	c.emit(RosterChanged{Participants: roster})
}

func (c *Client) onParticipantJoined(p domain.Participant) {
	c.mu.Lock()
	known := false
	for i := range c.roster {
		if c.roster[i].ConnID == p.ConnID {
			c.roster[i] = p
			known = true
		}
	}
	if !known {
		c.roster = append(c.roster, p)
	}
	if c.role == domain.RoleHost && p.ConnID != c.self && p.Role == domain.RoleViewer {
		c.bindLocked(p.ConnID)
	}
	roster := append([]domain.Participant(nil), c.roster...)
	c.mu.Unlock()
	c.emit(RosterChanged{Participants: roster})
}

func (c *Client) onParticipantLeft(id domain.ConnID) {
	c.mu.Lock()
	for i := range c.roster {
		if c.roster[i].ConnID == id {
			c.roster = append(c.roster[:i], c.roster[i+1:]...)
			break
		}
	}
	if m, ok := c.managers[id]; ok {
		m.Close()
		delete(c.managers, id)
	}
	if c.role == domain.RoleViewer && len(c.managers) == 0 {
		c.ensurePendingLocked()
	}
	roster := append([]domain.Participant(nil), c.roster...)
	c.mu.Unlock()
	c.emit(RosterChanged{Participants: roster})
}

func (c *Client) onHostJoined(id domain.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != domain.RoleViewer || id == c.self {
		return
	}
	c.bindLocked(id)
}

// onHostLeft drops the channel to the old host; a fresh manager waits for
// the next one.
func (c *Client) onHostLeft() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != domain.RoleViewer {
		return
	}
	for id, m := range c.managers {
		m.Close()
		delete(c.managers, id)
	}
	c.ensurePendingLocked()
}

func (c *Client) onSignal(p *protocol.SignalDelivery) {
	c.mu.Lock()
	m, ok := c.managers[p.From]
	if !ok && c.role == domain.RoleViewer && c.pending != nil {
		m = c.pending
		c.pending = nil
		c.managers[p.From] = m
		ok = true
	}
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "client").Str("from", string(p.From)).Msg("signal from unknown peer dropped")
		return
	}
	if err := m.HandleSignal(c.ctx, p.From, p.Data); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("from", string(p.From)).Msg("handle signal")
	}
}

func (c *Client) onMediaState(p *protocol.MediaStateChange) {
	st := domain.MediaState{AudioEnabled: p.AudioEnabled, VideoEnabled: p.VideoEnabled}
	c.mu.Lock()
	for i := range c.roster {
		if c.roster[i].ConnID == p.ConnectionID {
			c.roster[i].Media = st
		}
	}
	c.mu.Unlock()
	c.emit(MediaChanged{ConnID: p.ConnectionID, State: st})
}

func (c *Client) onChat(msg domain.ChatMessage) {
	c.mu.Lock()
	verdict := c.chat.Observe(msg.Seq)
	request := false
	after := c.chat.Last()
	if verdict == Gap && !c.resyncPending {
		c.resyncPending = true
		request = true
	}
	c.mu.Unlock()

	switch verdict {
	case Deliver:
		c.emit(ChatReceived{Message: msg})
	case Duplicate:
		log.Debug().Str("module", "client").Uint64("seq", msg.Seq).Msg("duplicate chat message dropped")
	case Gap:
		log.Warn().Str("module", "client").Uint64("seq", msg.Seq).Uint64("last", after).Msg("chat sequence gap")
		if request {
			if err := c.send(protocol.TypeResync, protocol.Resync{AfterSeq: after}); err != nil {
				log.Warn().Err(err).Str("module", "client").Msg("resync request")
			}
		}
	}
}

func (c *Client) onChatHistory(h *protocol.ChatHistory) {
	c.mu.Lock()
	c.resyncPending = false
	truncated := !h.Complete && len(h.Messages) > 0 && h.Messages[0].Seq > c.chat.Last()+1
	if truncated {
		c.chat.Reset(h.Messages[0].Seq - 1)
	}
	var deliver []domain.ChatMessage
	for _, m := range h.Messages {
		if c.chat.Observe(m.Seq) == Deliver {
			deliver = append(deliver, m)
		}
	}
	c.mu.Unlock()

	if truncated {
		c.emit(Warning{Message: "some earlier chat messages are no longer available"})
	}
	for _, m := range deliver {
		c.emit(ChatReceived{Message: m})
	}
}

func (c *Client) onError(p *protocol.Error) {
	err := &ProtocolError{Code: p.Code, Message: p.Message, To: p.To}
	switch {
	case errors.Is(err, domain.ErrSessionEnded):
		c.end()
		return
	case errors.Is(err, domain.ErrRelayFailed) && p.To != "":
		// recipient is gone; the handshake attempt is abandoned
		c.mu.Lock()
		if m, ok := c.managers[p.To]; ok {
			m.Close()
			delete(c.managers, p.To)
		}
		if c.role == domain.RoleViewer && len(c.managers) == 0 {
			c.ensurePendingLocked()
		}
		c.mu.Unlock()
	}
	c.emit(Failed{Err: err})
}
