package orch

import (
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Signal relays an opaque handshake payload to another member.
func (o *Orchestrator) Signal(conn domain.ConnID, req protocol.SignalRequest) error {
	sid, ok := o.Registry.SessionOf(conn)
	if !ok {
		return &domain.RelayError{To: req.To, Reason: "sender has not joined a session"}
	}
	return o.Registry.Exec(sid, func() error {
		return o.Signals.Relay(sid, conn, req.To, req.Data)
	})
}

// SendChat numbers the message and broadcasts it to every member, sender included.
func (o *Orchestrator) SendChat(conn domain.ConnID, req protocol.ChatRequest) (domain.ChatMessage, error) {
	sid, ok := o.Registry.SessionOf(conn)
	if !ok {
		return domain.ChatMessage{}, domain.ErrNotMember
	}
	var msg domain.ChatMessage
	err := o.Registry.Exec(sid, func() error {
		me, ok := o.Registry.Member(sid, conn)
		if !ok {
			return domain.ErrNotMember
		}
		var err error
		msg, err = o.Chat.Next(sid, me, req.Message)
		if err != nil {
			return err
		}
		o.applyPolicy(sid, o.Presence.Broadcast(o.Registry.Roster(sid), "", protocol.TypeChat, msg))
		return nil
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	log.Debug().Str("module", "orch").Str("session", string(sid)).Uint64("seq", msg.Seq).Msg("chat broadcast")
	return msg, nil
}

// MediaState records a mute/camera toggle and notifies the other members.
// The handshake is not renegotiated.
func (o *Orchestrator) MediaState(conn domain.ConnID, req protocol.MediaStateChange) error {
	sid, ok := o.Registry.SessionOf(conn)
	if !ok {
		return domain.ErrNotMember
	}
	return o.Registry.Exec(sid, func() error {
		st := domain.MediaState{AudioEnabled: req.AudioEnabled, VideoEnabled: req.VideoEnabled}
		if _, err := o.Registry.UpdateMedia(sid, conn, st); err != nil {
			return err
		}
		note := protocol.MediaStateChange{ConnectionID: conn, AudioEnabled: st.AudioEnabled, VideoEnabled: st.VideoEnabled}
		o.applyPolicy(sid, o.Presence.Broadcast(o.Registry.Roster(sid), conn, protocol.TypeMediaStateChange, note))
		return nil
	})
}
