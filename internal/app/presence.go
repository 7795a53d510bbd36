package app

import (
	"github.com/dkeye/Viewing/internal/core"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Presence fans roster and session events out over member connections.
type Presence struct {
	Conns *Connections
}

func NewPresence(conns *Connections) *Presence {
	return &Presence{Conns: conns}
}

// SendTo delivers one event to a single connection.
func (p *Presence) SendTo(to domain.ConnID, typ string, payload any) error {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	sig, ok := p.Conns.Signal(to)
	if !ok {
		return domain.ErrNotMember
	}
	return sig.TrySend(frame)
}

// Broadcast delivers one event to every member except the given connection.
func (p *Presence) Broadcast(members []domain.Participant, except domain.ConnID, typ string, payload any) core.PublishResult {
	res := core.PublishResult{}
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("type", typ).Msg("encode broadcast")
		return res
	}
	for _, m := range members {
		if m.ConnID == except {
			continue
		}
		sig, ok := p.Conns.Signal(m.ConnID)
		if !ok {
			continue
		}
		if err := sig.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m.ConnID)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.presence").Str("type", typ).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Joined announces a new participant to everyone else, plus host-joined and a
// status change when the host arrived.
func (p *Presence) Joined(snap RosterSnapshot) core.PublishResult {
	who := snap.Participant
	res := p.Broadcast(snap.Participants, who.ConnID, protocol.TypeParticipantJoined, who)
	if who.IsHost() {
		res.Merge(p.Broadcast(snap.Participants, who.ConnID, protocol.TypeHostJoined, protocol.HostJoined{ConnectionID: who.ConnID}))
	}
	if snap.WentLive {
		res.Merge(p.Broadcast(snap.Participants, who.ConnID, protocol.TypeSessionStatus, protocol.SessionStatus{Status: snap.Session.Status}))
	}
	return res
}

// Left announces a departure to the remaining members.
func (p *Presence) Left(rm Removal) core.PublishResult {
	res := p.Broadcast(rm.Remaining, rm.Participant.ConnID, protocol.TypeParticipantLeft, protocol.ParticipantLeft{ConnectionID: rm.Participant.ConnID})
	if rm.WasHost {
		res.Merge(p.Broadcast(rm.Remaining, rm.Participant.ConnID, protocol.TypeHostLeft, nil))
		res.Merge(p.Broadcast(rm.Remaining, rm.Participant.ConnID, protocol.TypeSessionStatus, protocol.SessionStatus{Status: rm.Session.Status}))
	}
	return res
}

// Ended tells every former member the session is over.
func (p *Presence) Ended(members []domain.Participant) core.PublishResult {
	return p.Broadcast(members, "", protocol.TypeSessionEnded, nil)
}
