package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Viewing/internal/app"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

const guestName = "Guest"

// Join announces the connection in a session. Metadata and identity lookups
// happen before entering the session lane.
func (o *Orchestrator) Join(ctx context.Context, conn domain.ConnID, req protocol.JoinSession) (protocol.Joined, error) {
	if _, ok := o.Registry.SessionOf(conn); ok {
		return protocol.Joined{}, domain.ErrAlreadyJoined
	}
	uid := o.Conns.UserID(conn)
	if req.UserID != "" && req.UserID != uid {
		log.Debug().Str("module", "orch").Str("conn", string(conn)).Str("claimed_user", string(req.UserID)).Msg("ignoring unverified user id")
	}

	meta, err := o.lookupMetadata(ctx, req.SessionID)
	if err != nil {
		return protocol.Joined{}, err
	}

	p := domain.Participant{ConnID: conn, Role: domain.RoleViewer, Media: domain.MediaState{}}
	p.Name, p.UserID, p.Anonymous, err = o.resolveIdentity(ctx, uid, req.Name)
	if err != nil {
		return protocol.Joined{}, err
	}
	if req.Role == domain.RoleHost {
		if meta == nil || meta.HostUserID == "" || meta.HostUserID == p.UserID {
			p.Role = domain.RoleHost
		} else {
			log.Info().Str("module", "orch").Str("session", string(req.SessionID)).Str("conn", string(conn)).Msg("host claim from non-host user, joining as viewer")
		}
	}

	var joined protocol.Joined
	err = o.Registry.Exec(req.SessionID, func() error {
		if p.Role == domain.RoleHost && p.UserID != "" {
			o.replaceStaleHost(req.SessionID, p.UserID)
		}
		snap, err := o.Registry.AddParticipant(req.SessionID, p)
		if err != nil {
			return err
		}
		me := snap.Participant
		joined = protocol.Joined{
			ConnectionID: me.ConnID,
			SessionID:    req.SessionID,
			Name:         me.Name,
			Role:         me.Role,
			Anonymous:    me.Anonymous,
			HostConflict: snap.HostConflict,
			Status:       snap.Session.Status,
			ChatSeq:      o.Chat.LastSeq(req.SessionID),
		}
		if err := o.Presence.SendTo(conn, protocol.TypeJoined, joined); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("send joined")
		}
		if err := o.Presence.SendTo(conn, protocol.TypeParticipantsList, protocol.ParticipantsList{Participants: snap.Participants}); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("send participants list")
		}
		o.applyPolicy(req.SessionID, o.Presence.Joined(snap))
		return nil
	})
	if err != nil {
		return protocol.Joined{}, err
	}
	log.Info().
		Str("module", "orch").
		Str("session", string(req.SessionID)).
		Str("conn", string(conn)).
		Str("role", string(joined.Role)).
		Bool("host_conflict", joined.HostConflict).
		Msg("joined")
	return joined, nil
}

// Leave removes the participant and fires participant-left before any later
// event of this connection can be handled.
func (o *Orchestrator) Leave(conn domain.ConnID) error {
	sid, ok := o.Registry.SessionOf(conn)
	if !ok {
		return domain.ErrNotMember
	}
	return o.Registry.Exec(sid, func() error {
		rm, ok := o.Registry.RemoveParticipant(sid, conn)
		if !ok {
			return domain.ErrNotMember
		}
		o.applyPolicy(sid, o.Presence.Left(rm))
		log.Info().Str("module", "orch").Str("session", string(sid)).Str("conn", string(conn)).Bool("was_host", rm.WasHost).Msg("left")
		return nil
	})
}

// EndSessionBy lets the host terminate the session for everyone.
func (o *Orchestrator) EndSessionBy(conn domain.ConnID) error {
	sid, ok := o.Registry.SessionOf(conn)
	if !ok {
		return domain.ErrNotMember
	}
	me, ok := o.Registry.Member(sid, conn)
	if !ok {
		return domain.ErrNotMember
	}
	if !me.IsHost() {
		return domain.ErrNotHost
	}
	return o.EndSession(sid)
}

// EndSessionAs ends a session on behalf of an authenticated user outside any
// connection. Only the scheduled host may do so.
func (o *Orchestrator) EndSessionAs(ctx context.Context, sid domain.SessionID, uid domain.UserID) error {
	if uid == "" || o.Metadata == nil {
		return domain.ErrNotHost
	}
	meta, err := o.Metadata.SessionMetadata(ctx, sid)
	if err != nil {
		return err
	}
	if meta.HostUserID != uid {
		return domain.ErrNotHost
	}
	return o.EndSession(sid)
}

// EndSession is terminal. Former members get session-ended and the id can no
// longer be joined.
func (o *Orchestrator) EndSession(sid domain.SessionID) error {
	return o.Registry.Exec(sid, func() error {
		members, err := o.Registry.EndSession(sid)
		if err != nil {
			return err
		}
		o.Presence.Ended(members)
		o.Chat.Forget(sid)
		return nil
	})
}

// Resync sends a fresh roster and the buffered chat after afterSeq.
func (o *Orchestrator) Resync(conn domain.ConnID, afterSeq uint64) error {
	sid, ok := o.Registry.SessionOf(conn)
	if !ok {
		return domain.ErrNotMember
	}
	return o.Registry.Exec(sid, func() error {
		if err := o.Presence.SendTo(conn, protocol.TypeParticipantsList, protocol.ParticipantsList{Participants: o.Registry.Roster(sid)}); err != nil {
			return err
		}
		msgs, complete := o.Chat.Since(sid, afterSeq)
		return o.Presence.SendTo(conn, protocol.TypeChatHistory, protocol.ChatHistory{Messages: msgs, Complete: complete})
	})
}

// Snapshot returns the session and its roster for inspection.
func (o *Orchestrator) Snapshot(sid domain.SessionID) (domain.Session, []domain.Participant, bool) {
	s, ok := o.Registry.Session(sid)
	if !ok {
		return domain.Session{}, nil, false
	}
	return s, o.Registry.Roster(sid), true
}

func (o *Orchestrator) List() []app.SessionInfo {
	return o.Registry.List()
}

// replaceStaleHost drops the current host connection when it belongs to the
// same authenticated user, so a host whose old transport has not timed out yet
// gets the role back on rejoin. Must run inside the session lane.
func (o *Orchestrator) replaceStaleHost(sid domain.SessionID, uid domain.UserID) {
	s, ok := o.Registry.Session(sid)
	if !ok || s.Host == "" {
		return
	}
	old, ok := o.Registry.Member(sid, s.Host)
	if !ok || old.UserID != uid {
		return
	}
	rm, ok := o.Registry.RemoveParticipant(sid, old.ConnID)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("session", string(sid)).Str("conn", string(old.ConnID)).Msg("host rejoined, dropping stale connection")
	o.applyPolicy(sid, o.Presence.Left(rm))
	o.Conns.Cancel(old.ConnID)
}

func (o *Orchestrator) lookupMetadata(ctx context.Context, sid domain.SessionID) (*domain.SessionMetadata, error) {
	if o.Metadata == nil {
		return nil, nil
	}
	meta, err := o.Metadata.SessionMetadata(ctx, sid)
	switch {
	case errors.Is(err, domain.ErrMetadataNotFound):
		return nil, nil
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("metadata lookup failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataUnavailable, err)
	case meta.Closed():
		return nil, domain.ErrSessionEnded
	}
	return meta, nil
}

func (o *Orchestrator) resolveIdentity(ctx context.Context, uid domain.UserID, supplied string) (name string, user domain.UserID, anonymous bool, err error) {
	if uid != "" && o.Identity != nil {
		if n, lerr := o.Identity.DisplayName(ctx, uid); lerr == nil {
			if name, err = domain.NormalizeName(n); err == nil {
				return name, uid, false, nil
			}
		} else {
			log.Debug().Err(lerr).Str("module", "orch").Str("user", string(uid)).Msg("identity lookup failed, using supplied name")
		}
	}
	if supplied == "" {
		return guestName, "", true, nil
	}
	name, err = domain.NormalizeName(supplied)
	if err != nil {
		return "", "", true, err
	}
	return name, "", true, nil
}
