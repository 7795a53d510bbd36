package signal

import (
	"context"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	id domain.ConnID,
	conn *WsSignalConn,
	p *protocol.JoinSession,
) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("session", string(p.SessionID)).Str("role", string(p.Role)).Msg("join")
	if _, err := ctl.Orch.Join(ctx, id, *p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("session", string(p.SessionID)).Msg("join rejected")
		ctl.sendErr(conn, err)
	}
}

// handleLeave removes the participant; the transport stays open.
func (ctl *SignalWSController) handleLeave(
	id domain.ConnID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	if err := ctl.Orch.Leave(id); err != nil {
		ctl.sendErr(conn, err)
	}
}

func (ctl *SignalWSController) handleEndSession(
	id domain.ConnID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("end session")
	if err := ctl.Orch.EndSessionBy(id); err != nil {
		ctl.sendErr(conn, err)
	}
}

func (ctl *SignalWSController) handleResync(
	id domain.ConnID,
	conn *WsSignalConn,
	p *protocol.Resync,
) {
	if err := ctl.Orch.Resync(id, p.AfterSeq); err != nil {
		ctl.sendErr(conn, err)
	}
}

func (ctl *SignalWSController) handlePing(
	id domain.ConnID,
	conn *WsSignalConn,
) {
	ctl.Orch.Heartbeat(id)
	ctl.send(conn, protocol.TypePong, nil)
}
