package signal

import (
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRelay(
	id domain.ConnID,
	conn *WsSignalConn,
	p *protocol.SignalRequest,
) {
	if err := ctl.Orch.Signal(id, *p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("to", string(p.To)).Msg("relay failed")
		ctl.sendErr(conn, err)
	}
}

func (ctl *SignalWSController) handleChat(
	id domain.ConnID,
	conn *WsSignalConn,
	p *protocol.ChatRequest,
) {
	if !ctl.limiter.Allow(id) {
		ctl.sendError(conn, protocol.CodeRateLimited, "too many messages", "")
		return
	}
	if _, err := ctl.Orch.SendChat(id, *p); err != nil {
		ctl.sendErr(conn, err)
	}
}

func (ctl *SignalWSController) handleMediaState(
	id domain.ConnID,
	conn *WsSignalConn,
	p *protocol.MediaStateChange,
) {
	if err := ctl.Orch.MediaState(id, *p); err != nil {
		ctl.sendErr(conn, err)
	}
}
