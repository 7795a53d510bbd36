package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Str("conn", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(id)
		ctl.limiter.Forget(id)
		cancel()
		c.Close()
	}()

	deadline := 2 * ctl.opts.PingPeriod
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		ctl.Orch.Heartbeat(id)
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
			ctl.handleSignal(ctx, id, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, id domain.ConnID, c *WsSignalConn, data []byte) {
	typ, ev, err := protocol.DecodeClient(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("type", typ).Msg("rejected event")
		ctl.sendError(c, protocol.CodeBadPayload, err.Error(), "")
		return
	}

	switch p := ev.(type) {
	case *protocol.JoinSession:
		ctl.handleJoin(ctx, id, c, p)
	case *protocol.SignalRequest:
		ctl.handleRelay(id, c, p)
	case *protocol.ChatRequest:
		ctl.handleChat(id, c, p)
	case *protocol.MediaStateChange:
		ctl.handleMediaState(id, c, p)
	case *protocol.Resync:
		ctl.handleResync(id, c, p)
	case *protocol.Empty:
		switch typ {
		case protocol.TypeLeaveSession:
			ctl.handleLeave(id, c)
		case protocol.TypeEndSession:
			ctl.handleEndSession(id, c)
		case protocol.TypePing:
			ctl.handlePing(id, c)
		}
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, typ string, payload any) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code, msg string, to domain.ConnID) {
	ctl.send(c, protocol.TypeError, protocol.Error{Code: code, Message: msg, To: to})
}

func (ctl *SignalWSController) sendErr(c *WsSignalConn, err error) {
	var relayErr *domain.RelayError
	if errors.As(err, &relayErr) {
		ctl.sendError(c, protocol.CodeRelayFailed, relayErr.Reason, relayErr.To)
		return
	}
	ctl.sendError(c, errorCode(err), err.Error(), "")
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionEnded):
		return protocol.CodeSessionEnded
	case errors.Is(err, domain.ErrRelayFailed):
		return protocol.CodeRelayFailed
	case errors.Is(err, domain.ErrNotMember):
		return protocol.CodeNotJoined
	case errors.Is(err, domain.ErrAlreadyJoined), errors.Is(err, domain.ErrDuplicateConnection):
		return protocol.CodeAlreadyJoined
	case errors.Is(err, domain.ErrNotHost):
		return protocol.CodeNotHost
	case errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong):
		return protocol.CodeInvalidName
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrMessageTooLong):
		return protocol.CodeInvalidText
	case errors.Is(err, domain.ErrMetadataUnavailable):
		return protocol.CodeUnavailable
	default:
		return protocol.CodeInternal
	}
}
