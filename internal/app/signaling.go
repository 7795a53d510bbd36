package app

import (
	"encoding/json"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SignalRelay forwards opaque handshake payloads between two members of the
// same session. It keeps no state between calls and never reads the payload.
type SignalRelay struct {
	Registry *Registry
	Conns    *Connections
}

func NewSignalRelay(reg *Registry, conns *Connections) *SignalRelay {
	return &SignalRelay{Registry: reg, Conns: conns}
}

func (s *SignalRelay) Relay(id domain.SessionID, from, to domain.ConnID, payload json.RawMessage) error {
	if !s.Registry.IsMember(id, from) {
		return &domain.RelayError{To: to, Reason: "sender is not a session member"}
	}
	if from == to {
		return &domain.RelayError{To: to, Reason: "cannot signal self"}
	}
	if !s.Registry.IsMember(id, to) {
		return &domain.RelayError{To: to, Reason: "recipient is not a session member"}
	}
	sig, ok := s.Conns.Signal(to)
	if !ok {
		return &domain.RelayError{To: to, Reason: "recipient not connected"}
	}
	frame, err := protocol.EncodeSignal(from, payload)
	if err != nil {
		return &domain.RelayError{To: to, Reason: "encode failed"}
	}
	if err := sig.TrySend(frame); err != nil {
		return &domain.RelayError{To: to, Reason: "recipient unreachable"}
	}
	log.Debug().Str("module", "app.signal").Str("session", string(id)).Str("from", string(from)).Str("to", string(to)).Int("bytes", len(payload)).Msg("signal relayed")
	return nil
}
