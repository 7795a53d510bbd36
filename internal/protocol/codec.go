package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/dkeye/Viewing/internal/domain"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrMalformed   = errors.New("malformed event")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type factory func() any

var clientEvents = map[string]factory{
	TypeJoinSession:      func() any { return &JoinSession{} },
	TypeLeaveSession:     func() any { return &Empty{} },
	TypeSignal:           func() any { return &SignalRequest{} },
	TypeMediaStateChange: func() any { return &MediaStateChange{} },
	TypeChat:             func() any { return &ChatRequest{} },
	TypeResync:           func() any { return &Resync{} },
	TypeEndSession:       func() any { return &Empty{} },
	TypePing:             func() any { return &Empty{} },
}

var relayEvents = map[string]factory{
	TypeJoined:            func() any { return &Joined{} },
	TypeParticipantJoined: func() any { return &domain.Participant{} },
	TypeParticipantLeft:   func() any { return &ParticipantLeft{} },
	TypeParticipantsList:  func() any { return &ParticipantsList{} },
	TypeHostJoined:        func() any { return &HostJoined{} },
	TypeHostLeft:          func() any { return &Empty{} },
	TypeSessionStatus:     func() any { return &SessionStatus{} },
	TypeSessionEnded:      func() any { return &Empty{} },
	TypeSignal:            func() any { return &SignalDelivery{} },
	TypeMediaStateChange:  func() any { return &MediaStateChange{} },
	TypeChat:              func() any { return &domain.ChatMessage{} },
	TypeChatHistory:       func() any { return &ChatHistory{} },
	TypePong:              func() any { return &Empty{} },
	TypeError:             func() any { return &Error{} },
}

// Encode wraps payload into an envelope of the given type.
func Encode(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// EncodeSignal builds a signal delivery frame around data without re-encoding
// it, so the recipient gets the exact bytes the sender wrote.
func EncodeSignal(from domain.ConnID, data []byte) ([]byte, error) {
	if len(data) == 0 {
		data = []byte("null")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("encode %s payload: %w: data is not JSON", TypeSignal, ErrMalformed)
	}
	id, err := json.Marshal(from)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", TypeSignal, err)
	}
	frame := make([]byte, 0, len(signalPrefix)+len(id)+len(signalData)+len(data)+2)
	frame = append(frame, signalPrefix...)
	frame = append(frame, id...)
	frame = append(frame, signalData...)
	frame = append(frame, data...)
	return append(frame, '}', '}'), nil
}

const (
	signalPrefix = `{"type":"` + TypeSignal + `","payload":{"from":`
	signalData   = `,"data":`
)

// DecodeClient parses an event sent by a client to the relay.
func DecodeClient(data []byte) (string, any, error) {
	return decode(data, clientEvents)
}

// DecodeRelay parses an event sent by the relay to a client.
func DecodeRelay(data []byte) (string, any, error) {
	return decode(data, relayEvents)
}

func decode(data []byte, table map[string]factory) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	mk, ok := table[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	v := mk()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return env.Type, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return env.Type, v, nil
}
