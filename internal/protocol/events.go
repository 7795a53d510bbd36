// Package protocol defines the viewing transport events. Every event is a tagged
// variant: the envelope type selects one fixed payload schema.
package protocol

import (
	stdjson "encoding/json"

	"github.com/dkeye/Viewing/internal/domain"
)

// client -> relay
const (
	TypeJoinSession      = "join-session"
	TypeLeaveSession     = "leave-session"
	TypeSignal           = "signal"
	TypeMediaStateChange = "media-state-change"
	TypeChat             = "viewing-chat-message"
	TypeResync           = "resync"
	TypeEndSession       = "end-session"
	TypePing             = "ping"
)

// relay -> client
const (
	TypeJoined            = "joined"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeParticipantsList  = "participants-list"
	TypeHostJoined        = "host-joined"
	TypeHostLeft          = "host-left"
	TypeSessionStatus     = "session-status"
	TypeSessionEnded      = "session-ended"
	TypeChatHistory       = "chat-history"
	TypePong              = "pong"
	TypeError             = "error"
)

// Error codes carried by TypeError.
const (
	CodeBadPayload    = "bad_payload"
	CodeSessionEnded  = "session_ended"
	CodeRelayFailed   = "relay_failed"
	CodeNotJoined     = "not_joined"
	CodeAlreadyJoined = "already_joined"
	CodeRateLimited   = "rate_limited"
	CodeNotHost       = "not_host"
	CodeInvalidName   = "invalid_name"
	CodeInvalidText   = "invalid_message"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

type Envelope struct {
	Type    string             `json:"type" validate:"required"`
	Payload stdjson.RawMessage `json:"payload,omitempty"`
}

type Empty struct{}

type JoinSession struct {
	SessionID domain.SessionID `json:"sessionId" validate:"required,max=128"`
	Name      string           `json:"name" validate:"max=64"`
	UserID    domain.UserID    `json:"userId,omitempty" validate:"max=64"`
	Role      domain.Role      `json:"role,omitempty" validate:"omitempty,oneof=host viewer"`
}

type SignalRequest struct {
	To   domain.ConnID      `json:"to" validate:"required"`
	Data stdjson.RawMessage `json:"data" validate:"required"`
}

type SignalDelivery struct {
	From domain.ConnID      `json:"from"`
	Data stdjson.RawMessage `json:"data"`
}

type MediaStateChange struct {
	ConnectionID domain.ConnID `json:"connectionId,omitempty"`
	AudioEnabled bool          `json:"audioEnabled"`
	VideoEnabled bool          `json:"videoEnabled"`
}

// ChatRequest is what a client sends; sender and sequence are assigned by the relay.
type ChatRequest struct {
	Message   string `json:"message" validate:"required"`
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type Resync struct {
	AfterSeq uint64 `json:"afterSeq"`
}

type Joined struct {
	ConnectionID domain.ConnID        `json:"connectionId"`
	SessionID    domain.SessionID     `json:"sessionId"`
	Name         string               `json:"name"`
	Role         domain.Role          `json:"role"`
	Anonymous    bool                 `json:"anonymous"`
	HostConflict bool                 `json:"hostConflict"`
	Status       domain.SessionStatus `json:"status"`
	ChatSeq      uint64               `json:"chatSeq"`
}

type ParticipantLeft struct {
	ConnectionID domain.ConnID `json:"connectionId"`
}

type ParticipantsList struct {
	Participants []domain.Participant `json:"participants"`
}

type HostJoined struct {
	ConnectionID domain.ConnID `json:"connectionId"`
}

type SessionStatus struct {
	Status domain.SessionStatus `json:"status"`
}

type ChatHistory struct {
	Messages []domain.ChatMessage `json:"messages"`
	// Complete is false when older messages were already evicted from the relay buffer.
	Complete bool `json:"complete"`
}

type Error struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	To      domain.ConnID `json:"to,omitempty"`
}
