package domain

import (
	"encoding/json"
	"time"
)

const MaxChatRunes = 2000

type ChatSender struct {
	ConnID ConnID `json:"connectionId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// ChatMessage carries the per-session sequence number assigned at broadcast time.
type ChatMessage struct {
	ID        string     `json:"id"`
	SessionID SessionID  `json:"sessionId"`
	Seq       uint64     `json:"seq"`
	Sender    ChatSender `json:"sender"`
	Text      string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// SignalMessage is an opaque handshake payload between two members of one session.
type SignalMessage struct {
	SessionID SessionID
	From      ConnID
	To        ConnID
	Payload   json.RawMessage
}
