package domain

import "time"

type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

type MediaState struct {
	AudioEnabled bool `json:"audioEnabled"`
	VideoEnabled bool `json:"videoEnabled"`
}

// Participant is one transport connection inside exactly one session.
// It refers back to its session by id only.
type Participant struct {
	ConnID    ConnID     `json:"connectionId"`
	SessionID SessionID  `json:"sessionId"`
	UserID    UserID     `json:"userId,omitempty"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	Anonymous bool       `json:"anonymous"`
	JoinedAt  time.Time  `json:"joinedAt"`
	LastSeen  time.Time  `json:"lastSeen"`
	Media     MediaState `json:"media"`
}

func (p Participant) IsHost() bool { return p.Role == RoleHost }
