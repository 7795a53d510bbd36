package domain

import "time"

type (
	SessionID string
	ConnID    string
)

type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusLive    SessionStatus = "live"
	StatusEnded   SessionStatus = "ended"
)

// Session is one viewing instance. Host is empty until a host connects.
type Session struct {
	ID        SessionID     `json:"id"`
	Host      ConnID        `json:"host,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	EndedAt   time.Time     `json:"endedAt"`
}

// MetadataStatus is the scheduling status kept by the external listing service.
type MetadataStatus string

const (
	MetadataScheduled MetadataStatus = "scheduled"
	MetadataLive      MetadataStatus = "live"
	MetadataEnded     MetadataStatus = "ended"
	MetadataCancelled MetadataStatus = "cancelled"
)

// SessionMetadata is the read-only view of a scheduled viewing.
type SessionMetadata struct {
	SessionID   SessionID
	HostUserID  UserID
	PropertyRef string
	ScheduledAt time.Time
	Status      MetadataStatus
}

func (m *SessionMetadata) Closed() bool {
	return m.Status == MetadataEnded || m.Status == MetadataCancelled
}
