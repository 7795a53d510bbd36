package client

import (
	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/client/peer"
	"github.com/dkeye/Viewing/internal/client/supervisor"
	"github.com/dkeye/Viewing/internal/domain"
)

// Event is a notification for the presentation layer.
type Event interface {
	event()
}

type (
	StatusChanged struct {
		Status supervisor.Status
	}
	PeerStateChanged struct {
		peer.Transition
	}
	Joined struct {
		ConnID       domain.ConnID
		Role         domain.Role
		HostConflict bool
		Status       domain.SessionStatus
		Rejoin       bool
	}
	RosterChanged struct {
		Participants []domain.Participant
	}
	SessionStatusChanged struct {
		Status domain.SessionStatus
	}
	ChatReceived struct {
		Message domain.ChatMessage
	}
	MediaChanged struct {
		ConnID domain.ConnID
		State  domain.MediaState
	}
	RemoteTrack struct {
		Remote domain.ConnID
		Kind   media.Kind
	}
	Warning struct {
		Message string
	}
	Failed struct {
		Err error
	}
	SessionEnded struct{}
)

func (StatusChanged) event()        {}
func (PeerStateChanged) event()     {}
func (Joined) event()               {}
func (RosterChanged) event()        {}
func (SessionStatusChanged) event() {}
func (ChatReceived) event()         {}
func (MediaChanged) event()         {}
func (RemoteTrack) event()          {}
func (Warning) event()              {}
func (Failed) event()               {}
func (SessionEnded) event()         {}
