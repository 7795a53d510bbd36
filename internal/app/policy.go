package app

import "github.com/dkeye/Viewing/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send buffer overflowed.
type Policy interface {
	OnBackPressure(session domain.SessionID, member domain.ConnID) BackpressureAction
}

// SimplePolicy disconnects slow members. They lost a broadcast, so they rejoin
// and resync instead of silently continuing.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, domain.ConnID) BackpressureAction {
	return KickMember
}
