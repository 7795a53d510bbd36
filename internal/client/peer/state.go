package peer

type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateAwaitingPeer
	StateSignaling
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateSignaling:
		return "signaling"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var transitions = map[State][]State{
	StateIdle:           {StateAcquiringMedia},
	StateAcquiringMedia: {StateAwaitingPeer, StateIdle},
	StateAwaitingPeer:   {StateSignaling},
	StateSignaling:      {StateConnected, StateReconnecting},
	StateConnected:      {StateReconnecting},
	StateReconnecting:   {StateSignaling},
}

// allowed reports whether from -> to is a legal edge. Closing is legal from
// every state except closed itself.
func allowed(from, to State) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
