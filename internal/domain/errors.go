package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionEnded        = errors.New("session ended")
	ErrHostConflict        = errors.New("host already present")
	ErrRelayFailed         = errors.New("relay failed")
	ErrMediaUnavailable    = errors.New("media unavailable")
	ErrHandshake           = errors.New("handshake failed")
	ErrNotMember           = errors.New("not a session member")
	ErrAlreadyJoined       = errors.New("connection already joined a session")
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrNotHost             = errors.New("only the host may do that")
	ErrEmptyMessage        = errors.New("empty message")
	ErrMessageTooLong      = errors.New("message too long")
	ErrMetadataNotFound    = errors.New("session metadata not found")
	ErrMetadataUnavailable = errors.New("session metadata unavailable")
	ErrUserNotFound        = errors.New("user not found")
)

// RelayError names why a signal could not be delivered.
type RelayError struct {
	To     ConnID
	Reason string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay to %s failed: %s", e.To, e.Reason)
}

func (e *RelayError) Unwrap() error { return ErrRelayFailed }
