package peer

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Viewing/internal/client/media"
)

// Handshake negotiates one direct media channel. Messages it produces are
// opaque to everything but the Handshake on the other side.
type Handshake interface {
	Start(ctx context.Context, initiator bool, tracks []media.Track) error
	HandleSignal(ctx context.Context, data json.RawMessage) error
	Close() error
}

// Callbacks are invoked from the handshake's own goroutines.
type Callbacks struct {
	OnSignal      func(data json.RawMessage)
	OnEstablished func()
	OnFailed      func(err error)
	OnRemoteTrack func(kind media.Kind)
}

type HandshakeFactory func(cb Callbacks) (Handshake, error)
