package core

import (
	"context"

	"github.com/dkeye/Viewing/internal/domain"
)

// Frame is a raw encoded protocol message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MetadataLookup resolves the externally scheduled viewing for a session id.
// It returns domain.ErrMetadataNotFound when the listing service does not know the id yet.
type MetadataLookup interface {
	SessionMetadata(ctx context.Context, id domain.SessionID) (*domain.SessionMetadata, error)
}

// IdentityLookup resolves the display name of an authenticated user.
type IdentityLookup interface {
	DisplayName(ctx context.Context, id domain.UserID) (string, error)
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

func (r *PublishResult) Merge(o PublishResult) {
	r.SendTo += o.SendTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}
