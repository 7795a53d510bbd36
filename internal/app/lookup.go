package app

import (
	"context"
	"sync"

	"github.com/dkeye/Viewing/internal/domain"
)

// StaticDirectory is an in-memory MetadataLookup and IdentityLookup, used when
// no listing database is configured and in tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.SessionMetadata
	users    map[domain.UserID]string
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		sessions: make(map[domain.SessionID]domain.SessionMetadata),
		users:    make(map[domain.UserID]string),
	}
}

func (d *StaticDirectory) PutSession(m domain.SessionMetadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[m.SessionID] = m
}

func (d *StaticDirectory) PutUser(id domain.UserID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = name
}

func (d *StaticDirectory) SessionMetadata(_ context.Context, id domain.SessionID) (*domain.SessionMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.sessions[id]
	if !ok {
		return nil, domain.ErrMetadataNotFound
	}
	return &m, nil
}

func (d *StaticDirectory) DisplayName(_ context.Context, id domain.UserID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.users[id]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return name, nil
}
