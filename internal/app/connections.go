package app

import (
	"context"
	"sync"

	"github.com/dkeye/Viewing/internal/core"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Signal core.SignalConnection
	Cancel context.CancelFunc
	UserID domain.UserID
}

// Connections maps live transport connections to their endpoints.
// It knows nothing about sessions; the Registry owns membership.
type Connections struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[domain.ConnID]*connEntry)}
}

func (c *Connections) Bind(id domain.ConnID, sig core.SignalConnection, uid domain.UserID, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = &connEntry{Signal: sig, Cancel: cancel, UserID: uid}
	log.Info().Str("module", "app.connections").Str("conn", string(id)).Msg("bound connection")
}

func (c *Connections) Signal(id domain.ConnID) (core.SignalConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.conns[id]; ok {
		return e.Signal, true
	}
	return nil, false
}

// UserID returns the authenticated user bound to the connection, empty when anonymous.
func (c *Connections) UserID(id domain.ConnID) domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.conns[id]; ok {
		return e.UserID
	}
	return ""
}

func (c *Connections) Unbind(id domain.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
	log.Info().Str("module", "app.connections").Str("conn", string(id)).Msg("unbound connection")
}

// Cancel stops the connection pumps. The read pump performs the disconnect itself.
func (c *Connections) Cancel(id domain.ConnID) bool {
	c.mu.RLock()
	e, ok := c.conns[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.connections").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}
