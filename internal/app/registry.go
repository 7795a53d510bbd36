package app

import (
	"sync"
	"time"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultGracePeriod = 60 * time.Second

// RosterSnapshot is the state right after a roster mutation.
type RosterSnapshot struct {
	Session      domain.Session
	Participant  domain.Participant
	Participants []domain.Participant
	// HostConflict is set when a host claim was demoted to viewer.
	HostConflict bool
	// WentLive is set when this join flipped the session from waiting to live.
	WentLive bool
}

// Removal describes a participant that left the roster.
type Removal struct {
	Session     domain.Session
	Participant domain.Participant
	Remaining   []domain.Participant
	WasHost     bool
}

type SessionInfo struct {
	Session     domain.Session `json:"session"`
	MemberCount int            `json:"memberCount"`
}

type sessionEntry struct {
	// lane serializes event handling for one session.
	lane sync.Mutex

	mu       sync.RWMutex
	session  domain.Session
	roster   []*domain.Participant
	teardown *time.Timer
	gen      uint64
}

// Registry is the in-memory table of viewing sessions and their rosters.
// The map is guarded by mu; each roster by its own entry lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
	conns    map[domain.ConnID]domain.SessionID

	grace   time.Duration
	now     func() time.Time
	onEnded func(domain.SessionID)
}

func NewRegistry(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Registry{
		sessions: make(map[domain.SessionID]*sessionEntry),
		conns:    make(map[domain.ConnID]domain.SessionID),
		grace:    grace,
		now:      time.Now,
	}
}

// OnGraceExpired registers a hook called after an empty session is torn down.
func (r *Registry) OnGraceExpired(fn func(domain.SessionID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnded = fn
}

func (r *Registry) entry(id domain.SessionID) *sessionEntry {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.sessions[id]; ok {
		return e
	}
	e = &sessionEntry{session: domain.Session{
		ID:        id,
		Status:    domain.StatusWaiting,
		CreatedAt: r.now(),
	}}
	r.sessions[id] = e
	log.Info().Str("module", "app.registry").Str("session", string(id)).Msg("created session")
	return e
}

// CreateOrGetSession is idempotent and never resets an existing session.
func (r *Registry) CreateOrGetSession(id domain.SessionID) domain.Session {
	e := r.entry(id)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Exec runs fn inside the session's serialization lane.
// Independent sessions never contend on it.
func (r *Registry) Exec(id domain.SessionID, fn func() error) error {
	e := r.entry(id)
	e.lane.Lock()
	defer e.lane.Unlock()
	return fn()
}

func (r *Registry) AddParticipant(id domain.SessionID, p domain.Participant) (RosterSnapshot, error) {
	e := r.entry(id)

	r.mu.Lock()
	if _, taken := r.conns[p.ConnID]; taken {
		r.mu.Unlock()
		return RosterSnapshot{}, domain.ErrDuplicateConnection
	}
	e.mu.Lock()
	if e.session.Status == domain.StatusEnded {
		e.mu.Unlock()
		r.mu.Unlock()
		return RosterSnapshot{}, domain.ErrSessionEnded
	}
	r.conns[p.ConnID] = id
	r.mu.Unlock()
	defer e.mu.Unlock()

	e.stopTeardown()

	snap := RosterSnapshot{}
	if p.Role == domain.RoleHost && e.session.Host != "" {
		p.Role = domain.RoleViewer
		snap.HostConflict = true
		log.Warn().
			Str("module", "app.registry").
			Str("session", string(id)).
			Str("conn", string(p.ConnID)).
			Str("host", string(e.session.Host)).
			Err(domain.ErrHostConflict).
			Msg("second host claim demoted to viewer")
	}
	if p.Role == "" {
		p.Role = domain.RoleViewer
	}
	now := r.now()
	p.SessionID = id
	p.JoinedAt = now
	p.LastSeen = now

	if p.Role == domain.RoleHost {
		e.session.Host = p.ConnID
		if e.session.Status == domain.StatusWaiting {
			e.session.Status = domain.StatusLive
			snap.WentLive = true
		}
	}
	e.roster = append(e.roster, &p)

	snap.Session = e.session
	snap.Participant = p
	snap.Participants = e.snapshot()
	log.Info().
		Str("module", "app.registry").
		Str("session", string(id)).
		Str("conn", string(p.ConnID)).
		Str("role", string(p.Role)).
		Int("members", len(e.roster)).
		Msg("participant added")
	return snap, nil
}

// RemoveParticipant drops the connection from its roster. An emptied session
// is torn down only after the grace period.
func (r *Registry) RemoveParticipant(id domain.SessionID, conn domain.ConnID) (Removal, bool) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || r.conns[conn] != id {
		r.mu.Unlock()
		return Removal{}, false
	}
	delete(r.conns, conn)
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(conn)
	if idx < 0 {
		return Removal{}, false
	}
	p := *e.roster[idx]
	e.roster = append(e.roster[:idx], e.roster[idx+1:]...)

	rm := Removal{Participant: p}
	if e.session.Host == conn {
		rm.WasHost = true
		e.session.Host = ""
		if e.session.Status == domain.StatusLive {
			e.session.Status = domain.StatusWaiting
		}
	}
	if len(e.roster) == 0 && e.session.Status != domain.StatusEnded {
		e.armTeardown(r, id)
	}
	rm.Session = e.session
	rm.Remaining = e.snapshot()
	log.Info().
		Str("module", "app.registry").
		Str("session", string(id)).
		Str("conn", string(conn)).
		Bool("was_host", rm.WasHost).
		Int("members", len(e.roster)).
		Msg("participant removed")
	return rm, true
}

// Roster is a snapshot read; it never creates or mutates a session.
func (r *Registry) Roster(id domain.SessionID) []domain.Participant {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot()
}

func (r *Registry) Session(id domain.SessionID) (domain.Session, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Session{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session, true
}

// SessionOf returns the session the connection currently belongs to.
func (r *Registry) SessionOf(conn domain.ConnID) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[conn]
	return id, ok
}

func (r *Registry) Member(id domain.SessionID, conn domain.ConnID) (domain.Participant, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	member := ok && r.conns[conn] == id
	r.mu.RUnlock()
	if !member {
		return domain.Participant{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if idx := e.indexOf(conn); idx >= 0 {
		return *e.roster[idx], true
	}
	return domain.Participant{}, false
}

func (r *Registry) IsMember(id domain.SessionID, conn domain.ConnID) bool {
	_, ok := r.Member(id, conn)
	return ok
}

func (r *Registry) UpdateMedia(id domain.SessionID, conn domain.ConnID, st domain.MediaState) (domain.Participant, error) {
	return r.update(id, conn, func(p *domain.Participant) {
		p.Media = st
		p.LastSeen = r.now()
	})
}

func (r *Registry) Touch(id domain.SessionID, conn domain.ConnID) {
	_, _ = r.update(id, conn, func(p *domain.Participant) { p.LastSeen = r.now() })
}

func (r *Registry) update(id domain.SessionID, conn domain.ConnID, fn func(*domain.Participant)) (domain.Participant, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Participant{}, domain.ErrNotMember
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexOf(conn)
	if idx < 0 {
		return domain.Participant{}, domain.ErrNotMember
	}
	fn(e.roster[idx])
	return *e.roster[idx], nil
}

// EndSession marks the session ended and clears its roster. The entry stays as
// a tombstone so the id cannot be silently re-created.
func (r *Registry) EndSession(id domain.SessionID) ([]domain.Participant, error) {
	e := r.entry(id)
	e.mu.Lock()
	if e.session.Status == domain.StatusEnded {
		e.mu.Unlock()
		return nil, domain.ErrSessionEnded
	}
	e.stopTeardown()
	members := e.snapshot()
	e.roster = nil
	e.session.Status = domain.StatusEnded
	e.session.Host = ""
	e.session.EndedAt = r.now()
	e.mu.Unlock()

	r.mu.Lock()
	for _, p := range members {
		delete(r.conns, p.ConnID)
	}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("session", string(id)).Int("members", len(members)).Msg("session ended")
	return members, nil
}

func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, SessionInfo{Session: e.session, MemberCount: len(e.roster)})
		e.mu.RUnlock()
	}
	return out
}

// PruneEnded forgets tombstones that ended more than ttl ago.
func (r *Registry) PruneEnded(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.sessions {
		e.mu.RLock()
		expired := e.session.Status == domain.StatusEnded && e.session.EndedAt.Before(cutoff)
		e.mu.RUnlock()
		if expired {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) expire(id domain.SessionID, gen uint64) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	hook := r.onEnded
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.gen != gen || len(e.roster) > 0 || e.session.Status == domain.StatusEnded {
		e.mu.Unlock()
		return
	}
	e.teardown = nil
	e.session.Status = domain.StatusEnded
	e.session.Host = ""
	e.session.EndedAt = r.now()
	e.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("session", string(id)).Msg("grace period expired, session ended")
	if hook != nil {
		hook(id)
	}
}

// armTeardown must be called with e.mu held.
func (e *sessionEntry) armTeardown(r *Registry, id domain.SessionID) {
	e.stopTeardown()
	gen := e.gen
	e.teardown = time.AfterFunc(r.grace, func() { r.expire(id, gen) })
	log.Debug().Str("module", "app.registry").Str("session", string(id)).Dur("grace", r.grace).Msg("session empty, teardown armed")
}

// stopTeardown must be called with e.mu held.
func (e *sessionEntry) stopTeardown() {
	e.gen++
	if e.teardown != nil {
		e.teardown.Stop()
		e.teardown = nil
	}
}

func (e *sessionEntry) indexOf(conn domain.ConnID) int {
	for i, p := range e.roster {
		if p.ConnID == conn {
			return i
		}
	}
	return -1
}

func (e *sessionEntry) snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(e.roster))
	for _, p := range e.roster {
		out = append(out, *p)
	}
	return out
}
