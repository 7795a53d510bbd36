package orch

import (
	"context"
	"time"

	"github.com/dkeye/Viewing/internal/app"
	"github.com/dkeye/Viewing/internal/core"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the server side of the viewing coordinator. Every inbound
// event for a session is handled inside that session's lane.
type Orchestrator struct {
	Registry *app.Registry
	Conns    *app.Connections
	Presence *app.Presence
	Signals  *app.SignalRelay
	Chat     *app.ChatRelay
	Policy   app.Policy
	Metadata core.MetadataLookup
	Identity core.IdentityLookup
}

func New(reg *app.Registry, chat *app.ChatRelay, metadata core.MetadataLookup, identity core.IdentityLookup) *Orchestrator {
	conns := app.NewConnections()
	o := &Orchestrator{
		Registry: reg,
		Conns:    conns,
		Presence: app.NewPresence(conns),
		Signals:  app.NewSignalRelay(reg, conns),
		Chat:     chat,
		Policy:   app.SimplePolicy{},
		Metadata: metadata,
		Identity: identity,
	}
	reg.OnGraceExpired(func(id domain.SessionID) { chat.Forget(id) })
	return o
}

// Connect registers a fresh transport connection before it joins anything.
func (o *Orchestrator) Connect(id domain.ConnID, sig core.SignalConnection, uid domain.UserID, cancel context.CancelFunc) {
	o.Conns.Bind(id, sig, uid, cancel)
}

// OnDisconnect removes the connection from its session synchronously.
func (o *Orchestrator) OnDisconnect(id domain.ConnID) {
	if err := o.Leave(id); err != nil {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Err(err).Msg("disconnect without session")
	}
	o.Conns.Unbind(id)
}

func (o *Orchestrator) Heartbeat(id domain.ConnID) {
	if sid, ok := o.Registry.SessionOf(id); ok {
		o.Registry.Touch(sid, id)
	}
}

// applyPolicy must not block: kicking only cancels the connection, whose read
// pump then goes through OnDisconnect outside the lane.
func (o *Orchestrator) applyPolicy(sid domain.SessionID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(sid, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("session", string(sid)).Str("conn", string(slow)).Msg("send buffer full, kicking member")
			o.Conns.Cancel(slow)
		case app.NoAction:
		}
	}
}

// RunJanitor prunes ended session tombstones until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context, period, ttl time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Registry.PruneEnded(ttl); n > 0 {
				log.Info().Str("module", "orch").Int("pruned", n).Msg("pruned ended sessions")
			}
		}
	}
}
