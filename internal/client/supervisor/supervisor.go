package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

var ErrExhausted = errors.New("reconnection attempts exhausted")

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusConnecting:
		return "connecting"
	}
	return "disconnected"
}

type Policy struct {
	Attempts        uint64
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:        5,
		MaxElapsed:      30 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsed
	var b backoff.BackOff = eb
	if p.Attempts > 0 {
		// WithMaxRetries counts retries after the first attempt.
		b = backoff.WithMaxRetries(b, p.Attempts-1)
	}
	return backoff.WithContext(b, ctx)
}

type Hooks struct {
	// Connect dials the relay and rejoins. Wrap terminal errors with
	// backoff.Permanent to stop retrying.
	Connect func(ctx context.Context) error
	// Status is called on every status change.
	Status func(Status)
	// Exhausted reports why reconnection stopped.
	Exhausted func(err error)
}

type command int

const (
	cmdLost command = iota
	cmdReconnect
	cmdStop
)

// Supervisor owns the reconnect loop. Lost and Reconnect are messages to
// its goroutine; retry state lives nowhere else.
type Supervisor struct {
	policy Policy
	hooks  Hooks
	cmds   chan command

	mu       sync.Mutex
	status   Status
	attempts int
}

func New(policy Policy, hooks Hooks) *Supervisor {
	return &Supervisor{
		policy: policy,
		hooks:  hooks,
		cmds:   make(chan command, 4),
		status: StatusConnected,
	}
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Attempts returns how many connects the last reconnect loop made.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) post(c command) {
	select {
	case s.cmds <- c:
	default:
		log.Debug().Str("module", "client.supervisor").Int("cmd", int(c)).Msg("command queue full, dropping")
	}
}

// Lost reports that the relay transport went away.
func (s *Supervisor) Lost() { s.post(cmdLost) }

// Reconnect restarts the loop after exhaustion.
func (s *Supervisor) Reconnect() { s.post(cmdReconnect) }

// Stop ends supervision; a later Lost is ignored.
func (s *Supervisor) Stop() { s.post(cmdStop) }

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed && s.hooks.Status != nil {
		s.hooks.Status(st)
	}
}

func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.cmds:
			switch c {
			case cmdStop:
				s.setStatus(StatusDisconnected)
				return
			case cmdLost:
				if s.Status() != StatusConnected {
					continue
				}
				s.loop(ctx)
			case cmdReconnect:
				if s.Status() != StatusDisconnected {
					continue
				}
				s.loop(ctx)
			}
		}
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	s.setStatus(StatusConnecting)
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()

	terminal := false
	op := func() error {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		err := s.hooks.Connect(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			terminal = true
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("module", "client.supervisor").Dur("retry_in", next).Msg("reconnect failed")
	}

	err := backoff.RetryNotify(op, s.policy.backOff(ctx), notify)
	if err == nil {
		log.Info().Str("module", "client.supervisor").Int("attempts", s.Attempts()).Msg("reconnected")
		s.setStatus(StatusConnected)
		return
	}

	s.setStatus(StatusDisconnected)
	if !terminal && ctx.Err() == nil {
		err = errors.Join(ErrExhausted, err)
	}
	log.Warn().Err(err).Str("module", "client.supervisor").Int("attempts", s.Attempts()).Msg("reconnect gave up")
	if s.hooks.Exhausted != nil {
		s.hooks.Exhausted(err)
	}
}
