package client

type Verdict int

const (
	Deliver Verdict = iota
	Duplicate
	Gap
)

// ChatTracker follows the relay's per-session sequence. A message more than
// one ahead of the last delivered one is a gap, never silently skipped.
type ChatTracker struct {
	last uint64
}

func (t *ChatTracker) Observe(seq uint64) Verdict {
	switch {
	case seq <= t.last:
		return Duplicate
	case seq == t.last+1:
		t.last = seq
		return Deliver
	default:
		return Gap
	}
}

func (t *ChatTracker) Last() uint64 { return t.last }

// Reset accepts everything up to seq as seen.
func (t *ChatTracker) Reset(seq uint64) { t.last = seq }
