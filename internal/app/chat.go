package app

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/oklog/ulid/v2"
)

const DefaultChatHistory = 200

type chatLog struct {
	last   uint64
	recent []domain.ChatMessage // ring, oldest first
}

// ChatRelay owns the per-session sequence counter. Callers must hold the
// session lane so numbering and fan-out order agree.
type ChatRelay struct {
	mu      sync.Mutex
	logs    map[domain.SessionID]*chatLog
	history int
	now     func() time.Time
}

func NewChatRelay(history int) *ChatRelay {
	if history <= 0 {
		history = DefaultChatHistory
	}
	return &ChatRelay{
		logs:    make(map[domain.SessionID]*chatLog),
		history: history,
		now:     time.Now,
	}
}

// ValidateText trims the message and enforces the length bounds.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > domain.MaxChatRunes {
		return "", domain.ErrMessageTooLong
	}
	return text, nil
}

// Next assigns the next sequence number and records the message.
func (c *ChatRelay) Next(id domain.SessionID, sender domain.Participant, text string) (domain.ChatMessage, error) {
	text, err := ValidateText(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.logs[id]
	if !ok {
		l = &chatLog{}
		c.logs[id] = l
	}
	l.last++
	msg := domain.ChatMessage{
		ID:        ulid.Make().String(),
		SessionID: id,
		Seq:       l.last,
		Sender: domain.ChatSender{
			ConnID: sender.ConnID,
			Name:   sender.Name,
			Role:   sender.Role,
		},
		Text:      text,
		Timestamp: c.now(),
	}
	l.recent = append(l.recent, msg)
	if len(l.recent) > c.history {
		l.recent = l.recent[len(l.recent)-c.history:]
	}
	return msg, nil
}

// LastSeq returns the latest sequence number assigned in the session.
func (c *ChatRelay) LastSeq(id domain.SessionID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.logs[id]; ok {
		return l.last
	}
	return 0
}

// Since returns buffered messages after seq. complete is false when some of
// them were already evicted.
func (c *ChatRelay) Since(id domain.SessionID, seq uint64) (msgs []domain.ChatMessage, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.logs[id]
	if !ok || seq >= l.last {
		return nil, true
	}
	for _, m := range l.recent {
		if m.Seq > seq {
			msgs = append(msgs, m)
		}
	}
	complete = len(msgs) > 0 && msgs[0].Seq == seq+1
	return msgs, complete
}

func (c *ChatRelay) Forget(id domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, id)
}
