package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Viewing/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("transport closed")

// Event is one decoded relay event.
type Event struct {
	Type    string
	Payload any
}

// Transport is one relay connection. Done is closed when the connection is
// lost or closed; Err then reports why.
type Transport interface {
	Send(typ string, payload any) error
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WSDialer dials the relay over gorilla/websocket.
type WSDialer struct {
	URL             string
	Token           string
	HeartbeatPeriod time.Duration
	Dialer          *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	period := d.HeartbeatPeriod
	if period <= 0 {
		period = 20 * time.Second
	}
	return newConn(ws, period), nil
}

type wsConn struct {
	ws     *websocket.Conn
	events chan Event
	done   chan struct{}
	period time.Duration

	writeMu sync.Mutex

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newConn(ws *websocket.Conn, period time.Duration) *wsConn {
	c := &wsConn{
		ws:     ws,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		period: period,
	}
	go c.readLoop()
	go c.heartbeat()
	return c
}

func (c *wsConn) Events() <-chan Event  { return c.events }
func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Send(typ string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.fail(ErrClosed)
	return nil
}

func (c *wsConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) readLoop() {
	deadline := c.period*2 + c.period/2
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		typ, payload, err := protocol.DecodeRelay(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.transport").Str("type", typ).Msg("dropping malformed relay event")
			continue
		}
		select {
		case c.events <- Event{Type: typ, Payload: payload}:
		case <-c.done:
			return
		}
	}
}

// heartbeat keeps traffic flowing so a silent relay is detected by the
// read deadline.
func (c *wsConn) heartbeat() {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(protocol.TypePing, nil); err != nil {
				return
			}
		}
	}
}
