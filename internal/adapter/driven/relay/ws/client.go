// Package ws is the websocket client side of the signal relay.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 15 * time.Second
)

var ErrAlreadyRunning = errors.New("relay client already running")

type Options struct {
	URL   string
	Codec wire.Codec

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client implements port.Relay over a websocket. It reconnects until its Run
// context ends; Events stays the same channel the whole time and is closed
// only when Run returns.
type Client struct {
	url        string
	codec      wire.Codec
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration

	events  chan domain.RelayEvent
	started atomic.Bool

	mu   sync.RWMutex
	conn *connection
	self domain.ParticipantID
}

func NewClient(opts Options) (*Client, error) {
	codec := opts.Codec
	if codec == nil {
		codec = wire.JSON
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid relay URL %q: unsupported scheme", opts.URL)
	}
	q := u.Query()
	q.Set("codec", codec.Name())
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	minBackoff := opts.MinBackoff
	if minBackoff <= 0 {
		minBackoff = DefaultMinBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = max(DefaultMaxBackoff, minBackoff)
	}

	return &Client{
		url:        u.String(),
		codec:      codec,
		dialer:     dialer,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		events:     make(chan domain.RelayEvent, 64),
	}, nil
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Events() <-chan domain.RelayEvent {
	return c.events
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Run keeps a relay connection open until ctx is done. Each dropped
// connection is reported as a Disconnected event before redialing.
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.events)

	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = c.minBackoff
			if !c.emit(ctx, domain.Disconnected(fmt.Errorf("%w: %v", domain.ErrRelayDisconnected, err))) {
				return nil
			}
		}

		log.Warn().Err(err).Dur("retry_in", backoff).Str("url", c.url).Msg("Relay unreachable")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session dials once and pumps frames until the connection drops. It reports
// whether the dial succeeded.
func (c *Client) session(ctx context.Context) (bool, error) {
	wsConn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}

	conn := newConnection(wsConn, c.codec)
	l := log.With().Str("component", "relay").Str("url", c.url).Logger()
	l.Info().Msg("Relay connected")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.self = ""
		c.mu.Unlock()
		conn.close()
	}()

	go conn.writePump(l)
	stop := context.AfterFunc(ctx, conn.close)
	defer stop()

	return true, c.readPump(ctx, conn, l)
}

func (c *Client) readPump(ctx context.Context, conn *connection, l zerolog.Logger) error {
	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}

		var env wire.Envelope
		if err := c.codec.Unmarshal(data, &env); err != nil {
			l.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		ev, err := env.RelayEvent()
		if err != nil {
			l.Warn().Err(err).Msg("Dropping frame")
			continue
		}
		if ev.Kind == domain.EventAssignedID {
			c.mu.Lock()
			c.self = ev.ID
			c.mu.Unlock()
		}
		if !c.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (c *Client) emit(ctx context.Context, ev domain.RelayEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) UpdateName(ctx context.Context, id domain.ParticipantID, name string) error {
	return c.send(ctx, wire.UpdateUser(id, name))
}

func (c *Client) PlaceCall(ctx context.Context, offer domain.CallOffer) error {
	return c.send(ctx, wire.CallSomeone(offer))
}

func (c *Client) AcceptCall(ctx context.Context, answer domain.CallAnswer) error {
	return c.send(ctx, wire.AnswerCall(answer))
}

func (c *Client) HangUp(ctx context.Context, to domain.ParticipantID) error {
	return c.send(ctx, wire.HangUp(c.selfID(), to))
}

func (c *Client) Busy(ctx context.Context, to domain.ParticipantID) error {
	return c.send(ctx, wire.Busy(c.selfID(), to))
}

func (c *Client) selfID() domain.ParticipantID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

func (c *Client) send(ctx context.Context, env wire.Envelope) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return domain.ErrRelayDisconnected
	}

	select {
	case conn.send <- env:
		return nil
	case <-conn.done:
		return domain.ErrRelayDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

type connection struct {
	ws        *websocket.Conn
	codec     wire.Codec
	send      chan wire.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, codec wire.Codec) *connection {
	return &connection{
		ws:    ws,
		codec: codec,
		send:  make(chan wire.Envelope, 16),
		done:  make(chan struct{}),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *connection) writePump(l zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env := <-c.send:
			if err := c.write(env, l); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			if err := c.flush(l); err != nil {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames queued before close, such as a last hang up.
func (c *connection) flush(l zerolog.Logger) error {
	for {
		select {
		case env := <-c.send:
			if err := c.write(env, l); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *connection) write(env wire.Envelope, l zerolog.Logger) error {
	data, err := c.codec.Marshal(env)
	if err != nil {
		l.Error().Err(err).Str("event", string(env.Event)).Msg("Failed to encode frame")
		return nil
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(c.codec.FrameType(), data); err != nil {
		l.Warn().Err(err).Msg("Write failed")
		return err
	}
	return nil
}
