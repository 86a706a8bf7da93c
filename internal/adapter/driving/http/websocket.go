package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Enough for a non-trickle SDP with all candidates.
	maxMessageSize = 64 * 1024

	sendQueueSize = 256
)

var ErrSlowClient = errors.New("client send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// TODO: check Origin against the host serving StaticDir once it is deployed separately
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is the relay's end of one participant connection. Frames are
// queued on send and written by a single writePump goroutine.
type WSClient struct {
	id    domain.ParticipantID
	conn  *websocket.Conn
	codec wire.Codec

	send      chan wire.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(id domain.ParticipantID, conn *websocket.Conn, codec wire.Codec) *WSClient {
	return &WSClient{
		id:    id,
		conn:  conn,
		codec: codec,
		send:  make(chan wire.Envelope, sendQueueSize),
		done:  make(chan struct{}),
	}
}

func (c *WSClient) ID() domain.ParticipantID {
	return c.id
}

func (c *WSClient) Send(env wire.Envelope) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSlowClient
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			data, err := c.codec.Marshal(env)
			if err != nil {
				log.Error().Err(err).Str("participant_id", c.id.String()).Str("event", string(env.Event)).Msg("Failed to encode frame")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	codec, err := wire.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(domain.NewParticipantID(), conn, codec)
	l := log.With().Str("participant_id", client.id.String()).Str("codec", codec.Name()).Logger()
	l.Info().Msg("New client connected")

	go client.writePump()

	ctx := r.Context()
	if err := h.Hub.Register(ctx, client); err != nil {
		l.Error().Err(err).Msg("Failed to register client")
		client.Close()
		return
	}

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		if err := h.RelayService.Leave(context.WithoutCancel(ctx), client.id); err != nil {
			l.Error().Err(err).Msg("Failed to remove participant")
		}
		client.Close()
	}()

	if err := h.RelayService.Join(ctx, client.id); err != nil {
		l.Error().Err(err).Msg("Failed to add participant")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// listening for the participant
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		var env wire.Envelope
		if err := codec.Unmarshal(data, &env); err != nil {
			l.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if err := h.route(ctx, client.id, env); err != nil {
			l.Warn().Err(err).Str("event", string(env.Event)).Msg("Failed to relay")
		}
	}
}

// route maps a client frame onto the relay service. The sender is always the
// connection's own id, whatever the frame claims.
func (h *Handler) route(ctx context.Context, from domain.ParticipantID, env wire.Envelope) error {
	switch env.Event {
	case wire.EventUpdateUser:
		return h.RelayService.Rename(ctx, from, env.Name)

	case wire.EventCallSomeone:
		offer, err := env.Offer()
		if err != nil {
			return err
		}
		offer.CallerID = from
		return h.RelayService.PlaceCall(ctx, offer)

	case wire.EventAnswerCall:
		if env.To == "" || len(env.Signal) == 0 {
			return fmt.Errorf("%s frame missing target or signal", env.Event)
		}
		return h.RelayService.AcceptCall(ctx, from, domain.CallAnswer{
			Payload: domain.NegotiationPayload(env.Signal).Clone(),
			ToID:    domain.ParticipantID(env.To),
		})

	case wire.EventHangUp:
		if env.To == "" {
			return fmt.Errorf("%s frame missing target", env.Event)
		}
		return h.RelayService.HangUp(ctx, from, domain.ParticipantID(env.To))

	case wire.EventCallBusy:
		if env.To == "" {
			return fmt.Errorf("%s frame missing target", env.Event)
		}
		return h.RelayService.Busy(ctx, from, domain.ParticipantID(env.To))

	default:
		return fmt.Errorf("unexpected event %q from client", env.Event)
	}
}
