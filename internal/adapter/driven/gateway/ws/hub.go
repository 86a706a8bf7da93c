package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

var ErrHubStopped = errors.New("hub stopped")

type registration struct {
	client Client
	done   chan struct{}
}

// Hub implements port.ClientGateway. Registration, removal and broadcasts are
// serialized by Run; direct deliveries only read the client set.
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.ParticipantID]Client
	broadcast  chan wire.Envelope
	register   chan registration
	unregister chan Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ParticipantID]Client),
		broadcast:  make(chan wire.Envelope),
		register:   make(chan registration),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case reg := <-h.register:
			// The id greeting is queued before the client can see any
			// broadcast, so it is always the first frame on the connection.
			if err := reg.client.Send(wire.UserID(reg.client.ID())); err != nil {
				log.Error().Err(err).Str("participant_id", reg.client.ID().String()).Msg("Failed to greet client")
			}
			h.mu.Lock()
			h.clients[reg.client.ID()] = reg.client
			count := len(h.clients)
			h.mu.Unlock()
			close(reg.done)
			log.Info().Int("count", count).Str("participant_id", reg.client.ID().String()).Msg("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.ID()]
			if ok && current == client {
				delete(h.clients, client.ID())
			}
			h.mu.Unlock()
			if ok {
				client.Close()
				log.Info().Str("participant_id", client.ID().String()).Msg("Client unregistered")
			}

		case env := <-h.broadcast:
			var failed []Client
			h.mu.RLock()
			for _, client := range h.clients {
				if err := client.Send(env); err != nil {
					log.Error().Err(err).Str("participant_id", client.ID().String()).Msg("Error broadcasting")
					failed = append(failed, client)
				}
			}
			h.mu.RUnlock()
			h.drop(failed)
		}
	}
}

func (h *Hub) drop(clients []Client) {
	if len(clients) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range clients {
		delete(h.clients, c.ID())
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// Register blocks until the client is part of the hub.
func (h *Hub) Register(ctx context.Context, c Client) error {
	reg := registration{client: c, done: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.quit:
		return ErrHubStopped
	}
	select {
	case <-reg.done:
		return nil
	case <-h.quit:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) BroadcastPresence(ctx context.Context, snapshot domain.PresenceSnapshot) error {
	select {
	case h.broadcast <- wire.OnlineUserList(snapshot):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.quit:
		return ErrHubStopped
	}
}

func (h *Hub) DeliverOffer(ctx context.Context, offer domain.CallOffer) error {
	return h.deliver(offer.CalleeID, wire.SomeoneCalling(offer))
}

func (h *Hub) DeliverAnswer(ctx context.Context, to, from domain.ParticipantID, payload domain.NegotiationPayload) error {
	return h.deliver(to, wire.Accepted(from, payload))
}

func (h *Hub) DeliverHangUp(ctx context.Context, to, from domain.ParticipantID) error {
	return h.deliver(to, wire.HangUp(from, to))
}

func (h *Hub) DeliverBusy(ctx context.Context, to, from domain.ParticipantID) error {
	return h.deliver(to, wire.Busy(from, to))
}

func (h *Hub) deliver(to domain.ParticipantID, env wire.Envelope) error {
	h.mu.RLock()
	client, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("deliver %s to %s: %w", env.Event, to, domain.ErrUnknownParticipant)
	}
	if err := client.Send(env); err != nil {
		h.Unregister(client)
		return fmt.Errorf("deliver %s to %s: %w", env.Event, to, err)
	}
	log.Debug().Str("event", string(env.Event)).Str("from", env.From).Str("to", to.String()).Msg("Relayed")
	return nil
}
