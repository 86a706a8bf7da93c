// Package memory is an in-process signal relay. It routes events between
// endpoints the same way the websocket relay does, without a network.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Network is the relay. Each Endpoint is one participant's connection to it
// and implements port.Relay.
type Network struct {
	mu        sync.Mutex
	endpoints map[domain.ParticipantID]*Endpoint
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[domain.ParticipantID]*Endpoint)}
}

// Connect attaches a new endpoint. An empty id gets a generated one. The
// endpoint's first event is always its id assignment.
func (n *Network) Connect(id domain.ParticipantID) *Endpoint {
	e := &Endpoint{
		network: n,
		out:     make(chan domain.RelayEvent),
		wake:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	go e.pump()

	n.mu.Lock()
	n.attachLocked(e, id)
	n.mu.Unlock()
	return e
}

// Online returns the ids of every attached endpoint.
func (n *Network) Online() domain.PresenceSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

func (n *Network) attachLocked(e *Endpoint, id domain.ParticipantID) {
	if id.IsZero() {
		id = domain.NewParticipantID()
	}
	e.id = id
	e.name = ""
	e.online = true
	n.endpoints[id] = e
	e.push(domain.AssignedID(id))
	log.Debug().Str("participant_id", id.String()).Msg("Endpoint attached")
	n.broadcastLocked()
}

func (n *Network) detachLocked(e *Endpoint) {
	if !e.online {
		return
	}
	delete(n.endpoints, e.id)
	e.online = false
	log.Debug().Str("participant_id", e.id.String()).Msg("Endpoint detached")
	n.broadcastLocked()
}

func (n *Network) snapshotLocked() domain.PresenceSnapshot {
	snapshot := make(domain.PresenceSnapshot, len(n.endpoints))
	for id, e := range n.endpoints {
		snapshot[id] = domain.Participant{ID: id, Name: e.name}
	}
	return snapshot
}

func (n *Network) broadcastLocked() {
	snapshot := n.snapshotLocked()
	for _, e := range n.endpoints {
		e.push(domain.PresenceUpdated(snapshot.Clone()))
	}
}

// Endpoint events are queued without bound so the relay never blocks on a
// slow consumer.
type Endpoint struct {
	network *Network

	// Guarded by network.mu.
	id     domain.ParticipantID
	name   string
	online bool

	qmu    sync.Mutex
	queue  []domain.RelayEvent
	wake   chan struct{}
	out    chan domain.RelayEvent
	closed chan struct{}
	once   sync.Once
}

func (e *Endpoint) ID() domain.ParticipantID {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	return e.id
}

func (e *Endpoint) Events() <-chan domain.RelayEvent {
	return e.out
}

func (e *Endpoint) Connected() bool {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	return e.online
}

// Drop simulates the transport going away: the endpoint leaves the presence
// list and receives a Disconnected event.
func (e *Endpoint) Drop() {
	e.network.mu.Lock()
	wasOnline := e.online
	e.network.detachLocked(e)
	e.network.mu.Unlock()
	if wasOnline {
		e.push(domain.Disconnected(domain.ErrRelayDisconnected))
	}
}

// Reconnect re-attaches a dropped endpoint under a fresh id.
func (e *Endpoint) Reconnect() {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	if e.online {
		return
	}
	select {
	case <-e.closed:
		return
	default:
	}
	e.network.attachLocked(e, "")
}

// Close detaches the endpoint for good and closes its event channel.
func (e *Endpoint) Close() error {
	e.network.mu.Lock()
	e.network.detachLocked(e)
	e.network.mu.Unlock()
	e.once.Do(func() { close(e.closed) })
	return nil
}

func (e *Endpoint) UpdateName(ctx context.Context, id domain.ParticipantID, name string) error {
	n := e.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if !e.online {
		return domain.ErrRelayDisconnected
	}
	// The sender is always the endpoint itself.
	e.name = name
	n.broadcastLocked()
	return nil
}

func (e *Endpoint) PlaceCall(ctx context.Context, offer domain.CallOffer) error {
	n := e.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if !e.online {
		return domain.ErrRelayDisconnected
	}

	offer.CallerID = e.id
	if offer.CallerName == "" {
		offer.CallerName = e.name
	}
	callee, ok := n.endpoints[offer.CalleeID]
	if !ok {
		log.Info().Str("caller_id", e.id.String()).Str("callee_id", offer.CalleeID.String()).Msg("Callee unreachable")
		e.push(domain.CallHungUp(offer.CalleeID))
		return nil
	}
	offer.Payload = offer.Payload.Clone()
	callee.push(domain.IncomingOffer(offer))
	return nil
}

func (e *Endpoint) AcceptCall(ctx context.Context, answer domain.CallAnswer) error {
	return e.forward(answer.ToID, func(from domain.ParticipantID) domain.RelayEvent {
		return domain.CallAccepted(from, answer.Payload.Clone())
	})
}

func (e *Endpoint) HangUp(ctx context.Context, to domain.ParticipantID) error {
	return e.forward(to, domain.CallHungUp)
}

func (e *Endpoint) Busy(ctx context.Context, to domain.ParticipantID) error {
	return e.forward(to, domain.CallBusy)
}

// forward delivers a call-control event stamped with the sender's id. Like
// the websocket relay, a message to an absent participant is dropped.
func (e *Endpoint) forward(to domain.ParticipantID, build func(from domain.ParticipantID) domain.RelayEvent) error {
	n := e.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if !e.online {
		return domain.ErrRelayDisconnected
	}
	target, ok := n.endpoints[to]
	if !ok {
		log.Debug().Err(fmt.Errorf("forward to %s: %w", to, domain.ErrUnknownParticipant)).Msg("Dropping relay message")
		return nil
	}
	target.push(build(e.id))
	return nil
}

func (e *Endpoint) push(ev domain.RelayEvent) {
	e.qmu.Lock()
	e.queue = append(e.queue, ev)
	e.qmu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) pump() {
	defer close(e.out)
	for {
		e.qmu.Lock()
		if len(e.queue) == 0 {
			e.qmu.Unlock()
			select {
			case <-e.wake:
				continue
			case <-e.closed:
				return
			}
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.qmu.Unlock()

		select {
		case e.out <- ev:
		case <-e.closed:
			return
		}
	}
}
