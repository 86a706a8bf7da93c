package service

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// PresenceRegistry holds the local identity and the latest presence snapshot.
// It is safe for concurrent use: the call service writes it from its event
// loop while the presentation layer reads it.
type PresenceRegistry struct {
	relay port.NameBroadcaster

	mu        sync.RWMutex
	localID   domain.ParticipantID
	localName string
	sentName  string
	sent      bool
	snapshot  domain.PresenceSnapshot
}

func NewPresenceRegistry(relay port.NameBroadcaster) *PresenceRegistry {
	return &PresenceRegistry{
		relay:    relay,
		snapshot: domain.PresenceSnapshot{},
	}
}

// UpdateLocalName remembers name and asks the relay to broadcast it. While the
// relay is down nothing is sent; the name goes out after the next id
// assignment instead.
func (r *PresenceRegistry) UpdateLocalName(ctx context.Context, name string) {
	r.mu.Lock()
	r.localName = name
	id := r.localID
	if id.IsZero() || (r.sent && r.sentName == name) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.broadcast(ctx, id, name)
}

// SetLocalID records the id the relay assigned to this connection and
// re-announces a name set before (or during a previous) connection.
func (r *PresenceRegistry) SetLocalID(ctx context.Context, id domain.ParticipantID) {
	r.mu.Lock()
	r.localID = id
	r.sent = false
	name := r.localName
	r.mu.Unlock()

	if name != "" {
		r.broadcast(ctx, id, name)
	}
}

func (r *PresenceRegistry) broadcast(ctx context.Context, id domain.ParticipantID, name string) {
	if !r.relay.Connected() {
		log.Debug().Str("name", name).Msg("Relay offline, name update deferred")
		return
	}
	if err := r.relay.UpdateName(ctx, id, name); err != nil {
		log.Warn().Err(err).Str("participant_id", id.String()).Msg("Failed to broadcast name")
		return
	}

	r.mu.Lock()
	if r.localID == id {
		r.sent = true
		r.sentName = name
	}
	r.mu.Unlock()
}

// OnSnapshot replaces the registry view wholesale.
func (r *PresenceRegistry) OnSnapshot(snapshot domain.PresenceSnapshot) {
	s := snapshot.Clone()
	r.mu.Lock()
	r.snapshot = s
	r.mu.Unlock()
}

// ListOthers returns every known participant except excludeID.
func (r *PresenceRegistry) ListOthers(excludeID domain.ParticipantID) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Others(excludeID)
}

func (r *PresenceRegistry) Lookup(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot[id]
	return p, ok
}

func (r *PresenceRegistry) LocalID() domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localID
}

func (r *PresenceRegistry) LocalName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localName
}

// Clear forgets the connection-scoped state. The local name survives so it
// can be re-announced after reconnecting.
func (r *PresenceRegistry) Clear() {
	r.mu.Lock()
	r.localID = ""
	r.sent = false
	r.sentName = ""
	r.snapshot = domain.PresenceSnapshot{}
	r.mu.Unlock()
}
