package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ParticipantRepository struct {
	mu           sync.RWMutex
	participants map[domain.ParticipantID]domain.Participant
}

func NewParticipantRepository() *ParticipantRepository {
	return &ParticipantRepository{
		participants: make(map[domain.ParticipantID]domain.Participant),
	}
}

func (r *ParticipantRepository) Add(ctx context.Context, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.ID]; ok {
		return fmt.Errorf("participant %s already present", p.ID)
	}
	r.participants[p.ID] = p
	return nil
}

func (r *ParticipantRepository) Rename(ctx context.Context, id domain.ParticipantID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return fmt.Errorf("rename %s: %w", id, domain.ErrUnknownParticipant)
	}
	p.Name = name
	r.participants[id] = p
	return nil
}

func (r *ParticipantRepository) Remove(ctx context.Context, id domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, id)
	return nil
}

func (r *ParticipantRepository) Get(ctx context.Context, id domain.ParticipantID) (domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, fmt.Errorf("get %s: %w", id, domain.ErrUnknownParticipant)
	}
	return p, nil
}

func (r *ParticipantRepository) Snapshot(ctx context.Context) (domain.PresenceSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.PresenceSnapshot(r.participants).Clone(), nil
}
