package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ParticipantRepository interface {
	Add(ctx context.Context, p domain.Participant) error
	Rename(ctx context.Context, id domain.ParticipantID, name string) error
	Remove(ctx context.Context, id domain.ParticipantID) error
	Get(ctx context.Context, id domain.ParticipantID) (domain.Participant, error)
	Snapshot(ctx context.Context) (domain.PresenceSnapshot, error)
}
