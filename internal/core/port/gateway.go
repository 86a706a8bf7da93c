package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// ClientGateway delivers relay events to connected participants. Deliveries
// to an id that is not connected fail with domain.ErrUnknownParticipant.
type ClientGateway interface {
	BroadcastPresence(ctx context.Context, snapshot domain.PresenceSnapshot) error
	DeliverOffer(ctx context.Context, offer domain.CallOffer) error
	DeliverAnswer(ctx context.Context, to, from domain.ParticipantID, payload domain.NegotiationPayload) error
	DeliverHangUp(ctx context.Context, to, from domain.ParticipantID) error
	DeliverBusy(ctx context.Context, to, from domain.ParticipantID) error
}
