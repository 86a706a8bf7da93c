package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type NameBroadcaster interface {
	UpdateName(ctx context.Context, id domain.ParticipantID, name string) error
	Connected() bool
}

// Relay is the client side of the signal relay. Events returns the same
// channel for the lifetime of the client, across reconnects.
type Relay interface {
	NameBroadcaster
	Events() <-chan domain.RelayEvent
	PlaceCall(ctx context.Context, offer domain.CallOffer) error
	AcceptCall(ctx context.Context, answer domain.CallAnswer) error
	HangUp(ctx context.Context, to domain.ParticipantID) error
	Busy(ctx context.Context, to domain.ParticipantID) error
}
