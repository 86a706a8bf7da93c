package ws

import (
	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
)

// Client is one connected participant. Send must not block; a client whose
// outbound queue is full reports an error and gets dropped.
type Client interface {
	ID() domain.ParticipantID
	Send(env wire.Envelope) error
	Close() error
}
