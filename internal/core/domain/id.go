package domain

import (
	"github.com/google/uuid"
)

// ParticipantID is assigned by the relay on connect. It is opaque: two ids
// are equal only on exact string match.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New().String())
}

func (id ParticipantID) String() string {
	return string(id)
}

func (id ParticipantID) IsZero() bool {
	return id == ""
}
