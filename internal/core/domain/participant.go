package domain

import (
	"errors"
	"sort"
)

type Participant struct {
	ID   ParticipantID
	Name string
}

func NewParticipant(id ParticipantID, name string) (*Participant, error) {
	if id.IsZero() {
		return nil, errors.New("participant id cannot be empty")
	}
	return &Participant{
		ID:   id,
		Name: name,
	}, nil
}

// DisplayName falls back to the id for participants that never set a name.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID.String()
}

// PresenceSnapshot is the relay's full view of who is online. It is always
// replaced wholesale, never patched.
type PresenceSnapshot map[ParticipantID]Participant

func (s PresenceSnapshot) Clone() PresenceSnapshot {
	out := make(PresenceSnapshot, len(s))
	for id, p := range s {
		out[id] = p
	}
	return out
}

// Others lists everyone except exclude, ordered by display name then id.
func (s PresenceSnapshot) Others(exclude ParticipantID) []Participant {
	others := make([]Participant, 0, len(s))
	for id, p := range s {
		if id == exclude {
			continue
		}
		others = append(others, p)
	}
	sort.Slice(others, func(i, j int) bool {
		a, b := others[i].DisplayName(), others[j].DisplayName()
		if a != b {
			return a < b
		}
		return others[i].ID < others[j].ID
	})
	return others
}
