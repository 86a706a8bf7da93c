// Package wire defines the relay's frame format. Event names follow the web
// client's vocabulary (user_id, call_someone...) but the flat envelope is this
// package's own; frames are not field compatible with that client.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type Event string

const (
	// relay -> client
	EventUserID         Event = "user_id"
	EventOnlineUserList Event = "online_user_list"
	EventSomeoneCalling Event = "someone_calling"
	EventCallAccepted   Event = "call_accepted"
	EventHangUp         Event = "hang_up"
	EventCallBusy       Event = "call_busy"

	// client -> relay
	EventUpdateUser  Event = "update_user"
	EventCallSomeone Event = "call_someone"
	EventAnswerCall  Event = "answer_call"
)

// hang_up and call_busy travel in both directions with the same name.

type User struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// Envelope is a flat frame; only the fields relevant to Event are set.
type Envelope struct {
	Event  Event           `json:"event" msgpack:"event"`
	ID     string          `json:"id,omitempty" msgpack:"id,omitempty"`
	Name   string          `json:"name,omitempty" msgpack:"name,omitempty"`
	From   string          `json:"from,omitempty" msgpack:"from,omitempty"`
	To     string          `json:"to,omitempty" msgpack:"to,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty" msgpack:"signal,omitempty"`
	Users  map[string]User `json:"users,omitempty" msgpack:"users,omitempty"`
}

func UserID(id domain.ParticipantID) Envelope {
	return Envelope{Event: EventUserID, ID: id.String()}
}

func OnlineUserList(snapshot domain.PresenceSnapshot) Envelope {
	users := make(map[string]User, len(snapshot))
	for id, p := range snapshot {
		users[id.String()] = User{ID: id.String(), Name: p.Name}
	}
	return Envelope{Event: EventOnlineUserList, Users: users}
}

func UpdateUser(id domain.ParticipantID, name string) Envelope {
	return Envelope{Event: EventUpdateUser, ID: id.String(), Name: name}
}

func CallSomeone(offer domain.CallOffer) Envelope {
	return Envelope{
		Event:  EventCallSomeone,
		To:     offer.CalleeID.String(),
		From:   offer.CallerID.String(),
		Name:   offer.CallerName,
		Signal: json.RawMessage(offer.Payload),
	}
}

func SomeoneCalling(offer domain.CallOffer) Envelope {
	return Envelope{
		Event:  EventSomeoneCalling,
		To:     offer.CalleeID.String(),
		From:   offer.CallerID.String(),
		Name:   offer.CallerName,
		Signal: json.RawMessage(offer.Payload),
	}
}

func AnswerCall(answer domain.CallAnswer) Envelope {
	return Envelope{Event: EventAnswerCall, To: answer.ToID.String(), Signal: json.RawMessage(answer.Payload)}
}

func Accepted(from domain.ParticipantID, payload domain.NegotiationPayload) Envelope {
	return Envelope{Event: EventCallAccepted, From: from.String(), Signal: json.RawMessage(payload)}
}

func HangUp(from, to domain.ParticipantID) Envelope {
	return Envelope{Event: EventHangUp, From: from.String(), To: to.String()}
}

func Busy(from, to domain.ParticipantID) Envelope {
	return Envelope{Event: EventCallBusy, From: from.String(), To: to.String()}
}

// Offer extracts the call offer from a call_someone or someone_calling frame.
func (e Envelope) Offer() (domain.CallOffer, error) {
	if e.Event != EventCallSomeone && e.Event != EventSomeoneCalling {
		return domain.CallOffer{}, fmt.Errorf("%s frame carries no offer", e.Event)
	}
	if e.To == "" || len(e.Signal) == 0 {
		return domain.CallOffer{}, fmt.Errorf("%s frame missing target or signal", e.Event)
	}
	return domain.CallOffer{
		CalleeID:   domain.ParticipantID(e.To),
		CallerID:   domain.ParticipantID(e.From),
		CallerName: e.Name,
		Payload:    domain.NegotiationPayload(e.Signal).Clone(),
	}, nil
}

func (e Envelope) Snapshot() domain.PresenceSnapshot {
	snapshot := make(domain.PresenceSnapshot, len(e.Users))
	for key, u := range e.Users {
		id := u.ID
		if id == "" {
			id = key
		}
		snapshot[domain.ParticipantID(id)] = domain.Participant{ID: domain.ParticipantID(id), Name: u.Name}
	}
	return snapshot
}

// RelayEvent converts a relay -> client frame into the domain event the call
// service consumes.
func (e Envelope) RelayEvent() (domain.RelayEvent, error) {
	from := domain.ParticipantID(e.From)
	switch e.Event {
	case EventUserID:
		if e.ID == "" {
			return domain.RelayEvent{}, fmt.Errorf("%s frame missing id", e.Event)
		}
		return domain.AssignedID(domain.ParticipantID(e.ID)), nil
	case EventOnlineUserList:
		return domain.PresenceUpdated(e.Snapshot()), nil
	case EventSomeoneCalling:
		offer, err := e.Offer()
		if err != nil {
			return domain.RelayEvent{}, err
		}
		if offer.CallerID.IsZero() {
			return domain.RelayEvent{}, fmt.Errorf("%s frame missing caller", e.Event)
		}
		return domain.IncomingOffer(offer), nil
	case EventCallAccepted:
		if len(e.Signal) == 0 {
			return domain.RelayEvent{}, fmt.Errorf("%s frame missing signal", e.Event)
		}
		return domain.CallAccepted(from, domain.NegotiationPayload(e.Signal).Clone()), nil
	case EventHangUp:
		return domain.CallHungUp(from), nil
	case EventCallBusy:
		return domain.CallBusy(from), nil
	default:
		return domain.RelayEvent{}, fmt.Errorf("unexpected event %q from relay", e.Event)
	}
}
