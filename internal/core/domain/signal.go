package domain

// NegotiationPayload is the opaque session description produced and consumed
// by the peer-connection library. The signaling core never looks inside.
type NegotiationPayload []byte

func (p NegotiationPayload) Clone() NegotiationPayload {
	if p == nil {
		return nil
	}
	out := make(NegotiationPayload, len(p))
	copy(out, p)
	return out
}

func (p NegotiationPayload) IsEmpty() bool {
	return len(p) == 0
}

type RelayEventKind int

const (
	EventAssignedID RelayEventKind = iota
	EventPresenceUpdated
	EventIncomingOffer
	EventCallAccepted
	EventCallHungUp
	EventCallBusy
	// EventDisconnected is synthesized by the relay client, never sent by the relay.
	EventDisconnected
)

func (k RelayEventKind) String() string {
	switch k {
	case EventAssignedID:
		return "assigned_id"
	case EventPresenceUpdated:
		return "presence_updated"
	case EventIncomingOffer:
		return "incoming_offer"
	case EventCallAccepted:
		return "call_accepted"
	case EventCallHungUp:
		return "call_hung_up"
	case EventCallBusy:
		return "call_busy"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RelayEvent is one inbound delivery from the relay. Only the fields relevant
// to Kind are set. From is filled by the relay on forwarded call-control
// events and may be empty when the relay does not know the sender.
type RelayEvent struct {
	Kind     RelayEventKind
	From     ParticipantID
	ID       ParticipantID
	Snapshot PresenceSnapshot
	Offer    *CallOffer
	Payload  NegotiationPayload
	Err      error
}

func AssignedID(id ParticipantID) RelayEvent {
	return RelayEvent{Kind: EventAssignedID, ID: id}
}

func PresenceUpdated(s PresenceSnapshot) RelayEvent {
	return RelayEvent{Kind: EventPresenceUpdated, Snapshot: s}
}

func IncomingOffer(offer CallOffer) RelayEvent {
	return RelayEvent{Kind: EventIncomingOffer, From: offer.CallerID, Offer: &offer}
}

func CallAccepted(from ParticipantID, payload NegotiationPayload) RelayEvent {
	return RelayEvent{Kind: EventCallAccepted, From: from, Payload: payload}
}

func CallHungUp(from ParticipantID) RelayEvent {
	return RelayEvent{Kind: EventCallHungUp, From: from}
}

func CallBusy(from ParticipantID) RelayEvent {
	return RelayEvent{Kind: EventCallBusy, From: from}
}

func Disconnected(err error) RelayEvent {
	return RelayEvent{Kind: EventDisconnected, Err: err}
}
