package domain

import "errors"

type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}

type Phase int

const (
	PhaseIdle           Phase = iota
	PhaseRingingOutgoing       // local placed a call, awaiting accept
	PhaseRingingIncoming       // remote offer received, awaiting local accept/reject
	PhaseConnected
	PhaseClosed // transient, always followed by Idle in the same step
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRingingOutgoing:
		return "ringing_outgoing"
	case PhaseRingingIncoming:
		return "ringing_incoming"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (p Phase) Ringing() bool {
	return p == PhaseRingingOutgoing || p == PhaseRingingIncoming
}

// EndReason says why the last call returned to Idle.
type EndReason string

const (
	ReasonNone         EndReason = ""
	ReasonHangUp       EndReason = "hangup"
	ReasonRejected     EndReason = "rejected"
	ReasonBusy         EndReason = "busy"
	ReasonTimeout      EndReason = "timeout"
	ReasonDisconnected EndReason = "disconnected"
	ReasonFailed       EndReason = "failed"
)

type CallOffer struct {
	CalleeID   ParticipantID
	CallerID   ParticipantID
	CallerName string
	Payload    NegotiationPayload
}

func NewCallOffer(callee, caller ParticipantID, callerName string, payload NegotiationPayload) (*CallOffer, error) {
	if callee.IsZero() || caller.IsZero() {
		return nil, errors.New("call offer needs both callee and caller")
	}
	if callee == caller {
		return nil, ErrSelfCall
	}
	if payload.IsEmpty() {
		return nil, errors.New("call offer needs a negotiation payload")
	}
	return &CallOffer{
		CalleeID:   callee,
		CallerID:   caller,
		CallerName: callerName,
		Payload:    payload,
	}, nil
}

type CallAnswer struct {
	Payload NegotiationPayload
	ToID    ParticipantID
}

// CallSession is the single per-participant call state.
type CallSession struct {
	Role           Role
	Phase          Phase
	Remote         *Participant
	PendingPayload NegotiationPayload
}

func (s CallSession) Active() bool {
	return s.Phase != PhaseIdle && s.Phase != PhaseClosed
}

func (s CallSession) RemoteID() ParticipantID {
	if s.Remote == nil {
		return ""
	}
	return s.Remote.ID
}

// Clone returns a copy that shares nothing with s.
func (s CallSession) Clone() CallSession {
	out := CallSession{
		Role:           s.Role,
		Phase:          s.Phase,
		PendingPayload: s.PendingPayload.Clone(),
	}
	if s.Remote != nil {
		r := *s.Remote
		out.Remote = &r
	}
	return out
}

// View is everything the presentation layer renders.
type View struct {
	SelfID   ParticipantID
	SelfName string
	Online   bool
	Phase    Phase
	Role     Role
	Remote   *Participant
	Others   []Participant
	Reason   EndReason
	Err      error
}
