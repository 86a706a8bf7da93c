package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccessDenied  = errors.New("media access denied")
	ErrRelayDisconnected  = errors.New("relay disconnected")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNegotiationFailure = errors.New("negotiation failure")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrSelfCall           = errors.New("cannot call yourself")
)

// TransitionError reports an event the current phase has no rule for.
type TransitionError struct {
	Phase Phase
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s in phase %s: %v", e.Event, e.Phase, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// OpError wraps a collaborator failure with the operation that hit it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewOpError(op string, err error) *OpError {
	return &OpError{Op: op, Err: err}
}
