package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultRingTimeout = 30 * time.Second

var (
	ErrServiceStopped = errors.New("call service stopped")
	ErrAlreadyRunning = errors.New("call service already running")
)

type CallConfig struct {
	Relay     port.Relay
	Peers     port.PeerFactory
	Media     port.MediaSource // optional; without it calls carry no local tracks
	Presence  *PresenceRegistry
	Presenter port.Presenter // optional

	// RingTimeout bounds how long a call may ring unanswered. Zero uses
	// DefaultRingTimeout, a negative value disables the timeout.
	RingTimeout time.Duration
}

type eventKind int

const (
	evCall eventKind = iota
	evAccept
	evReject
	evHangUp
	evSetName
	evRelay
	evPeerSignal
	evPeerStream
	evPeerFailure
	evRingTimeout
)

func (k eventKind) String() string {
	switch k {
	case evCall:
		return "call"
	case evAccept:
		return "accept"
	case evReject:
		return "reject"
	case evHangUp:
		return "hang_up"
	case evSetName:
		return "set_name"
	case evRelay:
		return "relay"
	case evPeerSignal:
		return "peer_signal"
	case evPeerStream:
		return "peer_stream"
	case evPeerFailure:
		return "peer_failure"
	case evRingTimeout:
		return "ring_timeout"
	default:
		return "unknown"
	}
}

type callEvent struct {
	kind    eventKind
	target  domain.ParticipantID
	name    string
	relay   domain.RelayEvent
	payload domain.NegotiationPayload
	stream  port.RemoteStream
	err     error
	gen     uint64
	reply   chan error
}

// CallService is the call session manager. Every input (local intents,
// relay events, peer callbacks, ring timers) is funnelled through Run's single
// loop, so transitions never overlap.
type CallService struct {
	relay       port.Relay
	peers       port.PeerFactory
	media       port.MediaSource
	presence    *PresenceRegistry
	presenter   port.Presenter
	ringTimeout time.Duration

	inbox   chan callEvent
	done    chan struct{}
	started atomic.Bool

	// Owned by the Run goroutine.
	ctx        context.Context
	log        zerolog.Logger
	stream     port.MediaStream
	mediaErr   error
	session    domain.CallSession
	peer       port.Peer
	peerGen    uint64
	signalSent bool
	ringTimer  *time.Timer
	ringGen    uint64
	reason     domain.EndReason
	lastErr    error
	dirty      bool

	viewMu sync.RWMutex
	view   domain.View
	snap   domain.CallSession
}

func NewCallService(cfg CallConfig) *CallService {
	timeout := cfg.RingTimeout
	if timeout == 0 {
		timeout = DefaultRingTimeout
	}
	return &CallService{
		relay:       cfg.Relay,
		peers:       cfg.Peers,
		media:       cfg.Media,
		presence:    cfg.Presence,
		presenter:   cfg.Presenter,
		ringTimeout: timeout,
		inbox:       make(chan callEvent, 64),
		done:        make(chan struct{}),
		ctx:         context.Background(),
		log:         log.With().Str("component", "call").Logger(),
	}
}

// Run acquires the local media stream and then processes events until ctx
// is cancelled or the relay's event channel is closed.
func (s *CallService) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	s.ctx = ctx
	defer s.shutdown()

	if s.media != nil {
		stream, err := s.media.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.mediaErr = domain.NewOpError("acquire media", fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err))
			s.lastErr = s.mediaErr
			s.log.Error().Err(err).Msg("Media access denied, placing and accepting calls disabled")
		} else {
			s.stream = stream
			s.log.Info().Str("stream_id", stream.ID()).Msg("Local media acquired")
		}
	}
	s.dirty = true
	s.publish()

	events := s.relay.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.dispatch(callEvent{kind: evRelay, relay: domain.Disconnected(domain.ErrRelayDisconnected)})
				return nil
			}
			s.dispatch(callEvent{kind: evRelay, relay: ev})
		case ev := <-s.inbox:
			s.dispatch(ev)
		}
	}
}

// Call places a call to target.
func (s *CallService) Call(ctx context.Context, target domain.ParticipantID) error {
	return s.submit(ctx, callEvent{kind: evCall, target: target})
}

// Accept answers the ringing incoming call.
func (s *CallService) Accept(ctx context.Context) error {
	return s.submit(ctx, callEvent{kind: evAccept})
}

// Reject declines the ringing incoming call.
func (s *CallService) Reject(ctx context.Context) error {
	return s.submit(ctx, callEvent{kind: evReject})
}

// HangUp ends or cancels the current call. It is a no-op when idle.
func (s *CallService) HangUp(ctx context.Context) error {
	return s.submit(ctx, callEvent{kind: evHangUp})
}

// SetName updates the local display name through the presence registry.
func (s *CallService) SetName(ctx context.Context, name string) error {
	return s.submit(ctx, callEvent{kind: evSetName, name: name})
}

// View returns the last state published to the presenter.
func (s *CallService) View() domain.View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Session returns a copy of the current call session.
func (s *CallService) Session() domain.CallSession {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.snap.Clone()
}

func (s *CallService) submit(ctx context.Context, ev callEvent) error {
	ev.reply = make(chan error, 1)
	select {
	case s.inbox <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServiceStopped
	}
	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServiceStopped
	}
}

// post is used by callbacks running outside the event loop.
func (s *CallService) post(ev callEvent) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

func (s *CallService) dispatch(ev callEvent) {
	var err error
	switch ev.kind {
	case evCall:
		err = s.handleCall(ev.target)
	case evAccept:
		err = s.handleAccept()
	case evReject:
		err = s.handleReject()
	case evHangUp:
		err = s.handleHangUp()
	case evSetName:
		s.presence.UpdateLocalName(s.ctx, ev.name)
		s.dirty = true
	case evRelay:
		s.handleRelay(ev.relay)
	case evPeerSignal:
		s.handlePeerSignal(ev.gen, ev.payload)
	case evPeerStream:
		s.handlePeerStream(ev.gen, ev.stream)
	case evPeerFailure:
		s.handlePeerFailure(ev.gen, ev.err)
	case evRingTimeout:
		s.handleRingTimeout(ev.gen)
	}
	if err != nil {
		s.log.Debug().Err(err).Stringer("event", ev.kind).Msg("Intent refused")
	}
	s.publish()
	if ev.reply != nil {
		ev.reply <- err
	}
}

func (s *CallService) handleCall(target domain.ParticipantID) error {
	if s.session.Phase != domain.PhaseIdle {
		return &domain.TransitionError{Phase: s.session.Phase, Event: "call"}
	}
	self := s.presence.LocalID()
	if self.IsZero() || !s.relay.Connected() {
		return domain.ErrRelayDisconnected
	}
	if target.IsZero() {
		return domain.ErrUnknownParticipant
	}
	if target == self {
		return domain.ErrSelfCall
	}
	if s.mediaErr != nil {
		return s.mediaErr
	}

	remote := domain.Participant{ID: target}
	if p, ok := s.presence.Lookup(target); ok {
		remote = p
	}
	if err := s.startPeer(true); err != nil {
		return err
	}
	s.enter(domain.CallSession{
		Role:   domain.RoleCaller,
		Phase:  domain.PhaseRingingOutgoing,
		Remote: &remote,
	})
	s.startRing()
	s.log.Info().Str("callee_id", target.String()).Msg("Calling")
	return nil
}

func (s *CallService) handleAccept() error {
	if s.session.Phase != domain.PhaseRingingIncoming {
		return &domain.TransitionError{Phase: s.session.Phase, Event: "accept"}
	}
	if s.mediaErr != nil {
		return s.mediaErr
	}

	pending := s.session.PendingPayload
	if err := s.startPeer(false); err != nil {
		s.endCall(domain.ReasonFailed, err, true)
		return err
	}
	if err := s.peer.Signal(pending); err != nil {
		err = domain.NewOpError("apply offer", fmt.Errorf("%w: %v", domain.ErrNegotiationFailure, err))
		s.endCall(domain.ReasonFailed, err, true)
		return err
	}
	s.stopRing()
	s.enter(domain.CallSession{
		Role:   domain.RoleCallee,
		Phase:  domain.PhaseConnected,
		Remote: s.session.Remote,
	})
	s.log.Info().Str("caller_id", s.session.RemoteID().String()).Msg("Call accepted")
	return nil
}

func (s *CallService) handleReject() error {
	if s.session.Phase != domain.PhaseRingingIncoming {
		return &domain.TransitionError{Phase: s.session.Phase, Event: "reject"}
	}
	s.endCall(domain.ReasonRejected, nil, true)
	return nil
}

func (s *CallService) handleHangUp() error {
	switch s.session.Phase {
	case domain.PhaseIdle:
		return nil
	case domain.PhaseRingingIncoming:
		s.endCall(domain.ReasonRejected, nil, true)
	case domain.PhaseRingingOutgoing:
		// The callee only knows about the call once the offer went out.
		s.endCall(domain.ReasonHangUp, nil, s.signalSent)
	case domain.PhaseConnected:
		s.endCall(domain.ReasonHangUp, nil, true)
	}
	return nil
}

func (s *CallService) handleRelay(ev domain.RelayEvent) {
	switch ev.Kind {
	case domain.EventAssignedID:
		if s.session.Active() {
			s.endCall(domain.ReasonDisconnected, domain.ErrRelayDisconnected, false)
		}
		s.presence.SetLocalID(s.ctx, ev.ID)
		s.log = log.With().Str("component", "call").Str("participant_id", ev.ID.String()).Logger()
		s.log.Info().Msg("Relay assigned id")
		s.dirty = true

	case domain.EventPresenceUpdated:
		remote := s.session.RemoteID()
		_, wasOnline := s.presence.Lookup(remote)
		s.presence.OnSnapshot(ev.Snapshot)
		s.dirty = true
		// A snapshot queued before the remote joined must not end the call,
		// only one that shows it leaving.
		if _, online := ev.Snapshot[remote]; s.session.Active() && wasOnline && !online {
			s.log.Info().Str("remote_id", remote.String()).Msg("Remote left the relay")
			s.endCall(domain.ReasonDisconnected, nil, false)
		}

	case domain.EventIncomingOffer:
		s.onIncomingOffer(ev)

	case domain.EventCallAccepted:
		if s.session.Phase != domain.PhaseRingingOutgoing || !s.fromRemote(ev.From) || ev.Payload.IsEmpty() {
			s.ignore(ev)
			return
		}
		if err := s.peer.Signal(ev.Payload); err != nil {
			err = domain.NewOpError("apply answer", fmt.Errorf("%w: %v", domain.ErrNegotiationFailure, err))
			s.endCall(domain.ReasonFailed, err, true)
			return
		}
		s.stopRing()
		s.enter(domain.CallSession{
			Role:   domain.RoleCaller,
			Phase:  domain.PhaseConnected,
			Remote: s.session.Remote,
		})
		s.log.Info().Str("callee_id", s.session.RemoteID().String()).Msg("Call connected")

	case domain.EventCallHungUp:
		if !s.session.Active() || !s.fromRemote(ev.From) {
			s.ignore(ev)
			return
		}
		s.endCall(domain.ReasonHangUp, nil, false)

	case domain.EventCallBusy:
		if s.session.Phase != domain.PhaseRingingOutgoing || !s.fromRemote(ev.From) {
			s.ignore(ev)
			return
		}
		s.endCall(domain.ReasonBusy, nil, false)

	case domain.EventDisconnected:
		if s.session.Active() {
			s.endCall(domain.ReasonDisconnected, domain.ErrRelayDisconnected, false)
		}
		s.presence.Clear()
		s.log.Warn().AnErr("cause", ev.Err).Msg("Relay disconnected")
		s.dirty = true

	default:
		s.ignore(ev)
	}
}

func (s *CallService) onIncomingOffer(ev domain.RelayEvent) {
	offer := ev.Offer
	if offer == nil || offer.CallerID.IsZero() || offer.Payload.IsEmpty() {
		s.log.Warn().Msg("Dropping malformed offer")
		return
	}
	self := s.presence.LocalID()
	if offer.CallerID == self || (!offer.CalleeID.IsZero() && offer.CalleeID != self) {
		s.log.Warn().Str("caller_id", offer.CallerID.String()).Str("callee_id", offer.CalleeID.String()).Msg("Dropping misrouted offer")
		return
	}

	if s.session.Phase != domain.PhaseIdle {
		s.log.Info().Str("caller_id", offer.CallerID.String()).Stringer("phase", s.session.Phase).Msg("Busy, declining offer")
		if err := s.relay.Busy(s.ctx, offer.CallerID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send busy")
		}
		return
	}

	remote := domain.Participant{ID: offer.CallerID, Name: offer.CallerName}
	s.enter(domain.CallSession{
		Role:           domain.RoleCallee,
		Phase:          domain.PhaseRingingIncoming,
		Remote:         &remote,
		PendingPayload: offer.Payload.Clone(),
	})
	s.startRing()
	s.log.Info().Str("caller_id", remote.ID.String()).Str("caller_name", remote.Name).Msg("Incoming call")
}

func (s *CallService) handlePeerSignal(gen uint64, payload domain.NegotiationPayload) {
	if gen != s.peerGen || s.peer == nil {
		return
	}
	if s.signalSent {
		s.log.Debug().Msg("Ignoring extra local signal")
		return
	}

	remote := s.session.RemoteID()
	switch {
	case s.session.Phase == domain.PhaseRingingOutgoing && s.session.Role == domain.RoleCaller:
		offer, err := domain.NewCallOffer(remote, s.presence.LocalID(), s.presence.LocalName(), payload)
		if err != nil {
			s.endCall(domain.ReasonFailed, domain.NewOpError("build offer", err), false)
			return
		}
		if err := s.relay.PlaceCall(s.ctx, *offer); err != nil {
			s.endCall(domain.ReasonDisconnected, domain.NewOpError("place call", err), false)
			return
		}
		s.signalSent = true

	case s.session.Phase == domain.PhaseConnected && s.session.Role == domain.RoleCallee:
		answer := domain.CallAnswer{Payload: payload, ToID: remote}
		if err := s.relay.AcceptCall(s.ctx, answer); err != nil {
			s.endCall(domain.ReasonDisconnected, domain.NewOpError("accept call", err), false)
			return
		}
		s.signalSent = true
	}
}

func (s *CallService) handlePeerStream(gen uint64, stream port.RemoteStream) {
	if gen != s.peerGen || !s.session.Active() || s.presenter == nil {
		return
	}
	s.presenter.OnRemoteStream(stream)
}

func (s *CallService) handlePeerFailure(gen uint64, err error) {
	if gen != s.peerGen || !s.session.Active() {
		return
	}
	s.log.Error().Err(err).Msg("Peer connection failed")
	s.endCall(domain.ReasonFailed, domain.NewOpError("peer connection", fmt.Errorf("%w: %v", domain.ErrNegotiationFailure, err)), true)
}

func (s *CallService) handleRingTimeout(gen uint64) {
	if gen != s.ringGen || !s.session.Phase.Ringing() {
		return
	}
	notify := s.session.Phase == domain.PhaseRingingIncoming || s.signalSent
	s.log.Info().Str("remote_id", s.session.RemoteID().String()).Dur("after", s.ringTimeout).Msg("Ring timeout")
	s.endCall(domain.ReasonTimeout, nil, notify)
}

// fromRemote reports whether a call-control event belongs to the current
// call. Relays that do not stamp senders are trusted.
func (s *CallService) fromRemote(from domain.ParticipantID) bool {
	return from.IsZero() || from == s.session.RemoteID()
}

func (s *CallService) ignore(ev domain.RelayEvent) {
	err := &domain.TransitionError{Phase: s.session.Phase, Event: ev.Kind.String()}
	s.log.Warn().Err(err).Str("from", ev.From.String()).Msg("Ignoring relay event")
}

func (s *CallService) startPeer(initiator bool) error {
	s.releasePeer()
	gen := s.peerGen
	peer, err := s.peers.NewPeer(port.PeerOptions{
		Initiator: initiator,
		Stream:    s.stream,
		OnSignal: func(payload domain.NegotiationPayload) {
			s.post(callEvent{kind: evPeerSignal, gen: gen, payload: payload})
		},
		OnStream: func(stream port.RemoteStream) {
			s.post(callEvent{kind: evPeerStream, gen: gen, stream: stream})
		},
		OnFailure: func(err error) {
			s.post(callEvent{kind: evPeerFailure, gen: gen, err: err})
		},
	})
	if err != nil {
		return domain.NewOpError("create peer", fmt.Errorf("%w: %v", domain.ErrNegotiationFailure, err))
	}
	s.peer = peer
	s.signalSent = false
	return nil
}

// releasePeer destroys the current peer and invalidates its pending callbacks.
func (s *CallService) releasePeer() {
	if s.peer != nil {
		if err := s.peer.Destroy(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to destroy peer")
		}
		s.peer = nil
	}
	s.peerGen++
	s.signalSent = false
}

func (s *CallService) startRing() {
	s.stopRing()
	if s.ringTimeout <= 0 {
		return
	}
	gen := s.ringGen
	s.ringTimer = time.AfterFunc(s.ringTimeout, func() {
		s.post(callEvent{kind: evRingTimeout, gen: gen})
	})
}

func (s *CallService) stopRing() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.ringGen++
}

func (s *CallService) enter(session domain.CallSession) {
	s.session = session
	if session.Active() {
		s.reason = domain.ReasonNone
		s.lastErr = nil
	}
	s.dirty = true
}

// endCall is the only way back to idle. It passes through Closed, releases
// the peer and optionally tells the remote side.
func (s *CallService) endCall(reason domain.EndReason, err error, notify bool) {
	remote := s.session.RemoteID()
	if notify && !remote.IsZero() {
		if herr := s.relay.HangUp(s.ctx, remote); herr != nil {
			s.log.Warn().Err(herr).Msg("Failed to send hang up")
		}
	}
	s.releasePeer()
	s.stopRing()

	s.session.Phase = domain.PhaseClosed
	s.enter(domain.CallSession{Phase: domain.PhaseIdle})
	s.reason = reason
	s.lastErr = err

	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Warn().Err(err)
	} else {
		ev = s.log.Info()
	}
	ev.Str("remote_id", remote.String()).Str("reason", string(reason)).Msg("Call ended")
}

func (s *CallService) shutdown() {
	if s.session.Active() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.ctx = ctx
		s.endCall(domain.ReasonHangUp, nil, true)
		cancel()
	}
	s.releasePeer()
	s.stopRing()
}

func (s *CallService) publish() {
	if !s.dirty {
		return
	}
	s.dirty = false

	self := s.presence.LocalID()
	view := domain.View{
		SelfID:   self,
		SelfName: s.presence.LocalName(),
		Online:   !self.IsZero(),
		Phase:    s.session.Phase,
		Role:     s.session.Role,
		Others:   s.presence.ListOthers(self),
		Reason:   s.reason,
		Err:      s.lastErr,
	}
	if s.session.Remote != nil {
		r := *s.session.Remote
		view.Remote = &r
	}
	if view.Err == nil {
		view.Err = s.mediaErr
	}

	s.viewMu.Lock()
	s.view = view
	s.snap = s.session.Clone()
	s.viewMu.Unlock()

	if s.presenter != nil {
		s.presenter.Render(view)
	}
}
