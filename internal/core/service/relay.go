package service

import (
	"context"
	"errors"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// RelayService is the server side of the signal relay. It keeps the presence
// list and forwards call-control messages between the two named endpoints.
// It never judges whether a call transition is legal; each participant's
// CallService does that locally.
type RelayService struct {
	repo    port.ParticipantRepository
	gateway port.ClientGateway
}

func NewRelayService(repo port.ParticipantRepository, gateway port.ClientGateway) *RelayService {
	return &RelayService{
		repo:    repo,
		gateway: gateway,
	}
}

func (s *RelayService) Join(ctx context.Context, id domain.ParticipantID) error {
	p, err := domain.NewParticipant(id, "")
	if err != nil {
		return err
	}
	if err := s.repo.Add(ctx, *p); err != nil {
		return err
	}
	log.Info().Str("participant_id", id.String()).Msg("Participant joined")
	return s.broadcastPresence(ctx)
}

func (s *RelayService) Leave(ctx context.Context, id domain.ParticipantID) error {
	if err := s.repo.Remove(ctx, id); err != nil {
		return err
	}
	log.Info().Str("participant_id", id.String()).Msg("Participant left")
	return s.broadcastPresence(ctx)
}

func (s *RelayService) Rename(ctx context.Context, id domain.ParticipantID, name string) error {
	if err := s.repo.Rename(ctx, id, name); err != nil {
		return err
	}
	log.Debug().Str("participant_id", id.String()).Str("name", name).Msg("Participant renamed")
	return s.broadcastPresence(ctx)
}

// PlaceCall forwards an offer to its callee. A callee that is not connected
// gets the caller a hang up back so it does not ring forever.
func (s *RelayService) PlaceCall(ctx context.Context, offer domain.CallOffer) error {
	if offer.CallerName == "" {
		if p, err := s.repo.Get(ctx, offer.CallerID); err == nil {
			offer.CallerName = p.Name
		}
	}
	err := s.gateway.DeliverOffer(ctx, offer)
	if errors.Is(err, domain.ErrUnknownParticipant) {
		log.Info().Str("caller_id", offer.CallerID.String()).Str("callee_id", offer.CalleeID.String()).Msg("Callee unreachable")
		if herr := s.gateway.DeliverHangUp(ctx, offer.CallerID, offer.CalleeID); herr != nil {
			return errors.Join(err, herr)
		}
	}
	return err
}

func (s *RelayService) AcceptCall(ctx context.Context, from domain.ParticipantID, answer domain.CallAnswer) error {
	return s.gateway.DeliverAnswer(ctx, answer.ToID, from, answer.Payload)
}

func (s *RelayService) HangUp(ctx context.Context, from, to domain.ParticipantID) error {
	return s.gateway.DeliverHangUp(ctx, to, from)
}

func (s *RelayService) Busy(ctx context.Context, from, to domain.ParticipantID) error {
	return s.gateway.DeliverBusy(ctx, to, from)
}

func (s *RelayService) Snapshot(ctx context.Context) (domain.PresenceSnapshot, error) {
	return s.repo.Snapshot(ctx)
}

func (s *RelayService) broadcastPresence(ctx context.Context) error {
	snapshot, err := s.repo.Snapshot(ctx)
	if err != nil {
		return err
	}
	return s.gateway.BroadcastPresence(ctx, snapshot)
}
