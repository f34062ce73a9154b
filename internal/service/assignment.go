package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/CQNKZX/otree-core/internal/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AssignmentService drives a participant through their sequence: entry
// via the start URL, treatment assignment, match claiming and the
// advance to the next experiment in the chain.
type AssignmentService struct {
	sequences    SequenceStore
	experiments  ExperimentStore
	participants ParticipantStore
	treatments   TreatmentStore
	matches      MatchStore
	sessions     SessionStore
	registry     *game.Registry
	logger       *zerolog.Logger
}

func NewAssignmentService(
	sequences SequenceStore,
	experiments ExperimentStore,
	participants ParticipantStore,
	treatments TreatmentStore,
	matches MatchStore,
	sessions SessionStore,
	registry *game.Registry,
	logger *zerolog.Logger,
) *AssignmentService {
	return &AssignmentService{
		sequences:    sequences,
		experiments:  experiments,
		participants: participants,
		treatments:   treatments,
		matches:      matches,
		sessions:     sessions,
		registry:     registry,
		logger:       logger,
	}
}

// InitializeParams identify the participant entering through their
// start URL, plus the request metadata recorded on first visit.
type InitializeParams struct {
	SequenceCode      string
	ParticipantCode   string
	IPAddress         *netip.Addr
	MTurkAssignmentID *string
	MTurkWorkerID     *string
}

// InitializeResult carries the fresh session token and where the
// participant's browser should go next.
type InitializeResult struct {
	Token       string           `json:"token"`
	RedirectURL string           `json:"redirect_url"`
	Session     *session.Session `json:"session"`
}

// InitializeParticipant validates the start URL codes, records the
// visit and opens a session at the first experiment of the chain.
func (s *AssignmentService) InitializeParticipant(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	seq, err := s.sequences.GetByCode(ctx, params.SequenceCode)
	if err != nil {
		return nil, err
	}

	participant, err := s.participants.GetByCode(ctx, params.ParticipantCode)
	if err != nil {
		return nil, err
	}
	if participant.SequenceID != seq.ID {
		return nil, errs.NewNotFoundError("Participant not found in this sequence", true, nil)
	}
	if participant.WasTerminated {
		return nil, errs.NewForbiddenError("Participant was terminated", true)
	}

	if err := s.participants.MarkVisited(ctx, participant.ID, params.IPAddress, params.MTurkAssignmentID, params.MTurkWorkerID); err != nil {
		return nil, err
	}

	chain, err := s.participants.ChainFor(ctx, participant.ID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		code := "SEQUENCE_NOT_READY"
		return nil, errs.NewBadRequestError(
			"Sequence has no experiments linked to this participant", true, &code, nil, nil)
	}

	sess := &session.Session{
		ParticipantID:   participant.ID,
		ParticipantCode: participant.Code,
		SequenceID:      seq.ID,
		SequenceCode:    seq.Code,
	}
	if err := s.pointAt(ctx, sess, chain[0]); err != nil {
		return nil, err
	}

	token, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("participant_code", participant.Code).
		Str("sequence_code", seq.Code).
		Msg("participant initialized")

	return &InitializeResult{
		Token:       token,
		RedirectURL: viewURL(seq.StartViewName),
		Session:     sess,
	}, nil
}

// pointAt retargets the session at one chain entry, resolving the
// treatment code when the entry already has a treatment.
func (s *AssignmentService) pointAt(ctx context.Context, sess *session.Session, entry repository.ChainEntry) error {
	sess.ExperimentID = entry.ExperimentID
	sess.ExperimentPosition = entry.Position
	sess.ExperimentParticipantID = entry.ID
	sess.TreatmentID = 0
	sess.TreatmentCode = ""

	if entry.TreatmentID != nil {
		treatment, err := s.treatments.Get(ctx, *entry.TreatmentID)
		if err != nil {
			return err
		}
		sess.TreatmentID = treatment.ID
		sess.TreatmentCode = treatment.Code
	}
	return nil
}

// ensureTreatment assigns a balanced treatment to the session's
// progress record when none is set yet.
func (s *AssignmentService) ensureTreatment(ctx context.Context, sess *session.Session) (*models.Treatment, error) {
	if sess.TreatmentID != 0 {
		return s.treatments.Get(ctx, sess.TreatmentID)
	}

	treatment, err := s.treatments.PickBalanced(ctx, sess.ExperimentID)
	if err != nil {
		return nil, err
	}
	if err := s.participants.AssignTreatment(ctx, sess.ExperimentParticipantID, treatment.ID); err != nil {
		return nil, err
	}
	sess.TreatmentID = treatment.ID
	sess.TreatmentCode = treatment.Code
	return treatment, nil
}

func (s *AssignmentService) decideFor(def game.Definition) func(game.State) (game.Slot, bool) {
	return func(state game.State) (game.Slot, bool) {
		if !def.ReadyForNextParticipant(state) {
			return 0, false
		}
		return def.NextSlot(state)
	}
}

// MatchView is a participant's read of their current match.
type MatchView struct {
	Match      models.Match                   `json:"match"`
	Members    []models.ExperimentParticipant `json:"members"`
	Slot       game.Slot                      `json:"slot"`
	IsFull     bool                           `json:"is_full"`
	IsFinished bool                           `json:"is_finished"`
}

// NextOpenMatch claims the lowest-id open match under the session's
// treatment without ever creating one. No claimable match is a 404
// with code NO_OPEN_MATCH.
func (s *AssignmentService) NextOpenMatch(ctx context.Context, token string, sess *session.Session) (*MatchView, error) {
	return s.claim(ctx, token, sess, false)
}

// JoinMatch claims an open match, or opens a fresh one with this
// participant seated first when nothing is claimable.
func (s *AssignmentService) JoinMatch(ctx context.Context, token string, sess *session.Session) (*MatchView, error) {
	return s.claim(ctx, token, sess, true)
}

func (s *AssignmentService) claim(ctx context.Context, token string, sess *session.Session, createIfNone bool) (*MatchView, error) {
	ep, err := s.participants.GetExperimentParticipant(ctx, sess.ExperimentParticipantID)
	if err != nil {
		return nil, err
	}
	if ep.MatchID != nil {
		return s.matchView(ctx, sess, *ep.MatchID)
	}

	experiment, err := s.experiments.Get(ctx, sess.ExperimentID)
	if err != nil {
		return nil, err
	}
	def, err := s.registry.Get(experiment.Kind)
	if err != nil {
		return nil, err
	}

	treatment, err := s.ensureTreatment(ctx, sess)
	if err != nil {
		return nil, err
	}

	match, err := s.matches.ClaimNextOpenMatch(ctx, repository.ClaimParams{
		ExperimentID:            sess.ExperimentID,
		TreatmentCode:           treatment.Code,
		ExperimentParticipantID: sess.ExperimentParticipantID,
		Decide:                  s.decideFor(def),
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNoOpenMatch) {
			return nil, err
		}
		if !createIfNone {
			code := "NO_OPEN_MATCH"
			return nil, errs.NewNotFoundError("No open match is available", true, &code)
		}

		slot, ok := def.NextSlot(game.State{Capacity: treatment.ParticipantsPerMatch})
		if !ok {
			return nil, fmt.Errorf("game %s refused the first seat of an empty match", experiment.Kind)
		}
		match = &models.Match{
			ExperimentID: sess.ExperimentID,
			TreatmentID:  treatment.ID,
			Kind:         experiment.Kind,
		}
		if err := s.matches.Create(ctx, match, sess.ExperimentParticipantID, slot); err != nil {
			return nil, err
		}
	}

	if err := s.sessions.Update(ctx, token, sess); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("match_id", match.ID).
		Int64("experiment_participant_id", sess.ExperimentParticipantID).
		Str("treatment_code", treatment.Code).
		Msg("participant seated in match")

	return s.matchView(ctx, sess, match.ID)
}

// CurrentMatch returns the session's match, or a 404 when the
// participant has not been seated in one yet.
func (s *AssignmentService) CurrentMatch(ctx context.Context, sess *session.Session) (*MatchView, error) {
	ep, err := s.participants.GetExperimentParticipant(ctx, sess.ExperimentParticipantID)
	if err != nil {
		return nil, err
	}
	if ep.MatchID == nil {
		return nil, errs.NewNotFoundError("Participant is not in a match", true, nil)
	}
	return s.matchView(ctx, sess, *ep.MatchID)
}

func (s *AssignmentService) matchView(ctx context.Context, sess *session.Session, matchID int64) (*MatchView, error) {
	match, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}

	members, err := s.matches.Members(ctx, matchID)
	if err != nil {
		return nil, err
	}

	capacity := 0
	if treatment, err := s.treatments.Get(ctx, match.TreatmentID); err == nil {
		capacity = treatment.ParticipantsPerMatch
	}

	view := &MatchView{
		Match:   *match,
		Members: members,
		IsFull:  capacity > 0 && len(members) >= capacity,
	}

	finished := len(members) > 0
	for _, m := range members {
		if m.ID == sess.ExperimentParticipantID {
			switch {
			case match.Participant1ID != nil && *match.Participant1ID == m.ID:
				view.Slot = game.SlotParticipant1
			case match.Participant2ID != nil && *match.Participant2ID == m.ID:
				view.Slot = game.SlotParticipant2
			default:
				view.Slot = game.SlotMember
			}
		}
		if !m.IsFinished {
			finished = false
		}
	}
	view.IsFinished = view.IsFull && finished

	return view, nil
}

// SetOffer records participant 1's offer in an offer-kind match. Only
// the participant seated as participant 1 may set it, once.
func (s *AssignmentService) SetOffer(ctx context.Context, sess *session.Session, amount int64) (*MatchView, error) {
	ep, err := s.participants.GetExperimentParticipant(ctx, sess.ExperimentParticipantID)
	if err != nil {
		return nil, err
	}
	if ep.MatchID == nil {
		return nil, errs.NewNotFoundError("Participant is not in a match", true, nil)
	}

	match, err := s.matches.Get(ctx, *ep.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Kind != game.KindOffer {
		code := "OFFER_NOT_SUPPORTED"
		return nil, errs.NewBadRequestError(
			fmt.Sprintf("Game kind %q does not take offers", match.Kind), true, &code, nil, nil)
	}

	ok, err := s.matches.SetOffer(ctx, match.ID, sess.ExperimentParticipantID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NewForbiddenError("Only participant 1 may set the offer, and only once", true)
	}

	return s.matchView(ctx, sess, match.ID)
}

// FinishPlaying marks the participant done with the current experiment
// and records their payoff. A nil payoff falls back to the treatment's
// base pay (zero when no treatment was assigned).
func (s *AssignmentService) FinishPlaying(ctx context.Context, sess *session.Session, payoff *decimal.Decimal) error {
	amount := decimal.Zero
	if payoff != nil {
		amount = *payoff
	} else if sess.TreatmentID != 0 {
		treatment, err := s.treatments.Get(ctx, sess.TreatmentID)
		if err != nil {
			return err
		}
		amount = treatment.BasePay
	}

	if err := s.participants.FinishPlaying(ctx, sess.ExperimentParticipantID, amount); err != nil {
		return err
	}

	s.logger.Info().
		Int64("experiment_participant_id", sess.ExperimentParticipantID).
		Str("payoff", amount.String()).
		Msg("participant finished playing")

	return nil
}

// AdvanceResult says where the participant goes after finishing an
// experiment: the next one in the chain, or the sequence end view.
type AdvanceResult struct {
	Done        bool             `json:"done"`
	RedirectURL string           `json:"redirect_url"`
	Session     *session.Session `json:"session,omitempty"`
}

// Advance moves the session to the experiment at the next position.
// Past the last experiment the session is torn down and the
// participant is sent to the sequence's end view.
func (s *AssignmentService) Advance(ctx context.Context, token string, sess *session.Session) (*AdvanceResult, error) {
	seq, err := s.sequences.GetByCode(ctx, sess.SequenceCode)
	if err != nil {
		return nil, err
	}

	chain, err := s.participants.ChainFor(ctx, sess.ParticipantID)
	if err != nil {
		return nil, err
	}

	next := sess.ExperimentPosition + 1
	for _, entry := range chain {
		if entry.Position != next {
			continue
		}
		if err := s.pointAt(ctx, sess, entry); err != nil {
			return nil, err
		}
		if err := s.sessions.Update(ctx, token, sess); err != nil {
			return nil, err
		}
		return &AdvanceResult{
			RedirectURL: viewURL(seq.StartViewName),
			Session:     sess,
		}, nil
	}

	if err := s.sessions.Delete(ctx, token); err != nil {
		return nil, err
	}
	return &AdvanceResult{
		Done:        true,
		RedirectURL: viewURL(seq.EndViewName),
	}, nil
}

// ProgressView is a participant's own view of their place in the
// sequence.
type ProgressView struct {
	SequenceCode string                  `json:"sequence_code"`
	Position     int                     `json:"position"`
	Chain        []repository.ChainEntry `json:"chain"`
	TotalPay     decimal.Decimal         `json:"total_pay"`
}

// Progress returns the full chain with per-experiment payoffs and the
// running total.
func (s *AssignmentService) Progress(ctx context.Context, sess *session.Session) (*ProgressView, error) {
	chain, err := s.participants.ChainFor(ctx, sess.ParticipantID)
	if err != nil {
		return nil, err
	}

	total, err := s.participants.TotalPay(ctx, sess.ParticipantID)
	if err != nil {
		return nil, err
	}

	return &ProgressView{
		SequenceCode: sess.SequenceCode,
		Position:     sess.ExperimentPosition,
		Chain:        chain,
		TotalPay:     total,
	}, nil
}

func viewURL(view string) string {
	return "/" + view + "/"
}
