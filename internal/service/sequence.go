package service

import (
	"context"
	"fmt"

	"github.com/CQNKZX/otree-core/internal/errs"
	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/rs/zerolog"
)

// SequenceService owns the experimenter-facing lifecycle of a
// sequence: creating it with its cohort, appending experiments in
// order, linking participants across experiments and preassigning
// matches.
type SequenceService struct {
	sequences    SequenceStore
	experiments  ExperimentStore
	participants ParticipantStore
	treatments   TreatmentStore
	matches      MatchStore
	registry     *game.Registry
	logger       *zerolog.Logger
}

func NewSequenceService(
	sequences SequenceStore,
	experiments ExperimentStore,
	participants ParticipantStore,
	treatments TreatmentStore,
	matches MatchStore,
	registry *game.Registry,
	logger *zerolog.Logger,
) *SequenceService {
	return &SequenceService{
		sequences:    sequences,
		experiments:  experiments,
		participants: participants,
		treatments:   treatments,
		matches:      matches,
		registry:     registry,
		logger:       logger,
	}
}

// CreateSequenceParams are the inputs for creating a sequence with its
// cohort of participants.
type CreateSequenceParams struct {
	Label            *string
	IsForMTurk       bool
	PreassignMatches bool
	StartViewName    string
	EndViewName      string
	NumParticipants  int
	Labels           []string
}

// SequenceDetail is the admin view of a sequence.
type SequenceDetail struct {
	models.Sequence
	DisplayName     string              `json:"display_name"`
	StartURL        string              `json:"start_url"`
	ExperimenterURL string              `json:"experimenter_url"`
	Experiments     []models.Experiment `json:"experiments"`
}

// ParticipantView is a participant row with their start URL.
type ParticipantView struct {
	models.Participant
	DisplayName string `json:"display_name"`
	StartURL    string `json:"start_url"`
}

// Create creates a sequence together with its participants.
func (s *SequenceService) Create(ctx context.Context, params CreateSequenceParams) (*SequenceDetail, error) {
	seq := &models.Sequence{
		Label:            params.Label,
		IsForMTurk:       params.IsForMTurk,
		PreassignMatches: params.PreassignMatches,
		StartViewName:    params.StartViewName,
		EndViewName:      params.EndViewName,
	}
	if err := s.sequences.Create(ctx, seq); err != nil {
		return nil, err
	}

	if params.NumParticipants > 0 {
		if _, err := s.participants.CreateBatch(ctx, seq.ID, params.NumParticipants, params.Labels); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Int64("sequence_id", seq.ID).
		Str("sequence_code", seq.Code).
		Int("participants", params.NumParticipants).
		Msg("sequence created")

	return s.detail(ctx, seq)
}

// Get returns the admin view of a sequence by its code.
func (s *SequenceService) Get(ctx context.Context, seqCode string) (*SequenceDetail, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, seq)
}

func (s *SequenceService) detail(ctx context.Context, seq *models.Sequence) (*SequenceDetail, error) {
	experiments, err := s.experiments.ListBySequence(ctx, seq.ID)
	if err != nil {
		return nil, err
	}
	return &SequenceDetail{
		Sequence:        *seq,
		DisplayName:     seq.DisplayName(experiments),
		StartURL:        seq.StartURL(),
		ExperimenterURL: seq.ExperimenterURL(),
		Experiments:     experiments,
	}, nil
}

// AddExperiments appends experiments to the sequence's chain in the
// order given. Every kind must be registered; unknown kinds fail here,
// before anything is persisted. Slots for the sequence's current
// cohort size are created alongside each experiment.
func (s *SequenceService) AddExperiments(ctx context.Context, seqCode string, specs []repository.ExperimentSpec) ([]models.Experiment, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}

	for _, spec := range specs {
		if _, err := s.registry.Get(spec.Kind); err != nil {
			code := "UNKNOWN_GAME_KIND"
			return nil, errs.NewBadRequestError(
				fmt.Sprintf("Unknown game kind %q", spec.Kind), true, &code, nil, nil)
		}
	}

	participants, err := s.participants.ListBySequence(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	experiments, err := s.experiments.AddExperiments(ctx, seq.ID, specs, len(participants))
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_id", seq.ID).
		Int("experiments", len(experiments)).
		Msg("experiments added to sequence")

	return experiments, nil
}

// Experiments returns the sequence's experiments in chain order.
func (s *SequenceService) Experiments(ctx context.Context, seqCode string) ([]models.Experiment, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}
	return s.experiments.ListBySequence(ctx, seq.ID)
}

// Participants returns the sequence's participants in primary-key
// order, each with their start URL.
func (s *SequenceService) Participants(ctx context.Context, seqCode string) ([]ParticipantView, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}

	participants, err := s.participants.ListBySequence(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	views := make([]ParticipantView, len(participants))
	for i, p := range participants {
		views[i] = ParticipantView{
			Participant: p,
			DisplayName: p.DisplayName(),
			StartURL:    p.StartURL(seq),
		}
	}
	return views, nil
}

// ConnectParticipants links every experiment's slots to the sequence's
// participants positionally: slot i of every experiment belongs to
// participant i. Every experiment must have exactly one slot per
// participant; a mismatch aborts before any link is written.
func (s *SequenceService) ConnectParticipants(ctx context.Context, seqCode string) error {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return err
	}

	participants, err := s.participants.ListBySequence(ctx, seq.ID)
	if err != nil {
		return err
	}

	experiments, err := s.experiments.ListBySequence(ctx, seq.ID)
	if err != nil {
		return err
	}

	var assignments []repository.SlotAssignment
	var mismatches []errs.FieldError
	for _, exp := range experiments {
		slots, err := s.participants.ListExperimentParticipants(ctx, exp.ID)
		if err != nil {
			return err
		}
		if len(slots) != len(participants) {
			mismatches = append(mismatches, errs.FieldError{
				Field: exp.Name,
				Error: fmt.Sprintf("has %d slots, expected %d", len(slots), len(participants)),
			})
			continue
		}
		for i := range participants {
			assignments = append(assignments, repository.SlotAssignment{
				ExperimentParticipantID: slots[i].ID,
				ParticipantID:           participants[i].ID,
			})
		}
	}

	if len(mismatches) > 0 {
		code := "PARTICIPANT_COUNT_MISMATCH"
		return errs.NewBadRequestError(
			"Participant counts differ between experiments", true, &code, mismatches, nil)
	}

	if err := s.participants.LinkAcrossExperiments(ctx, assignments); err != nil {
		return err
	}

	s.logger.Info().
		Int64("sequence_id", seq.ID).
		Int("links", len(assignments)).
		Msg("participants connected between experiments")

	return nil
}

// PreassignReport summarizes what PreassignMatches did.
type PreassignReport struct {
	MatchesCreated   int `json:"matches_created"`
	ParticipantsUsed int `json:"participants_used"`
	LeftOver         int `json:"left_over"`
}

// PreassignMatches chunks each experiment's linked participants in
// slot order into capacity-sized matches under balanced treatments.
// Only available on sequences created with preassign_matches.
func (s *SequenceService) PreassignMatches(ctx context.Context, seqCode string) (*PreassignReport, error) {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return nil, err
	}

	if !seq.PreassignMatches {
		code := "PREASSIGN_DISABLED"
		return nil, errs.NewBadRequestError(
			"Sequence was not created with match preassignment", true, &code, nil, nil)
	}

	experiments, err := s.experiments.ListBySequence(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	report := &PreassignReport{}
	for _, exp := range experiments {
		def, err := s.registry.Get(exp.Kind)
		if err != nil {
			return nil, err
		}

		slots, err := s.participants.ListExperimentParticipants(ctx, exp.ID)
		if err != nil {
			return nil, err
		}

		var unassigned []models.ExperimentParticipant
		for _, ep := range slots {
			if ep.ParticipantID != nil && ep.MatchID == nil {
				unassigned = append(unassigned, ep)
			}
		}

		for len(unassigned) > 0 {
			treatment, err := s.treatments.PickBalanced(ctx, exp.ID)
			if err != nil {
				return nil, err
			}
			if len(unassigned) < treatment.ParticipantsPerMatch {
				report.LeftOver += len(unassigned)
				break
			}

			members := unassigned[:treatment.ParticipantsPerMatch]
			unassigned = unassigned[treatment.ParticipantsPerMatch:]

			state := game.State{Capacity: treatment.ParticipantsPerMatch}
			slot, ok := def.NextSlot(state)
			if !ok {
				break
			}

			match := &models.Match{
				ExperimentID: exp.ID,
				TreatmentID:  treatment.ID,
				Kind:         exp.Kind,
			}
			if err := s.matches.Create(ctx, match, members[0].ID, slot); err != nil {
				return nil, err
			}
			if err := s.participants.AssignTreatment(ctx, members[0].ID, treatment.ID); err != nil {
				return nil, err
			}
			s.applySlot(&state, slot)

			for _, member := range members[1:] {
				slot, ok := def.NextSlot(state)
				if !ok {
					break
				}
				if err := s.matches.AddMember(ctx, match, member.ID, slot); err != nil {
					return nil, err
				}
				if err := s.participants.AssignTreatment(ctx, member.ID, treatment.ID); err != nil {
					return nil, err
				}
				s.applySlot(&state, slot)
			}

			report.MatchesCreated++
			report.ParticipantsUsed += len(members)
		}
	}

	s.logger.Info().
		Int64("sequence_id", seq.ID).
		Int("matches_created", report.MatchesCreated).
		Int("left_over", report.LeftOver).
		Msg("matches preassigned")

	return report, nil
}

func (s *SequenceService) applySlot(state *game.State, slot game.Slot) {
	state.Occupied++
	switch slot {
	case game.SlotParticipant1:
		state.Participant1Set = true
	case game.SlotParticipant2:
		state.Participant2Set = true
	}
}

// TerminateParticipant drops a participant from the sequence.
func (s *SequenceService) TerminateParticipant(ctx context.Context, seqCode, participantCode string) error {
	seq, err := s.sequences.GetByCode(ctx, seqCode)
	if err != nil {
		return err
	}

	participant, err := s.participants.GetByCode(ctx, participantCode)
	if err != nil {
		return err
	}
	if participant.SequenceID != seq.ID {
		return errs.NewNotFoundError("Participant not found in this sequence", true, nil)
	}

	return s.participants.Terminate(ctx, participant.ID)
}

// MonitorView is the experimenter's read-only view of a running
// sequence.
type MonitorView struct {
	Sequence     SequenceDetail    `json:"sequence"`
	Participants []ParticipantView `json:"participants"`
	Matches      []models.Match    `json:"matches"`
}

// Monitor returns the monitor view guarded by the experimenter access
// code.
func (s *SequenceService) Monitor(ctx context.Context, accessCode string) (*MonitorView, error) {
	seq, err := s.sequences.GetByAccessCode(ctx, accessCode)
	if err != nil {
		return nil, err
	}

	detail, err := s.detail(ctx, seq)
	if err != nil {
		return nil, err
	}

	participants, err := s.Participants(ctx, seq.Code)
	if err != nil {
		return nil, err
	}

	var matches []models.Match
	for _, exp := range detail.Experiments {
		expMatches, err := s.matches.ListByExperiment(ctx, exp.ID)
		if err != nil {
			return nil, err
		}
		matches = append(matches, expMatches...)
	}

	return &MonitorView{
		Sequence:     *detail,
		Participants: participants,
		Matches:      matches,
	}, nil
}

// MatchesByExperiment lists an experiment's matches for the admin API.
func (s *SequenceService) MatchesByExperiment(ctx context.Context, experimentID int64) ([]models.Match, error) {
	if _, err := s.experiments.Get(ctx, experimentID); err != nil {
		return nil, err
	}
	return s.matches.ListByExperiment(ctx, experimentID)
}
