package service

import (
	"context"
	"net/netip"

	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/CQNKZX/otree-core/internal/session"
	"github.com/shopspring/decimal"
)

// SequenceStore is the persistence surface SequenceService and
// PaymentService need for sequences.
type SequenceStore interface {
	Create(ctx context.Context, seq *models.Sequence) error
	GetByCode(ctx context.Context, code string) (*models.Sequence, error)
	GetByAccessCode(ctx context.Context, accessCode string) (*models.Sequence, error)
	MarkPaymentsSent(ctx context.Context, sequenceID int64) (bool, error)
}

// ExperimentStore is the persistence surface for experiments.
type ExperimentStore interface {
	Get(ctx context.Context, id int64) (*models.Experiment, error)
	ListBySequence(ctx context.Context, sequenceID int64) ([]models.Experiment, error)
	AddExperiments(ctx context.Context, sequenceID int64, specs []repository.ExperimentSpec, numSlots int) ([]models.Experiment, error)
}

// ParticipantStore is the persistence surface for participants and
// their per-experiment progress records.
type ParticipantStore interface {
	CreateBatch(ctx context.Context, sequenceID int64, count int, labels []string) ([]models.Participant, error)
	ListBySequence(ctx context.Context, sequenceID int64) ([]models.Participant, error)
	GetByCode(ctx context.Context, code string) (*models.Participant, error)
	MarkVisited(ctx context.Context, participantID int64, ip *netip.Addr, mturkAssignmentID, mturkWorkerID *string) error
	Terminate(ctx context.Context, participantID int64) error
	ListExperimentParticipants(ctx context.Context, experimentID int64) ([]models.ExperimentParticipant, error)
	LinkAcrossExperiments(ctx context.Context, assignments []repository.SlotAssignment) error
	ChainFor(ctx context.Context, participantID int64) ([]repository.ChainEntry, error)
	GetExperimentParticipant(ctx context.Context, id int64) (*models.ExperimentParticipant, error)
	AssignTreatment(ctx context.Context, experimentParticipantID, treatmentID int64) error
	FinishPlaying(ctx context.Context, experimentParticipantID int64, payoff decimal.Decimal) error
	TotalPay(ctx context.Context, participantID int64) (decimal.Decimal, error)
	PaymentRows(ctx context.Context, sequenceID int64) ([]repository.PaymentRow, error)
}

// TreatmentStore is the persistence surface for treatments.
type TreatmentStore interface {
	Get(ctx context.Context, id int64) (*models.Treatment, error)
	GetByCode(ctx context.Context, code string) (*models.Treatment, error)
	ListByExperiment(ctx context.Context, experimentID int64) ([]models.Treatment, error)
	PickBalanced(ctx context.Context, experimentID int64) (*models.Treatment, error)
}

// MatchStore is the persistence surface for matches.
type MatchStore interface {
	Get(ctx context.Context, id int64) (*models.Match, error)
	ListByExperiment(ctx context.Context, experimentID int64) ([]models.Match, error)
	Members(ctx context.Context, matchID int64) ([]models.ExperimentParticipant, error)
	Create(ctx context.Context, m *models.Match, experimentParticipantID int64, slot game.Slot) error
	AddMember(ctx context.Context, m *models.Match, experimentParticipantID int64, slot game.Slot) error
	SetOffer(ctx context.Context, matchID, experimentParticipantID, amount int64) (bool, error)
	ClaimNextOpenMatch(ctx context.Context, params repository.ClaimParams) (*models.Match, error)
}

// SessionStore is the participant session surface backed by Redis.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session) (string, error)
	Get(ctx context.Context, token string) (*session.Session, error)
	Update(ctx context.Context, token string, sess *session.Session) error
	Delete(ctx context.Context, token string) error
}
