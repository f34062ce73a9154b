// Package repository handles all interactions with the database.
//
// It contains the raw SQL for every entity, keeps multi-row mutations
// (chain construction, participant linking, match claiming) inside
// transactions, and abstracts SQL away from the service layer. Lookup
// misses are annotated with a "table:<name>:" prefix so the sqlerr
// funnel can name the missing entity in 404 responses.
package repository

import (
	"errors"
	"fmt"

	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNoOpenMatch is returned by ClaimNextOpenMatch when no match under
// the requested treatment is ready for another participant. It surfaces
// to clients as the application-level "nothing available" condition.
var ErrNoOpenMatch = errors.New("repository: no open match")

// notFound annotates a row-lookup miss with the table name.
func notFound(table string, err error) error {
	return fmt.Errorf("table:%s: %w", table, err)
}

// TreatmentSpec describes one treatment to create under an experiment.
// An empty Code is filled with a generated one.
type TreatmentSpec struct {
	Code                 string
	ParticipantsPerMatch int
	BasePay              decimal.Decimal
}

// ExperimentSpec describes one experiment to append to a sequence,
// in order.
type ExperimentSpec struct {
	Kind       string
	Name       string
	Treatments []TreatmentSpec
}

// SlotAssignment stitches one unlinked experiment_participant row to a
// global participant.
type SlotAssignment struct {
	ExperimentParticipantID int64
	ParticipantID           int64
}

// ChainEntry is one step of a participant's per-experiment chain,
// ordered by experiment position.
type ChainEntry struct {
	models.ExperimentParticipant
	ExperimentName string `json:"experiment_name"`
	ExperimentKind string `json:"experiment_kind"`
	Position       int    `json:"position"`
}

// PaymentRow is one participant's payout line for a sequence.
type PaymentRow struct {
	ParticipantID int64           `json:"participant_id"`
	Code          string          `json:"code"`
	Label         *string         `json:"label"`
	MTurkWorkerID *string         `json:"mturk_worker_id"`
	Total         decimal.Decimal `json:"total"`
}

// ClaimParams drive ClaimNextOpenMatch. Decide receives the state of
// each candidate match in id order and returns the slot to take, or
// false to skip the match.
type ClaimParams struct {
	ExperimentID            int64
	TreatmentCode           string
	ExperimentParticipantID int64
	Decide                  func(game.State) (game.Slot, bool)
}
