package repository

import (
	"context"
	"net/netip"

	"github.com/CQNKZX/otree-core/internal/lib/utils"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ParticipantRepository persists participants and their per-experiment
// progress records.
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

const participantColumns = `id, sequence_id, code, label, visited, was_terminated,
	mturk_assignment_id, mturk_worker_id, ip_address, time_created`

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	p := &models.Participant{}
	err := row.Scan(
		&p.ID,
		&p.SequenceID,
		&p.Code,
		&p.Label,
		&p.Visited,
		&p.WasTerminated,
		&p.MTurkAssignmentID,
		&p.MTurkWorkerID,
		&p.IPAddress,
		&p.TimeCreated,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateBatch inserts count participants with generated codes. labels
// may be nil or shorter than count; missing entries stay unlabeled.
func (r *ParticipantRepository) CreateBatch(ctx context.Context, sequenceID int64, count int, labels []string) ([]models.Participant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	participants := make([]models.Participant, 0, count)
	for i := 0; i < count; i++ {
		var label *string
		if i < len(labels) && labels[i] != "" {
			label = &labels[i]
		}

		p, err := scanParticipant(tx.QueryRow(ctx, `
			INSERT INTO participants (sequence_id, code, label)
			VALUES ($1, $2, $3)
			RETURNING `+participantColumns,
			sequenceID, utils.RandomCode(), label,
		))
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return participants, nil
}

// ListBySequence returns a sequence's participants in primary-key
// order, the ordering contract admin listings rely on.
func (r *ParticipantRepository) ListBySequence(ctx context.Context, sequenceID int64) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE sequence_id = $1
		ORDER BY id`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

// GetByCode looks a participant up by their join code.
func (r *ParticipantRepository) GetByCode(ctx context.Context, code string) (*models.Participant, error) {
	p, err := scanParticipant(r.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE code = $1`, code))
	if err != nil {
		return nil, notFound("participants", err)
	}
	return p, nil
}

// MarkVisited records the participant's arrival: visited flag, client
// IP and MTurk assignment metadata when present.
func (r *ParticipantRepository) MarkVisited(ctx context.Context, participantID int64, ip *netip.Addr, mturkAssignmentID, mturkWorkerID *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants
		SET visited = TRUE,
			ip_address = COALESCE($2, ip_address),
			mturk_assignment_id = COALESCE($3, mturk_assignment_id),
			mturk_worker_id = COALESCE($4, mturk_worker_id)
		WHERE id = $1`,
		participantID, ip, mturkAssignmentID, mturkWorkerID,
	)
	return err
}

// Terminate marks a participant as dropped from the sequence.
func (r *ParticipantRepository) Terminate(ctx context.Context, participantID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE participants SET was_terminated = TRUE WHERE id = $1`, participantID)
	return err
}

// ListExperimentParticipants returns an experiment's progress records
// in slot order.
func (r *ParticipantRepository) ListExperimentParticipants(ctx context.Context, experimentID int64) ([]models.ExperimentParticipant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, participant_id, slot, match_id, treatment_id, is_finished, payoff
		FROM experiment_participants
		WHERE experiment_id = $1
		ORDER BY slot`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectExperimentParticipants(rows)
}

// LinkAcrossExperiments stitches unlinked experiment_participant rows
// to global participants in one transaction, so a partially linked
// sequence is never observable.
func (r *ParticipantRepository) LinkAcrossExperiments(ctx context.Context, assignments []SlotAssignment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range assignments {
		if _, err := tx.Exec(ctx, `
			UPDATE experiment_participants SET participant_id = $2 WHERE id = $1`,
			a.ExperimentParticipantID, a.ParticipantID,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ChainFor returns the participant's per-experiment records in chain
// order with one query; the next record after position k is simply the
// entry at k+1.
func (r *ParticipantRepository) ChainFor(ctx context.Context, participantID int64) ([]ChainEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ep.id, ep.experiment_id, ep.participant_id, ep.slot, ep.match_id,
			ep.treatment_id, ep.is_finished, ep.payoff,
			e.name, e.kind, e.position
		FROM experiment_participants ep
		JOIN experiments e ON e.id = ep.experiment_id
		WHERE ep.participant_id = $1
		ORDER BY e.position`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []ChainEntry
	for rows.Next() {
		var entry ChainEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ExperimentID,
			&entry.ParticipantID,
			&entry.Slot,
			&entry.MatchID,
			&entry.TreatmentID,
			&entry.IsFinished,
			&entry.Payoff,
			&entry.ExperimentName,
			&entry.ExperimentKind,
			&entry.Position,
		); err != nil {
			return nil, err
		}
		chain = append(chain, entry)
	}
	return chain, rows.Err()
}

// GetExperimentParticipant fetches one progress record by id.
func (r *ParticipantRepository) GetExperimentParticipant(ctx context.Context, id int64) (*models.ExperimentParticipant, error) {
	ep := &models.ExperimentParticipant{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, experiment_id, participant_id, slot, match_id, treatment_id, is_finished, payoff
		FROM experiment_participants WHERE id = $1`, id).Scan(
		&ep.ID,
		&ep.ExperimentID,
		&ep.ParticipantID,
		&ep.Slot,
		&ep.MatchID,
		&ep.TreatmentID,
		&ep.IsFinished,
		&ep.Payoff,
	)
	if err != nil {
		return nil, notFound("experiment_participants", err)
	}
	return ep, nil
}

// AssignTreatment records the treatment picked for a progress record.
func (r *ParticipantRepository) AssignTreatment(ctx context.Context, experimentParticipantID, treatmentID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE experiment_participants SET treatment_id = $2 WHERE id = $1`,
		experimentParticipantID, treatmentID,
	)
	return err
}

// FinishPlaying marks a progress record finished with its payoff.
func (r *ParticipantRepository) FinishPlaying(ctx context.Context, experimentParticipantID int64, payoff decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE experiment_participants SET is_finished = TRUE, payoff = $2 WHERE id = $1`,
		experimentParticipantID, payoff,
	)
	return err
}

// TotalPay sums a participant's payoffs across their chain.
func (r *ParticipantRepository) TotalPay(ctx context.Context, participantID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(payoff), 0)
		FROM experiment_participants
		WHERE participant_id = $1`, participantID).Scan(&total)
	return total, err
}

// PaymentRows returns per-participant payout totals for a sequence in
// primary-key order.
func (r *ParticipantRepository) PaymentRows(ctx context.Context, sequenceID int64) ([]PaymentRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.code, p.label, p.mturk_worker_id, COALESCE(SUM(ep.payoff), 0)
		FROM participants p
		LEFT JOIN experiment_participants ep ON ep.participant_id = p.id
		WHERE p.sequence_id = $1
		GROUP BY p.id, p.code, p.label, p.mturk_worker_id
		ORDER BY p.id`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []PaymentRow
	for rows.Next() {
		var row PaymentRow
		if err := rows.Scan(&row.ParticipantID, &row.Code, &row.Label, &row.MTurkWorkerID, &row.Total); err != nil {
			return nil, err
		}
		payments = append(payments, row)
	}
	return payments, rows.Err()
}

func collectExperimentParticipants(rows pgx.Rows) ([]models.ExperimentParticipant, error) {
	var eps []models.ExperimentParticipant
	for rows.Next() {
		var ep models.ExperimentParticipant
		if err := rows.Scan(
			&ep.ID,
			&ep.ExperimentID,
			&ep.ParticipantID,
			&ep.Slot,
			&ep.MatchID,
			&ep.TreatmentID,
			&ep.IsFinished,
			&ep.Payoff,
		); err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}
