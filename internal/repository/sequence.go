package repository

import (
	"context"

	"github.com/CQNKZX/otree-core/internal/lib/utils"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceRepository persists sequences of experiments.
type SequenceRepository struct {
	pool *pgxpool.Pool
}

func NewSequenceRepository(pool *pgxpool.Pool) *SequenceRepository {
	return &SequenceRepository{pool: pool}
}

const sequenceColumns = `id, code, experimenter_access_code, label, is_for_mturk,
	payment_was_sent, preassign_matches, start_view_name, end_view_name, time_created`

func scanSequence(row pgx.Row) (*models.Sequence, error) {
	seq := &models.Sequence{}
	err := row.Scan(
		&seq.ID,
		&seq.Code,
		&seq.ExperimenterAccessCode,
		&seq.Label,
		&seq.IsForMTurk,
		&seq.PaymentWasSent,
		&seq.PreassignMatches,
		&seq.StartViewName,
		&seq.EndViewName,
		&seq.TimeCreated,
	)
	if err != nil {
		return nil, err
	}
	return seq, nil
}

// Create inserts a sequence, generating its public code and the
// experimenter access code.
func (r *SequenceRepository) Create(ctx context.Context, seq *models.Sequence) error {
	seq.Code = utils.RandomCode()
	seq.ExperimenterAccessCode = utils.RandomCode()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO sequences (code, experimenter_access_code, label, is_for_mturk,
			preassign_matches, start_view_name, end_view_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, payment_was_sent, time_created`,
		seq.Code,
		seq.ExperimenterAccessCode,
		seq.Label,
		seq.IsForMTurk,
		seq.PreassignMatches,
		seq.StartViewName,
		seq.EndViewName,
	)
	return row.Scan(&seq.ID, &seq.PaymentWasSent, &seq.TimeCreated)
}

// GetByCode looks a sequence up by its public join code.
func (r *SequenceRepository) GetByCode(ctx context.Context, code string) (*models.Sequence, error) {
	seq, err := scanSequence(r.pool.QueryRow(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE code = $1`, code))
	if err != nil {
		return nil, notFound("sequences", err)
	}
	return seq, nil
}

// GetByAccessCode looks a sequence up by its experimenter access code.
func (r *SequenceRepository) GetByAccessCode(ctx context.Context, accessCode string) (*models.Sequence, error) {
	seq, err := scanSequence(r.pool.QueryRow(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE experimenter_access_code = $1`, accessCode))
	if err != nil {
		return nil, notFound("sequences", err)
	}
	return seq, nil
}

// MarkPaymentsSent flips payment_was_sent, reporting whether this call
// performed the flip. A false return means payments were already sent,
// guarding against double payouts.
func (r *SequenceRepository) MarkPaymentsSent(ctx context.Context, sequenceID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sequences SET payment_was_sent = TRUE
		WHERE id = $1 AND payment_was_sent = FALSE`,
		sequenceID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a sequence and, via cascades, everything under it.
func (r *SequenceRepository) Delete(ctx context.Context, sequenceID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sequences WHERE id = $1`, sequenceID)
	return err
}
