package repository

import (
	"context"
	"fmt"

	"github.com/CQNKZX/otree-core/internal/lib/utils"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExperimentRepository persists experiments, their treatments, and the
// unlinked participant slots created alongside them.
type ExperimentRepository struct {
	pool *pgxpool.Pool
}

func NewExperimentRepository(pool *pgxpool.Pool) *ExperimentRepository {
	return &ExperimentRepository{pool: pool}
}

func scanExperiment(row pgx.Row) (*models.Experiment, error) {
	e := &models.Experiment{}
	err := row.Scan(&e.ID, &e.SequenceID, &e.Kind, &e.Name, &e.Position, &e.TimeCreated)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get fetches one experiment by id.
func (r *ExperimentRepository) Get(ctx context.Context, id int64) (*models.Experiment, error) {
	e, err := scanExperiment(r.pool.QueryRow(ctx, `
		SELECT id, sequence_id, kind, name, position, time_created
		FROM experiments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("experiments", err)
	}
	return e, nil
}

// ListBySequence returns a sequence's experiments in chain order.
func (r *ExperimentRepository) ListBySequence(ctx context.Context, sequenceID int64) ([]models.Experiment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sequence_id, kind, name, position, time_created
		FROM experiments
		WHERE sequence_id = $1
		ORDER BY position`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var experiments []models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, *e)
	}
	return experiments, rows.Err()
}

// AddExperiments appends specs to the sequence's chain in the given
// order, creating every experiment with its position, its treatments
// and numSlots unlinked experiment_participant rows, all in one
// transaction.
func (r *ExperimentRepository) AddExperiments(ctx context.Context, sequenceID int64, specs []ExperimentSpec, numSlots int) ([]models.Experiment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var nextPosition int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0)
		FROM experiments WHERE sequence_id = $1`, sequenceID).Scan(&nextPosition); err != nil {
		return nil, err
	}

	experiments := make([]models.Experiment, 0, len(specs))
	for i, spec := range specs {
		e, err := scanExperiment(tx.QueryRow(ctx, `
			INSERT INTO experiments (sequence_id, kind, name, position)
			VALUES ($1, $2, $3, $4)
			RETURNING id, sequence_id, kind, name, position, time_created`,
			sequenceID, spec.Kind, spec.Name, nextPosition+i,
		))
		if err != nil {
			return nil, err
		}

		for _, t := range spec.Treatments {
			code := t.Code
			if code == "" {
				code = utils.RandomCode()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO treatments (experiment_id, code, participants_per_match, base_pay)
				VALUES ($1, $2, $3, $4)`,
				e.ID, code, t.ParticipantsPerMatch, t.BasePay,
			); err != nil {
				return nil, err
			}
		}

		for slot := 0; slot < numSlots; slot++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO experiment_participants (experiment_id, slot)
				VALUES ($1, $2)`,
				e.ID, slot,
			); err != nil {
				return nil, fmt.Errorf("creating slot %d for experiment %d: %w", slot, e.ID, err)
			}
		}

		experiments = append(experiments, *e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return experiments, nil
}
