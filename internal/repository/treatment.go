package repository

import (
	"context"

	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TreatmentRepository persists treatments.
type TreatmentRepository struct {
	pool *pgxpool.Pool
}

func NewTreatmentRepository(pool *pgxpool.Pool) *TreatmentRepository {
	return &TreatmentRepository{pool: pool}
}

func scanTreatment(row pgx.Row) (*models.Treatment, error) {
	t := &models.Treatment{}
	err := row.Scan(&t.ID, &t.ExperimentID, &t.Code, &t.ParticipantsPerMatch, &t.BasePay)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get fetches one treatment by id.
func (r *TreatmentRepository) Get(ctx context.Context, id int64) (*models.Treatment, error) {
	t, err := scanTreatment(r.pool.QueryRow(ctx, `
		SELECT id, experiment_id, code, participants_per_match, base_pay
		FROM treatments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("treatments", err)
	}
	return t, nil
}

// GetByCode looks a treatment up by its public code.
func (r *TreatmentRepository) GetByCode(ctx context.Context, code string) (*models.Treatment, error) {
	t, err := scanTreatment(r.pool.QueryRow(ctx, `
		SELECT id, experiment_id, code, participants_per_match, base_pay
		FROM treatments WHERE code = $1`, code))
	if err != nil {
		return nil, notFound("treatments", err)
	}
	return t, nil
}

// ListByExperiment returns an experiment's treatments.
func (r *TreatmentRepository) ListByExperiment(ctx context.Context, experimentID int64) ([]models.Treatment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, code, participants_per_match, base_pay
		FROM treatments
		WHERE experiment_id = $1
		ORDER BY id`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var treatments []models.Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		treatments = append(treatments, *t)
	}
	return treatments, rows.Err()
}

// PickBalanced returns the experiment's treatment with the fewest
// assigned participants, ties broken by id, keeping treatment cells
// evenly filled.
func (r *TreatmentRepository) PickBalanced(ctx context.Context, experimentID int64) (*models.Treatment, error) {
	t, err := scanTreatment(r.pool.QueryRow(ctx, `
		SELECT t.id, t.experiment_id, t.code, t.participants_per_match, t.base_pay
		FROM treatments t
		LEFT JOIN experiment_participants ep ON ep.treatment_id = t.id
		WHERE t.experiment_id = $1
		GROUP BY t.id
		ORDER BY COUNT(ep.id), t.id
		LIMIT 1`, experimentID))
	if err != nil {
		return nil, notFound("treatments", err)
	}
	return t, nil
}
