package repository

import (
	"context"

	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchRepository persists matches and owns the atomic claim used to
// assign participants to open matches.
type MatchRepository struct {
	pool *pgxpool.Pool
}

func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

const matchColumns = `id, experiment_id, treatment_id, kind, participant_1_id,
	participant_2_id, amount_offered, time_started`

func scanMatch(row pgx.Row) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID,
		&m.ExperimentID,
		&m.TreatmentID,
		&m.Kind,
		&m.Participant1ID,
		&m.Participant2ID,
		&m.AmountOffered,
		&m.TimeStarted,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Get fetches one match by id.
func (r *MatchRepository) Get(ctx context.Context, id int64) (*models.Match, error) {
	m, err := scanMatch(r.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("matches", err)
	}
	return m, nil
}

// ListByExperiment returns an experiment's matches in id order.
func (r *MatchRepository) ListByExperiment(ctx context.Context, experimentID int64) ([]models.Match, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE experiment_id = $1
		ORDER BY id`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// Members returns the experiment_participants assigned to a match in
// primary-key order.
func (r *MatchRepository) Members(ctx context.Context, matchID int64) ([]models.ExperimentParticipant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, participant_id, slot, match_id, treatment_id, is_finished, payoff
		FROM experiment_participants
		WHERE match_id = $1
		ORDER BY id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectExperimentParticipants(rows)
}

// Create inserts a match and seats the creating participant in slot,
// in one transaction.
func (r *MatchRepository) Create(ctx context.Context, m *models.Match, experimentParticipantID int64, slot game.Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	created, err := scanMatch(tx.QueryRow(ctx, `
		INSERT INTO matches (experiment_id, treatment_id, kind)
		VALUES ($1, $2, $3)
		RETURNING `+matchColumns,
		m.ExperimentID, m.TreatmentID, m.Kind,
	))
	if err != nil {
		return err
	}
	*m = *created

	if err := seatParticipant(ctx, tx, m, experimentParticipantID, slot); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AddMember seats an additional participant in an existing match, used
// by preassignment where whole matches are built up front.
func (r *MatchRepository) AddMember(ctx context.Context, m *models.Match, experimentParticipantID int64, slot game.Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := seatParticipant(ctx, tx, m, experimentParticipantID, slot); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetOffer records the amount offered by participant 1. The update is
// conditional: only participant 1's progress record may set it and
// only once. Returns whether the offer was recorded.
func (r *MatchRepository) SetOffer(ctx context.Context, matchID, experimentParticipantID, amount int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE matches SET amount_offered = $3
		WHERE id = $1 AND participant_1_id = $2 AND amount_offered IS NULL`,
		matchID, experimentParticipantID, amount,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNextOpenMatch scans the experiment's matches under the given
// treatment code in id order and claims the first one the Decide
// callback accepts. Candidate rows are locked with FOR UPDATE SKIP
// LOCKED, so two participants claiming concurrently can never take the
// same seat; a locked row is simply skipped and evaluated by whichever
// claimant holds it. Returns ErrNoOpenMatch when the scan is exhausted.
func (r *MatchRepository) ClaimNextOpenMatch(ctx context.Context, params ClaimParams) (*models.Match, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT m.id, m.experiment_id, m.treatment_id, m.kind, m.participant_1_id,
			m.participant_2_id, m.amount_offered, m.time_started,
			t.participants_per_match
		FROM matches m
		JOIN treatments t ON t.id = m.treatment_id
		WHERE m.experiment_id = $1 AND t.code = $2
		ORDER BY m.id
		FOR UPDATE OF m SKIP LOCKED`,
		params.ExperimentID, params.TreatmentCode,
	)
	if err != nil {
		return nil, err
	}

	// Materialize candidates before issuing per-match queries; the
	// transaction's connection can only run one query at a time.
	type candidate struct {
		match    models.Match
		capacity int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(
			&c.match.ID,
			&c.match.ExperimentID,
			&c.match.TreatmentID,
			&c.match.Kind,
			&c.match.Participant1ID,
			&c.match.Participant2ID,
			&c.match.AmountOffered,
			&c.match.TimeStarted,
			&c.capacity,
		); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range candidates {
		c := &candidates[i]

		state := game.State{
			Capacity:        c.capacity,
			Participant1Set: c.match.Participant1ID != nil,
			Participant2Set: c.match.Participant2ID != nil,
		}

		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM experiment_participants WHERE match_id = $1`,
			c.match.ID).Scan(&state.Occupied); err != nil {
			return nil, err
		}

		if c.match.Participant1ID != nil {
			if err := tx.QueryRow(ctx, `
				SELECT is_finished FROM experiment_participants WHERE id = $1`,
				*c.match.Participant1ID).Scan(&state.Participant1Finished); err != nil {
				return nil, err
			}
		}

		slot, ok := params.Decide(state)
		if !ok {
			continue
		}

		if err := seatParticipant(ctx, tx, &c.match, params.ExperimentParticipantID, slot); err != nil {
			return nil, err
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &c.match, nil
	}

	return nil, ErrNoOpenMatch
}

// seatParticipant writes the slot assignment: the role column on the
// match for asymmetric slots, plus the member's match_id.
func seatParticipant(ctx context.Context, tx pgx.Tx, m *models.Match, experimentParticipantID int64, slot game.Slot) error {
	switch slot {
	case game.SlotParticipant1:
		if _, err := tx.Exec(ctx, `
			UPDATE matches SET participant_1_id = $2
			WHERE id = $1 AND participant_1_id IS NULL`,
			m.ID, experimentParticipantID,
		); err != nil {
			return err
		}
		m.Participant1ID = &experimentParticipantID
	case game.SlotParticipant2:
		if _, err := tx.Exec(ctx, `
			UPDATE matches SET participant_2_id = $2
			WHERE id = $1 AND participant_2_id IS NULL`,
			m.ID, experimentParticipantID,
		); err != nil {
			return err
		}
		m.Participant2ID = &experimentParticipantID
	}

	_, err := tx.Exec(ctx, `
		UPDATE experiment_participants SET match_id = $2 WHERE id = $1`,
		experimentParticipantID, m.ID,
	)
	return err
}
