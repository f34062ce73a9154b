package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StubRepository manages the stub_models placeholder row backing
// formless views.
type StubRepository struct {
	pool *pgxpool.Pool
}

func NewStubRepository(pool *pgxpool.Pool) *StubRepository {
	return &StubRepository{pool: pool}
}

// Ensure returns the id of the singleton stub row, creating it on
// first use.
func (r *StubRepository) Ensure(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM stub_models ORDER BY id LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	err = r.pool.QueryRow(ctx, `INSERT INTO stub_models DEFAULT VALUES RETURNING id`).Scan(&id)
	return id, err
}
