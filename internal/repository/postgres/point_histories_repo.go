package postgres

import (
	"context"
	"fmt"

	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pointHistoriesRepo struct{ pool *pgxpool.Pool }

func (r *pointHistoriesRepo) Append(ctx context.Context, h models.PointHistory) (models.PointHistory, error) {
	const op = "postgres.pointHistories.Append"

	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO point_histories(user_id, type, amount, time_millis)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		h.UserID, h.Type, h.Amount, h.TimeMillis,
	).Scan(&h.ID)
	if err != nil {
		return models.PointHistory{}, fmt.Errorf("%s: %w", op, err)
	}
	return h, nil
}

func (r *pointHistoriesRepo) ListByUser(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	const op = "postgres.pointHistories.ListByUser"

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, user_id, type, amount, time_millis
		   FROM point_histories
		  WHERE user_id=$1
		  ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.PointHistory, 0)
	for rows.Next() {
		var h models.PointHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Type, &h.Amount, &h.TimeMillis); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
