package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type userPointsRepo struct{ pool *pgxpool.Pool }

func (r *userPointsRepo) GetByUser(ctx context.Context, userID int64) (models.UserPoint, error) {
	const op = "postgres.userPoints.GetByUser"

	var p models.UserPoint
	err := r.pool.QueryRow(
		ctx,
		`SELECT user_id, point, update_millis
		   FROM user_points
		  WHERE user_id=$1`,
		userID,
	).Scan(&p.UserID, &p.Point, &p.UpdateMillis)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserPoint{UserID: userID}, nil
	}
	if err != nil {
		return models.UserPoint{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (r *userPointsRepo) Upsert(ctx context.Context, userID, point int64) (models.UserPoint, error) {
	const op = "postgres.userPoints.Upsert"

	var p models.UserPoint
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO user_points(user_id, point, update_millis)
		 VALUES($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		    SET point = EXCLUDED.point,
		        update_millis = EXCLUDED.update_millis
		 RETURNING user_id, point, update_millis`,
		userID, point, time.Now().UnixMilli(),
	).Scan(&p.UserID, &p.Point, &p.UpdateMillis)
	if err != nil {
		return models.UserPoint{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
