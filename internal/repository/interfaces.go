package repository

import (
	"context"

	"github.com/baharkarakas/point-ledger/internal/models"
)

// UserPoints never reports a missing user: GetByUser returns a zero-point record instead.
type UserPoints interface {
	GetByUser(ctx context.Context, userID int64) (models.UserPoint, error)
	Upsert(ctx context.Context, userID, point int64) (models.UserPoint, error)
}

// PointHistories is append-only. Append assigns the record ID.
type PointHistories interface {
	ListByUser(ctx context.Context, userID int64) ([]models.PointHistory, error)
	Append(ctx context.Context, h models.PointHistory) (models.PointHistory, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

type Repositories struct {
	Points    UserPoints
	Histories PointHistories
	AuditLogs AuditLogs
}
