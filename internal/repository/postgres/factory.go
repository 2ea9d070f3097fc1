package postgres

import (
	repo "github.com/baharkarakas/point-ledger/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewRepositories(pool *pgxpool.Pool) repo.Repositories {
	return repo.Repositories{
		Points:    &userPointsRepo{pool},
		Histories: &pointHistoriesRepo{pool},
		AuditLogs: &auditLogsRepo{pool},
	}
}
