// Package memory keeps ledger tables in process memory. It is the default store and the
// one the concurrency tests run against.
package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/baharkarakas/point-ledger/internal/clock"
	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/repository"
)

var (
	_ repository.UserPoints     = (*UserPointTable)(nil)
	_ repository.PointHistories = (*PointHistoryTable)(nil)
	_ repository.AuditLogs      = (*AuditLogTable)(nil)
)

type options struct {
	clock      clock.Clock
	maxLatency time.Duration
}

type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLatency makes every table call sleep a random duration in [0, d).
// Useful for widening race windows in tests.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.maxLatency = d }
}

func newOptions(opts []Option) options {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.maxLatency <= 0 {
		return nil
	}
	t := time.NewTimer(rand.N(o.maxLatency))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func NewRepositories(opts ...Option) repository.Repositories {
	return repository.Repositories{
		Points:    NewUserPointTable(opts...),
		Histories: NewPointHistoryTable(opts...),
		AuditLogs: NewAuditLogTable(),
	}
}

// ----------------- user points -----------------

type UserPointTable struct {
	opts options
	mu   sync.RWMutex
	rows map[int64]models.UserPoint
}

func NewUserPointTable(opts ...Option) *UserPointTable {
	return &UserPointTable{opts: newOptions(opts), rows: make(map[int64]models.UserPoint)}
}

func (t *UserPointTable) GetByUser(ctx context.Context, userID int64) (models.UserPoint, error) {
	if err := t.opts.pause(ctx); err != nil {
		return models.UserPoint{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.rows[userID]; ok {
		return p, nil
	}
	return models.UserPoint{UserID: userID}, nil
}

func (t *UserPointTable) Upsert(ctx context.Context, userID, point int64) (models.UserPoint, error) {
	if err := t.opts.pause(ctx); err != nil {
		return models.UserPoint{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p := models.UserPoint{UserID: userID, Point: point, UpdateMillis: t.opts.clock.Now().UnixMilli()}
	t.rows[userID] = p
	return p, nil
}

// ----------------- point histories -----------------

type PointHistoryTable struct {
	opts   options
	mu     sync.RWMutex
	cursor int64
	rows   []models.PointHistory
}

func NewPointHistoryTable(opts ...Option) *PointHistoryTable {
	return &PointHistoryTable{opts: newOptions(opts)}
}

func (t *PointHistoryTable) Append(ctx context.Context, h models.PointHistory) (models.PointHistory, error) {
	if err := t.opts.pause(ctx); err != nil {
		return models.PointHistory{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cursor++
	h.ID = t.cursor
	t.rows = append(t.rows, h)
	return h, nil
}

func (t *PointHistoryTable) ListByUser(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	if err := t.opts.pause(ctx); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.PointHistory, 0)
	for _, h := range t.rows {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

// ----------------- audit logs -----------------

type AuditLogTable struct {
	mu   sync.Mutex
	rows []models.AuditLog
}

func NewAuditLogTable() *AuditLogTable { return &AuditLogTable{} }

func (t *AuditLogTable) Create(_ context.Context, l models.AuditLog) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	t.rows = append(t.rows, l)
	return nil
}

// All returns a copy of every audit entry written so far.
func (t *AuditLogTable) All() []models.AuditLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.AuditLog(nil), t.rows...)
}
