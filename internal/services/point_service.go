package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/baharkarakas/point-ledger/internal/lock"
	"github.com/baharkarakas/point-ledger/internal/logger"
	"github.com/baharkarakas/point-ledger/internal/metrics"
	"github.com/baharkarakas/point-ledger/internal/models"
	repo "github.com/baharkarakas/point-ledger/internal/repository"
	"github.com/baharkarakas/point-ledger/internal/worker"
	"github.com/patrickmn/go-cache"
)

// PointService is the balance ledger. Charge and Use run their whole
// read-compute-write-record sequence inside the locker's critical section; reads do not
// lock and may observe a value that is about to be superseded.
type PointService struct {
	points    repo.UserPoints
	histories repo.PointHistories
	audits    repo.AuditLogs
	locker    lock.Locker
	wp        *worker.Pool
	idem      *cache.Cache // "<user>:<type>:<key>" -> idemEntry
	log       *slog.Logger

	storeTimeout time.Duration
}

type idemEntry struct {
	amount int64
	point  models.UserPoint
}

type Option func(*PointService)

func WithLocker(l lock.Locker) Option {
	return func(s *PointService) { s.locker = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *PointService) { s.log = l }
}

// WithAudit enables audit entries for every mutation attempt. When wp is nil the entry
// is written synchronously after the critical section.
func WithAudit(a repo.AuditLogs, wp *worker.Pool) Option {
	return func(s *PointService) {
		s.audits = a
		s.wp = wp
	}
}

// WithIdempotencyTTL sets how long an idempotency key replays its first result.
// A non-positive ttl disables idempotency keys.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *PointService) {
		if ttl <= 0 {
			s.idem = nil
			return
		}
		s.idem = cache.New(ttl, 2*ttl)
	}
}

// WithStoreTimeout bounds each store call made while holding the lock.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *PointService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func NewPointService(points repo.UserPoints, histories repo.PointHistories, opts ...Option) *PointService {
	s := &PointService{
		points:       points,
		histories:    histories,
		locker:       lock.NewPerUser(),
		log:          slog.Default(),
		storeTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ----------------- Queries -----------------

func (s *PointService) Point(ctx context.Context, userID int64) (models.UserPoint, error) {
	const op = "services.point.Point"

	p, err := s.points.GetByUser(ctx, userID)
	if err != nil {
		return models.UserPoint{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PointService) Histories(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	const op = "services.point.Histories"

	hs, err := s.histories.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if hs == nil {
		hs = []models.PointHistory{}
	}
	return hs, nil
}

// ----------------- CHARGE -----------------

func (s *PointService) Charge(ctx context.Context, userID, amount int64) (models.UserPoint, error) {
	return s.ChargeIdem(ctx, userID, amount, "")
}

// ChargeIdem is Charge with an idempotency key. Repeating the key for the same user
// replays the first result; repeating it with a different amount fails with
// ErrIdempotencyMismatch. An empty key disables the check.
func (s *PointService) ChargeIdem(ctx context.Context, userID, amount int64, idemKey string) (models.UserPoint, error) {
	return s.mutate(ctx, "services.point.Charge", models.TxnCharge, userID, amount, idemKey,
		func(cur int64) (int64, error) {
			if cur > math.MaxInt64-amount {
				return 0, ErrPointOverflow
			}
			return cur + amount, nil
		})
}

// ----------------- USE -----------------

func (s *PointService) Use(ctx context.Context, userID, amount int64) (models.UserPoint, error) {
	return s.UseIdem(ctx, userID, amount, "")
}

// UseIdem is Use with an idempotency key, with the same replay rules as ChargeIdem.
func (s *PointService) UseIdem(ctx context.Context, userID, amount int64, idemKey string) (models.UserPoint, error) {
	return s.mutate(ctx, "services.point.Use", models.TxnUse, userID, amount, idemKey,
		func(cur int64) (int64, error) {
			if cur < amount {
				return 0, &InsufficientBalanceError{UserID: userID, Current: cur, Requested: amount}
			}
			return cur - amount, nil
		})
}

// ----------------- Mutation protocol -----------------

func (s *PointService) mutate(
	ctx context.Context,
	op string,
	typ models.TransactionType,
	userID, amount int64,
	idemKey string,
	apply func(cur int64) (int64, error),
) (models.UserPoint, error) {
	log := s.log.With(slog.String("op", op), slog.Int64("user_id", userID), slog.Int64("amount", amount))

	if amount <= 0 {
		metrics.TransactionsFailed.WithLabelValues(string(typ), "invalid_amount").Inc()
		return models.UserPoint{}, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	p, replayed, err := s.locked(ctx, typ, userID, amount, idemKey, apply)
	if err != nil {
		reason := failureReason(err)
		metrics.TransactionsFailed.WithLabelValues(string(typ), reason).Inc()

		var ib *InsufficientBalanceError
		switch {
		case errors.As(err, &ib):
			log.Warn("point use rejected", slog.Int64("current", ib.Current))
			s.audit(userID, "point.use_rejected", map[string]any{
				"type": typ, "requested": amount, "current": ib.Current,
			})
		case errors.Is(err, ErrLedgerInconsistent):
			var he *HistoryAppendError
			if errors.As(err, &he) {
				log.Error("history append failed after balance write",
					slog.Int64("point", he.Point), slog.Int64("update_millis", he.UpdateMillis), logger.Err(he.Err))
			} else {
				log.Error("balance write outcome unknown", logger.Err(err))
			}
		default:
			log.Error("point mutation failed", logger.Err(err))
		}
		return models.UserPoint{}, fmt.Errorf("%s: %w", op, err)
	}
	if replayed {
		log.Debug("idempotent replay", slog.String("idempotency_key", idemKey))
		return p, nil
	}

	metrics.TransactionsTotal.WithLabelValues(string(typ)).Inc()
	log.Info("point updated", slog.String("type", string(typ)), slog.Int64("point", p.Point))

	action := "point.charged"
	if typ == models.TxnUse {
		action = "point.used"
	}
	s.audit(userID, action, map[string]any{
		"type": typ, "amount": amount, "point": p.Point, "update_millis": p.UpdateMillis,
	})
	return p, nil
}

// locked runs read -> compute -> persist -> record while holding the user's section.
func (s *PointService) locked(
	ctx context.Context,
	typ models.TransactionType,
	userID, amount int64,
	idemKey string,
	apply func(cur int64) (int64, error),
) (models.UserPoint, bool, error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, userID)
	metrics.LockWait.WithLabelValues(string(s.locker.Mode())).Observe(time.Since(start).Seconds())
	if err != nil {
		return models.UserPoint{}, false, fmt.Errorf("acquire lock: %w", err)
	}
	defer unlock()

	key := ""
	if s.idem != nil && idemKey != "" {
		key = strconv.FormatInt(userID, 10) + ":" + string(typ) + ":" + idemKey
		if v, ok := s.idem.Get(key); ok {
			e := v.(idemEntry)
			if e.amount != amount {
				return models.UserPoint{}, false, fmt.Errorf("%w: key %q was used with amount %d",
					ErrIdempotencyMismatch, idemKey, e.amount)
			}
			return e.point, true, nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	cur, err := s.points.GetByUser(sctx, userID)
	if err != nil {
		return models.UserPoint{}, false, fmt.Errorf("read point: %w", err)
	}

	next, err := apply(cur.Point)
	if err != nil {
		return models.UserPoint{}, false, err
	}

	// From here on the caller going away must not split the balance from its record.
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer wcancel()

	updated, err := s.points.Upsert(wctx, userID, next)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// the write may have committed before the deadline cut the reply
			return models.UserPoint{}, false, fmt.Errorf("write point: %w", errors.Join(ErrLedgerInconsistent, err))
		}
		return models.UserPoint{}, false, fmt.Errorf("write point: %w", err)
	}

	hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer hcancel()

	_, err = s.histories.Append(hctx, models.PointHistory{
		UserID:     userID,
		Type:       typ,
		Amount:     updated.Point,
		TimeMillis: updated.UpdateMillis,
	})
	if err != nil {
		return models.UserPoint{}, false, &HistoryAppendError{
			UserID:       userID,
			Type:         typ,
			Point:        updated.Point,
			UpdateMillis: updated.UpdateMillis,
			Err:          err,
		}
	}

	if key != "" {
		s.idem.SetDefault(key, idemEntry{amount: amount, point: updated})
	}
	return updated, false, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrPointOverflow):
		return "overflow"
	case errors.Is(err, ErrLedgerInconsistent):
		return "history"
	case errors.Is(err, ErrIdempotencyMismatch):
		return "idempotency_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "store"
	}
}

// ----------------- Audit -----------------

func (s *PointService) audit(userID int64, action string, details map[string]any) {
	if s.audits == nil {
		return
	}
	entityID := strconv.FormatInt(userID, 10)
	entry := models.AuditLog{
		EntityType: "user_point",
		EntityID:   &entityID,
		Action:     action,
		Details:    details,
		CreatedAt:  time.Now(),
	}
	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
		defer cancel()
		if err := s.audits.Create(ctx, entry); err != nil {
			s.log.Warn("audit log write failed", slog.String("action", action), slog.Int64("user_id", userID), logger.Err(err))
		}
	}
	if s.wp == nil || !s.wp.Submit(write) {
		write()
	}
}
