package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/point-ledger/internal/lock"
	"github.com/baharkarakas/point-ledger/internal/logger"
	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/repository/memory"
)

// -- Mocks --

type userPointsMock struct{ mock.Mock }

func (m *userPointsMock) GetByUser(ctx context.Context, userID int64) (models.UserPoint, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.UserPoint), args.Error(1)
}

func (m *userPointsMock) Upsert(ctx context.Context, userID, point int64) (models.UserPoint, error) {
	args := m.Called(ctx, userID, point)
	return args.Get(0).(models.UserPoint), args.Error(1)
}

type pointHistoriesMock struct{ mock.Mock }

func (m *pointHistoriesMock) ListByUser(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	args := m.Called(ctx, userID)
	hs, _ := args.Get(0).([]models.PointHistory)
	return hs, args.Error(1)
}

func (m *pointHistoriesMock) Append(ctx context.Context, h models.PointHistory) (models.PointHistory, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(models.PointHistory), args.Error(1)
}

func newTestService(points *userPointsMock, histories *pointHistoriesMock, opts ...Option) *PointService {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return NewPointService(points, histories, opts...)
}

const userID int64 = 1

func TestPointReturnsStoredRecord(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	want := models.UserPoint{UserID: userID, Point: 1000, UpdateMillis: time.Now().UnixMilli()}
	points.On("GetByUser", mock.Anything, userID).Return(want, nil)

	got, err := newTestService(points, histories).Point(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	points.AssertExpectations(t)
}

func TestPointPropagatesStoreError(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	boom := errors.New("store down")
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{}, boom)

	_, err := newTestService(points, histories).Point(context.Background(), userID)

	assert.ErrorIs(t, err, boom)
}

func TestHistoriesReturnsStoredRecords(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	now := time.Now().UnixMilli()
	want := []models.PointHistory{
		{ID: 1, UserID: userID, Type: models.TxnCharge, Amount: 1000, TimeMillis: now},
		{ID: 2, UserID: userID, Type: models.TxnUse, Amount: 500, TimeMillis: now + 1},
	}
	histories.On("ListByUser", mock.Anything, userID).Return(want, nil)

	got, err := newTestService(points, histories).Histories(context.Background(), userID)

	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
	histories.AssertExpectations(t)
}

func TestHistoriesNeverNil(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	histories.On("ListByUser", mock.Anything, userID).Return(nil, nil)

	got, err := newTestService(points, histories).Histories(context.Background(), userID)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestChargeWritesBalanceThenHistory(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).
		Return(models.UserPoint{UserID: userID, Point: 1000, UpdateMillis: 10}, nil)
	updated := models.UserPoint{UserID: userID, Point: 1500, UpdateMillis: 20}
	points.On("Upsert", mock.Anything, userID, int64(1500)).Return(updated, nil)
	wantHistory := models.PointHistory{UserID: userID, Type: models.TxnCharge, Amount: 1500, TimeMillis: 20}
	histories.On("Append", mock.Anything, wantHistory).Return(wantHistory, nil)

	got, err := newTestService(points, histories).Charge(context.Background(), userID, 500)

	require.NoError(t, err)
	assert.Equal(t, updated, got)
	points.AssertExpectations(t)
	histories.AssertExpectations(t)
}

func TestUseWritesBalanceThenHistory(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).
		Return(models.UserPoint{UserID: userID, Point: 1000, UpdateMillis: 10}, nil)
	updated := models.UserPoint{UserID: userID, Point: 300, UpdateMillis: 20}
	points.On("Upsert", mock.Anything, userID, int64(300)).Return(updated, nil)
	wantHistory := models.PointHistory{UserID: userID, Type: models.TxnUse, Amount: 300, TimeMillis: 20}
	histories.On("Append", mock.Anything, wantHistory).Return(wantHistory, nil)

	got, err := newTestService(points, histories).Use(context.Background(), userID, 700)

	require.NoError(t, err)
	assert.Equal(t, updated, got)
	histories.AssertExpectations(t)
}

func TestUseExactBalanceReachesZero(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 700}, nil)
	points.On("Upsert", mock.Anything, userID, int64(0)).Return(models.UserPoint{UserID: userID, Point: 0, UpdateMillis: 5}, nil)
	histories.On("Append", mock.Anything, mock.Anything).Return(models.PointHistory{}, nil)

	got, err := newTestService(points, histories).Use(context.Background(), userID, 700)

	require.NoError(t, err)
	assert.Zero(t, got.Point)
}

func TestUseRejectsInsufficientBalance(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 1000}, nil)

	_, err := newTestService(points, histories).Use(context.Background(), userID, 2000)

	require.ErrorIs(t, err, ErrInsufficientBalance)
	var ib *InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, int64(1000), ib.Current)
	assert.Equal(t, int64(2000), ib.Requested)
	assert.Equal(t, int64(1000), ib.Shortfall())
	assert.Contains(t, err.Error(), "short by 1000")

	points.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	histories.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRejectsNonPositiveAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
	}{
		{"Zero", 0},
		{"Negative", -100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, histories := &userPointsMock{}, &pointHistoriesMock{}
			svc := newTestService(points, histories)

			_, err := svc.Charge(context.Background(), userID, tc.amount)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			_, err = svc.Use(context.Background(), userID, tc.amount)
			assert.ErrorIs(t, err, ErrInvalidAmount)

			points.AssertNotCalled(t, "GetByUser", mock.Anything, mock.Anything)
		})
	}
}

func TestChargeRejectsOverflow(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: math.MaxInt64 - 10}, nil)

	_, err := newTestService(points, histories).Charge(context.Background(), userID, 11)

	assert.ErrorIs(t, err, ErrPointOverflow)
	points.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestBalanceWriteFailureSkipsHistory(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	boom := errors.New("write failed")
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 10}, nil)
	points.On("Upsert", mock.Anything, userID, int64(20)).Return(models.UserPoint{}, boom)

	_, err := newTestService(points, histories).Charge(context.Background(), userID, 10)

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrLedgerInconsistent)
	histories.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestHistoryFailureIsReportedAsInconsistency(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	boom := errors.New("append failed")
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 10}, nil)
	points.On("Upsert", mock.Anything, userID, int64(20)).Return(models.UserPoint{UserID: userID, Point: 20, UpdateMillis: 99}, nil)
	histories.On("Append", mock.Anything, mock.Anything).Return(models.PointHistory{}, boom)

	_, err := newTestService(points, histories).Charge(context.Background(), userID, 10)

	require.ErrorIs(t, err, ErrLedgerInconsistent)
	require.ErrorIs(t, err, boom)
	var he *HistoryAppendError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, int64(20), he.Point)
	assert.Equal(t, int64(99), he.UpdateMillis)
	assert.Equal(t, models.TxnCharge, he.Type)
}

func TestIdempotencyKeyReplaysFirstResult(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 0}, nil).Once()
	updated := models.UserPoint{UserID: userID, Point: 100, UpdateMillis: 1}
	points.On("Upsert", mock.Anything, userID, int64(100)).Return(updated, nil).Once()
	histories.On("Append", mock.Anything, mock.Anything).Return(models.PointHistory{}, nil).Once()

	svc := newTestService(points, histories, WithIdempotencyTTL(time.Minute))
	first, err := svc.ChargeIdem(context.Background(), userID, 100, "req-1")
	require.NoError(t, err)
	second, err := svc.ChargeIdem(context.Background(), userID, 100, "req-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	points.AssertNumberOfCalls(t, "Upsert", 1)
	histories.AssertNumberOfCalls(t, "Append", 1)
}

func TestLockWaitHonoursContext(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	g := lock.NewGlobal()
	unlock, err := g.Lock(context.Background(), 99)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = newTestService(points, histories, WithLocker(g)).Charge(ctx, userID, 10)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	points.AssertNotCalled(t, "GetByUser", mock.Anything, mock.Anything)
}

func TestAuditEntriesWritten(t *testing.T) {
	repos := memory.NewRepositories()
	audits := memory.NewAuditLogTable()
	svc := NewPointService(repos.Points, repos.Histories,
		WithLogger(logger.Discard()),
		WithAudit(audits, nil),
	)
	ctx := context.Background()

	_, err := svc.Charge(ctx, userID, 100)
	require.NoError(t, err)
	_, err = svc.Use(ctx, userID, 40)
	require.NoError(t, err)
	_, err = svc.Use(ctx, userID, 1000)
	require.Error(t, err)

	entries := audits.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "point.charged", entries[0].Action)
	assert.Equal(t, "point.used", entries[1].Action)
	assert.Equal(t, "point.use_rejected", entries[2].Action)
	require.NotNil(t, entries[0].EntityID)
	assert.Equal(t, "1", *entries[0].EntityID)
}

func TestCallerCancelAfterReadStillRecords(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	points.On("GetByUser", mock.Anything, userID).
		Run(func(mock.Arguments) { cancel() }).
		Return(models.UserPoint{UserID: userID, Point: 10}, nil)
	points.On("Upsert", mock.Anything, userID, int64(15)).
		Run(func(args mock.Arguments) {
			assert.NoError(t, args.Get(0).(context.Context).Err(), "balance write must outlive the caller")
		}).
		Return(models.UserPoint{UserID: userID, Point: 15, UpdateMillis: 3}, nil)
	histories.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(models.PointHistory{}, nil)

	got, err := newTestService(points, histories).Charge(ctx, userID, 5)

	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Point)
	histories.AssertNumberOfCalls(t, "Append", 1)
}

func TestBalanceWriteTimeoutIsReportedAsInconsistency(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 10}, nil)
	points.On("Upsert", mock.Anything, userID, int64(20)).Return(models.UserPoint{}, context.DeadlineExceeded)

	_, err := newTestService(points, histories).Charge(context.Background(), userID, 10)

	assert.ErrorIs(t, err, ErrLedgerInconsistent)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	histories.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestIdempotencyKeyWithDifferentAmountIsRejected(t *testing.T) {
	points, histories := &userPointsMock{}, &pointHistoriesMock{}
	points.On("GetByUser", mock.Anything, userID).Return(models.UserPoint{UserID: userID, Point: 500}, nil).Once()
	points.On("Upsert", mock.Anything, userID, int64(400)).Return(models.UserPoint{UserID: userID, Point: 400}, nil).Once()
	histories.On("Append", mock.Anything, mock.Anything).Return(models.PointHistory{}, nil).Once()

	svc := newTestService(points, histories, WithIdempotencyTTL(time.Minute))
	_, err := svc.UseIdem(context.Background(), userID, 100, "req-9")
	require.NoError(t, err)

	_, err = svc.UseIdem(context.Background(), userID, 300, "req-9")

	assert.ErrorIs(t, err, ErrIdempotencyMismatch)
	points.AssertNumberOfCalls(t, "Upsert", 1)
}
