package services

import (
	"errors"
	"fmt"

	"github.com/baharkarakas/point-ledger/internal/models"
)

var (
	ErrInvalidAmount       = errors.New("point: amount must be positive")
	ErrInsufficientBalance = errors.New("point: insufficient balance")
	ErrPointOverflow       = errors.New("point: balance overflow")
	ErrLedgerInconsistent  = errors.New("point: balance and history out of sync")
	ErrIdempotencyMismatch = errors.New("point: idempotency key reused with a different amount")
)

// InsufficientBalanceError is returned by Use when the balance cannot cover the request.
// Nothing has been written when it is returned.
type InsufficientBalanceError struct {
	UserID    int64
	Current   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("point: insufficient balance for user %d: have %d, requested %d, short by %d",
		e.UserID, e.Current, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Current }

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// HistoryAppendError means the new balance was persisted but its history record was not.
// The fields carry what is needed to append the missing record by hand.
type HistoryAppendError struct {
	UserID       int64
	Type         models.TransactionType
	Point        int64
	UpdateMillis int64
	Err          error
}

func (e *HistoryAppendError) Error() string {
	return fmt.Sprintf("point: user %d balance set to %d at %d but %s history append failed: %v",
		e.UserID, e.Point, e.UpdateMillis, e.Type, e.Err)
}

func (e *HistoryAppendError) Unwrap() []error { return []error{ErrLedgerInconsistent, e.Err} }
