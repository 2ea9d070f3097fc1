package models

type UserPoint struct {
	UserID       int64 `json:"user_id"`
	Point        int64 `json:"point"`
	UpdateMillis int64 `json:"update_millis"`
}

type TransactionType string

const (
	TxnCharge TransactionType = "CHARGE"
	TxnUse    TransactionType = "USE"
)

func (t TransactionType) Valid() bool { return t == TxnCharge || t == TxnUse }

// PointHistory is one immutable entry of a user's charge/use log.
// Amount holds the user's point balance right after the operation, not the delta.
type PointHistory struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Type       TransactionType `json:"type"`
	Amount     int64           `json:"amount"`
	TimeMillis int64           `json:"time_millis"`
}
