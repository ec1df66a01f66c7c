package ledger

import "time"

// Transaction types written by the ingest service.
const (
	TypePurchase     = "purchase"
	TypePointsEarned = "points_earned"
)

// Transaction is a persisted ledger record. Purchases come in through
// the ingest service; points_earned companions are written by it when
// a purchase awards points.
type Transaction struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	MerchantID  *int64    `json:"merchantId,omitempty"`
	Date        time.Time `json:"date"`
}

// PointsBalance is a user's current point balance.
type PointsBalance struct {
	UserID  int64 `json:"userId"`
	Balance int   `json:"balance"`
}

// PointsHistory records one balance change.
type PointsHistory struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	Change       int       `json:"change"`
	BalanceAfter int       `json:"balanceAfter"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}
