package main

import (
	"time"

	"github.com/loyaltyco/loyalty/ledger"
)

// API request and response models.

// CreateEarningRuleRequest is the body for creating or replacing an
// earning rule. RuleJSON holds a workflow document.
type CreateEarningRuleRequest struct {
	Name     string `json:"name"`
	RuleJSON string `json:"ruleJson"`
	IsActive bool   `json:"isActive"`
}

// UpdateRuleStatusRequest is the body for PATCHing a rule's active flag.
type UpdateRuleStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// TransactionRequest is the body for recording or simulating a purchase.
type TransactionRequest struct {
	UserID      int64      `json:"userId"`
	Amount      float64    `json:"amount"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	MerchantID  *int64     `json:"merchantId,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

func (r *TransactionRequest) toTransaction() *ledger.Transaction {
	txn := &ledger.Transaction{
		UserID:      r.UserID,
		Amount:      r.Amount,
		Type:        r.Type,
		Description: r.Description,
		MerchantID:  r.MerchantID,
	}
	if r.Date != nil {
		txn.Date = *r.Date
	}
	return txn
}

// TransactionResponse is returned after recording a purchase.
type TransactionResponse struct {
	Transaction    *ledger.Transaction `json:"transaction"`
	PointsEarned   int                 `json:"pointsEarned"`
	CurrentBalance int                 `json:"currentBalance"`
}

// SimulateResponse is returned by the simulate endpoint.
type SimulateResponse struct {
	PointsEarned int `json:"pointsEarned"`
}

// BalanceResponse is a user's current point balance.
type BalanceResponse struct {
	UserID  int64 `json:"userId"`
	Balance int   `json:"balance"`
}
