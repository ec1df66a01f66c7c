package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Transaction is the evaluation view of a purchase transaction.
// MerchantID is zero when the purchase has no merchant attached.
type Transaction struct {
	UserID     int64
	Amount     float64
	Type       string
	MerchantID int64
	Date       time.Time
}

// TransactionCounter reports how many transactions a user already has
// on record. The count reflects persisted data as of evaluation time
// and never includes the transaction currently being evaluated.
type TransactionCounter interface {
	CountTransactionsByUser(ctx context.Context, userID int64) (int64, error)
}

// Evaluator computes the total points a single transaction earns by
// running it through every active workflow. It only reads from the
// registry; persisting point deltas is the caller's job.
type Evaluator struct {
	registry *Registry
	history  TransactionCounter
	log      *slog.Logger
}

func NewEvaluator(registry *Registry, history TransactionCounter, log *slog.Logger) *Evaluator {
	return &Evaluator{
		registry: registry,
		history:  history,
		log:      log,
	}
}

// Evaluate builds the fact context for txn and executes every active
// workflow in registry order. Within a workflow the first successful
// rule wins; awards from all matching workflows are summed. A workflow
// that errors contributes zero points and does not abort the batch.
// No workflow matching is not an error: the total is simply zero.
func (e *Evaluator) Evaluate(ctx context.Context, txn Transaction) (int, error) {
	count, err := e.history.CountTransactionsByUser(ctx, txn.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to count prior transactions for user %d: %w", txn.UserID, err)
	}

	// The fact context is built once per pass and never mutated.
	facts := map[string]any{
		"PurchaseAmount":   txn.Amount,
		"TransactionCount": count,
		"UserId":           txn.UserID,
		"MerchantId":       txn.MerchantID,
		"TransactionDate":  txn.Date,
	}

	total := 0
	for _, wf := range e.registry.Snapshot() {
		points, matched, err := wf.Execute(facts)
		if err != nil {
			e.log.Warn("workflow evaluation failed",
				"workflow", wf.Name, "user_id", txn.UserID, "error", err)
			continue
		}
		if matched {
			total += points
		}
	}

	return total, nil
}
