package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyaltyco/loyalty/engine"
	"github.com/loyaltyco/loyalty/events"
)

const earnedReason = "Points earned from purchase"

// Service is the transaction ingest boundary. It persists purchases,
// runs them through the earning rule evaluator, and writes the
// resulting point deltas and history.
type Service struct {
	store     Store
	evaluator *engine.Evaluator
	publisher events.Publisher
	log       *slog.Logger
}

func NewService(store Store, evaluator *engine.Evaluator, publisher events.Publisher, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		log:       log,
	}
}

// Receipt is the outcome of recording a purchase.
type Receipt struct {
	Transaction  *Transaction
	PointsEarned int
	Balance      int
}

// Record persists a purchase transaction, awards any points the active
// rules grant it, and appends the companion points_earned transaction
// and history entry. Evaluation happens before the purchase row is
// inserted so the TransactionCount fact covers prior transactions only.
func (s *Service) Record(ctx context.Context, txn *Transaction) (*Receipt, error) {
	if txn.Type == "" {
		txn.Type = TypePurchase
	}
	if txn.Date.IsZero() {
		txn.Date = time.Now().UTC()
	}

	points, err := s.evaluator.Evaluate(ctx, evalView(txn))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transaction: %w", err)
	}

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to persist transaction: %w", err)
	}

	balance, err := s.store.Balance(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	if points > 0 {
		balance, err = s.store.AwardPoints(ctx, txn.UserID, points, earnedReason)
		if err != nil {
			return nil, fmt.Errorf("failed to award points: %w", err)
		}

		earned := &Transaction{
			UserID:      txn.UserID,
			Amount:      float64(points),
			Type:        TypePointsEarned,
			Description: earnedReason,
			Date:        time.Now().UTC(),
		}
		if err := s.store.CreateTransaction(ctx, earned); err != nil {
			return nil, fmt.Errorf("failed to persist points transaction: %w", err)
		}

		event := events.Event{
			Type:       events.TypePointsEarned,
			UserID:     txn.UserID,
			OccurredAt: time.Now().UTC(),
			Payload: map[string]any{
				"points":              points,
				"sourceTransactionId": txn.ID,
				"newBalance":          balance,
			},
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Warn("failed to publish points_earned event",
				"user_id", txn.UserID, "transaction_id", txn.ID, "error", err)
		}

		s.log.Info("points awarded",
			"user_id", txn.UserID, "transaction_id", txn.ID,
			"points", points, "balance", balance)
	}

	return &Receipt{
		Transaction:  txn,
		PointsEarned: points,
		Balance:      balance,
	}, nil
}

// Simulate evaluates a transaction against the active rules without
// persisting anything.
func (s *Service) Simulate(ctx context.Context, txn *Transaction) (int, error) {
	if txn.Date.IsZero() {
		txn.Date = time.Now().UTC()
	}
	return s.evaluator.Evaluate(ctx, evalView(txn))
}

// evalView projects a ledger transaction onto the evaluator's input.
func evalView(txn *Transaction) engine.Transaction {
	var merchantID int64
	if txn.MerchantID != nil {
		merchantID = *txn.MerchantID
	}
	return engine.Transaction{
		UserID:     txn.UserID,
		Amount:     txn.Amount,
		Type:       txn.Type,
		MerchantID: merchantID,
		Date:       txn.Date,
	}
}
