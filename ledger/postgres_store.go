package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	if txn.Date.IsZero() {
		txn.Date = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, amount, type, description, merchant_id, date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, txn.UserID, txn.Amount, txn.Type, txn.Description, txn.MerchantID, txn.Date).Scan(&txn.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

func (s *PostgresStore) CountTransactionsByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID int64) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, description, merchant_id, date
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var list []*Transaction
	for rows.Next() {
		var t Transaction
		var description sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type,
			&description, &t.MerchantID, &t.Date); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Description = description.String
		list = append(list, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return list, nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM points WHERE user_id = $1
	`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// AwardPoints upserts the balance and appends the history row inside
// one database transaction so a crash cannot leave them out of step.
func (s *PostgresStore) AwardPoints(ctx context.Context, userID int64, points int, reason string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO points (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = points.balance + $2
		RETURNING balance
	`, userID, points).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO points_history (user_id, change, balance_after, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, points, balance, reason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert points history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit award: %w", err)
	}

	return balance, nil
}

func (s *PostgresStore) PointsHistoryByUser(ctx context.Context, userID int64) ([]*PointsHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, change, balance_after, reason, timestamp
		FROM points_history
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list points history: %w", err)
	}
	defer rows.Close()

	var list []*PointsHistory
	for rows.Next() {
		var h PointsHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Change, &h.BalanceAfter,
			&h.Reason, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan points history: %w", err)
		}
		list = append(list, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating points history: %w", err)
	}

	return list, nil
}
