package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store manages transaction and points persistence. Its
// CountTransactionsByUser method satisfies engine.TransactionCounter,
// so the same store feeds the evaluator's fact context.
type Store interface {
	// CreateTransaction persists a transaction; assigns its ID.
	CreateTransaction(ctx context.Context, txn *Transaction) error

	// CountTransactionsByUser returns the number of persisted
	// transactions for a user.
	CountTransactionsByUser(ctx context.Context, userID int64) (int64, error)

	// ListTransactionsByUser returns a user's transactions, newest first.
	ListTransactionsByUser(ctx context.Context, userID int64) ([]*Transaction, error)

	// Balance returns a user's current point balance; zero if the user
	// has never earned points.
	Balance(ctx context.Context, userID int64) (int, error)

	// AwardPoints applies a point delta and appends a history entry in
	// one atomic step, returning the new balance.
	AwardPoints(ctx context.Context, userID int64, points int, reason string) (int, error)

	// PointsHistoryByUser returns a user's balance changes, newest first.
	PointsHistoryByUser(ctx context.Context, userID int64) ([]*PointsHistory, error)
}

// InMemoryStore implements Store using in-memory maps. Thread-safe.
type InMemoryStore struct {
	transactions map[int64]*Transaction
	balances     map[int64]int
	history      []*PointsHistory
	nextTxnID    int64
	nextHistID   int64
	mu           sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transactions: make(map[int64]*Transaction),
		balances:     make(map[int64]int),
		nextTxnID:    1,
		nextHistID:   1,
	}
}

func (s *InMemoryStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn.ID = s.nextTxnID
	s.nextTxnID++
	if txn.Date.IsZero() {
		txn.Date = time.Now().UTC()
	}

	clone := *txn
	s.transactions[txn.ID] = &clone
	return nil
}

func (s *InMemoryStore) CountTransactionsByUser(ctx context.Context, userID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, txn := range s.transactions {
		if txn.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) ListTransactionsByUser(ctx context.Context, userID int64) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*Transaction
	for _, txn := range s.transactions {
		if txn.UserID == userID {
			clone := *txn
			list = append(list, &clone)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date.Equal(list[j].Date) {
			return list[i].ID > list[j].ID
		}
		return list[i].Date.After(list[j].Date)
	})
	return list, nil
}

func (s *InMemoryStore) Balance(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[userID], nil
}

func (s *InMemoryStore) AwardPoints(ctx context.Context, userID int64, points int, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[userID] + points
	s.balances[userID] = balance

	s.history = append(s.history, &PointsHistory{
		ID:           s.nextHistID,
		UserID:       userID,
		Change:       points,
		BalanceAfter: balance,
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
	})
	s.nextHistID++

	return balance, nil
}

func (s *InMemoryStore) PointsHistoryByUser(ctx context.Context, userID int64) ([]*PointsHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*PointsHistory
	for _, h := range s.history {
		if h.UserID == userID {
			clone := *h
			list = append(list, &clone)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}
