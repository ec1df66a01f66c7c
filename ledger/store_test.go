package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreCreateTransaction(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	txn := &Transaction{UserID: 1, Amount: 42.50, Type: TypePurchase}
	require.NoError(t, store.CreateTransaction(ctx, txn))
	assert.Equal(t, int64(1), txn.ID)
	assert.False(t, txn.Date.IsZero(), "a zero date is filled in on create")

	txn2 := &Transaction{UserID: 1, Amount: 10, Type: TypePurchase}
	require.NoError(t, store.CreateTransaction(ctx, txn2))
	assert.Equal(t, int64(2), txn2.ID)
}

func TestInMemoryStoreCountByUser(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateTransaction(ctx, &Transaction{UserID: 1, Amount: 10}))
	}
	require.NoError(t, store.CreateTransaction(ctx, &Transaction{UserID: 2, Amount: 10}))

	count, err := store.CountTransactionsByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = store.CountTransactionsByUser(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInMemoryStoreListNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		txn := &Transaction{UserID: 1, Amount: float64(i), Date: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, store.CreateTransaction(ctx, txn))
	}

	list, err := store.ListTransactionsByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, float64(2), list[0].Amount)
	assert.Equal(t, float64(0), list[2].Amount)
}

func TestInMemoryStoreAwardPoints(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	balance, err := store.AwardPoints(ctx, 1, 100, "welcome bonus")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)

	balance, err = store.AwardPoints(ctx, 1, 50, "purchase")
	require.NoError(t, err)
	assert.Equal(t, 150, balance)

	got, err := store.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 150, got)

	history, err := store.PointsHistoryByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 50, history[0].Change, "history is newest first")
	assert.Equal(t, 150, history[0].BalanceAfter)
	assert.Equal(t, "purchase", history[0].Reason)
	assert.Equal(t, 100, history[1].BalanceAfter)
}

func TestInMemoryStoreBalanceDefaultsToZero(t *testing.T) {
	store := NewInMemoryStore()

	balance, err := store.Balance(context.Background(), 404)
	require.NoError(t, err)
	assert.Zero(t, balance)
}
