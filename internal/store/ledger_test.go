package store

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipbot/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(t.TempDir(), testLogger())
}

func TestLedgerCreditDebit(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Credit("alice", decimal.NewFromInt(100)))
	require.NoError(t, l.Debit("alice", decimal.NewFromInt(40)))

	balance, err := l.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(60)), "got %s", balance)
}

func TestLedgerDebitInsufficient(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Credit("alice", decimal.NewFromInt(10)))

	err := l.Debit("alice", decimal.NewFromInt(11))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)), "failed debit must not mutate")
}

func TestLedgerDebitUnknownUser(t *testing.T) {
	l := newTestLedger(t)
	err := l.Debit("nobody", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestLedgerConcurrentMutations(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Credit("alice", decimal.NewFromInt(1000)))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Credit("alice", decimal.NewFromInt(5))
			_ = l.Debit("alice", decimal.NewFromInt(3))
		}()
	}
	wg.Wait()

	balance, err := l.Balance("alice")
	require.NoError(t, err)
	want := decimal.NewFromInt(1000 + workers*2)
	assert.True(t, balance.Equal(want), "want %s, got %s", want, balance)
}

func TestLedgerTransfer(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Credit("alice", decimal.NewFromInt(50)))

	require.NoError(t, l.Transfer("alice", "bob", decimal.NewFromInt(20)))

	aliceBal, err := l.Balance("alice")
	require.NoError(t, err)
	bobBal, err := l.Balance("bob")
	require.NoError(t, err)
	assert.True(t, aliceBal.Equal(decimal.NewFromInt(30)))
	assert.True(t, bobBal.Equal(decimal.NewFromInt(20)))

	err = l.Transfer("alice", "bob", decimal.NewFromInt(31))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestLedgerBalancesSorted(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.SetBalance("alice", decimal.NewFromInt(10)))
	require.NoError(t, l.SetBalance("bob", decimal.NewFromInt(30)))
	require.NoError(t, l.SetBalance("carol", decimal.NewFromInt(20)))

	entries, err := l.Balances()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "bob", entries[0].UserID)
	assert.Equal(t, "carol", entries[1].UserID)
	assert.Equal(t, "alice", entries[2].UserID)
}

func TestCreditDepositOnce(t *testing.T) {
	l := newTestLedger(t)
	rec := model.DepositRecord{
		Currency:  "btc",
		Amount:    decimal.NewFromInt(250),
		TxHash:    "abc123",
		Timestamp: 1700000000,
	}

	require.NoError(t, l.CreditDeposit("alice", rec))
	err := l.CreditDeposit("alice", rec)
	require.ErrorIs(t, err, ErrAlreadyCredited)

	balance, err := l.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(250)), "redelivery must credit exactly once")

	deposits, err := l.Deposits("alice")
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "abc123", deposits[0].TxHash)
}

func TestCreditDepositSameHashDifferentCurrency(t *testing.T) {
	l := newTestLedger(t)
	rec := model.DepositRecord{Currency: "btc", Amount: decimal.NewFromInt(10), TxHash: "h", Timestamp: 1}

	require.NoError(t, l.CreditDeposit("alice", rec))
	rec.Currency = "ltc"
	require.NoError(t, l.CreditDeposit("alice", rec))

	balance, err := l.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(20)))
}

func TestDepositHistoryCapped(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < depositHistoryLimit+5; i++ {
		rec := model.DepositRecord{
			Currency:  "btc",
			Amount:    decimal.NewFromInt(1),
			TxHash:    fmt.Sprintf("tx-%d", i),
			Timestamp: int64(i),
		}
		require.NoError(t, l.CreditDeposit("alice", rec))
	}

	deposits, err := l.Deposits("alice")
	require.NoError(t, err)
	require.Len(t, deposits, depositHistoryLimit)
	assert.Equal(t, "tx-5", deposits[0].TxHash, "oldest entries are evicted")
	assert.Equal(t, fmt.Sprintf("tx-%d", depositHistoryLimit+4), deposits[len(deposits)-1].TxHash)

	balance, err := l.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(depositHistoryLimit+5)), "eviction never touches the balance")
}

func TestCompleteWithdrawal(t *testing.T) {
	l := newTestLedger(t)
	rec := model.WithdrawalRecord{
		Currency:  "ltc",
		Amount:    decimal.NewFromInt(75),
		TxHash:    model.PendingTxHash,
		Address:   "Laddr1",
		Timestamp: 1700000000,
		ChatID:    42,
		MessageID: 7,
	}
	require.NoError(t, l.AppendWithdrawal("alice", rec))

	found, ok, err := l.WithdrawalByAddress("Laddr1", "ltc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.PendingTxHash, found.TxHash)
	assert.EqualValues(t, 42, found.ChatID)

	require.NoError(t, l.CompleteWithdrawal("Laddr1", "ltc", "realhash"))

	found, ok, err = l.WithdrawalByAddress("Laddr1", "ltc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "realhash", found.TxHash)

	err = l.CompleteWithdrawal("Laddr1", "ltc", "again")
	require.ErrorIs(t, err, ErrNotFound, "no pending record left to fill")
}

func TestWithdrawalByAddressMiss(t *testing.T) {
	l := newTestLedger(t)
	_, ok, err := l.WithdrawalByAddress("nope", "btc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir, testLogger())
	require.NoError(t, l.Credit("alice", decimal.NewFromInt(123)))

	reopened := NewLedger(dir, testLogger())
	balance, err := reopened.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(123)))
}
