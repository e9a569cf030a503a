package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"flipbot/internal/model"
)

// depositHistoryLimit caps each user's deposit history at the most recent
// entries; the oldest are evicted on append.
const depositHistoryLimit = 20

// Ledger is the durable balance and transaction-history store. State lives in
// flat JSON files keyed by user id and is rewritten in full on every
// mutation. Reads go through a time-boxed in-memory cache; every
// read-modify-write cycle runs under a single mutex so interleaved mutations
// cannot lose updates.
type Ledger struct {
	mu  sync.Mutex
	dir string
	log *slog.Logger

	balances    map[string]decimal.Decimal
	deposits    map[string][]model.DepositRecord
	withdrawals map[string][]model.WithdrawalRecord
	processed   map[string]int64

	balancesAt    time.Time
	depositsAt    time.Time
	withdrawalsAt time.Time
	processedAt   time.Time
}

// NewLedger opens the ledger over the given data directory.
func NewLedger(dir string, log *slog.Logger) *Ledger {
	return &Ledger{
		dir: dir,
		log: log.With(slog.String("component", "ledger")),
	}
}

func (l *Ledger) balancesPath() string    { return filepath.Join(l.dir, "balances.json") }
func (l *Ledger) depositsPath() string    { return filepath.Join(l.dir, "deposits.json") }
func (l *Ledger) withdrawalsPath() string { return filepath.Join(l.dir, "withdrawals.json") }
func (l *Ledger) processedPath() string   { return filepath.Join(l.dir, "processed.json") }

func (l *Ledger) loadBalances() error {
	if l.balances != nil && fresh(l.balancesAt) {
		return nil
	}
	m := map[string]decimal.Decimal{}
	if err := readJSON(l.balancesPath(), &m); err != nil {
		return err
	}
	l.balances = m
	l.balancesAt = time.Now()
	return nil
}

func (l *Ledger) loadDeposits() error {
	if l.deposits != nil && fresh(l.depositsAt) {
		return nil
	}
	m := map[string][]model.DepositRecord{}
	if err := readJSON(l.depositsPath(), &m); err != nil {
		return err
	}
	l.deposits = m
	l.depositsAt = time.Now()
	return nil
}

func (l *Ledger) loadWithdrawals() error {
	if l.withdrawals != nil && fresh(l.withdrawalsAt) {
		return nil
	}
	m := map[string][]model.WithdrawalRecord{}
	if err := readJSON(l.withdrawalsPath(), &m); err != nil {
		return err
	}
	l.withdrawals = m
	l.withdrawalsAt = time.Now()
	return nil
}

func (l *Ledger) loadProcessed() error {
	if l.processed != nil && fresh(l.processedAt) {
		return nil
	}
	m := map[string]int64{}
	if err := readJSON(l.processedPath(), &m); err != nil {
		return err
	}
	l.processed = m
	l.processedAt = time.Now()
	return nil
}

func (l *Ledger) flushBalances() error {
	if err := writeJSON(l.balancesPath(), l.balances); err != nil {
		return err
	}
	l.balancesAt = time.Now()
	return nil
}

func (l *Ledger) flushDeposits() error {
	if err := writeJSON(l.depositsPath(), l.deposits); err != nil {
		return err
	}
	l.depositsAt = time.Now()
	return nil
}

func (l *Ledger) flushWithdrawals() error {
	if err := writeJSON(l.withdrawalsPath(), l.withdrawals); err != nil {
		return err
	}
	l.withdrawalsAt = time.Now()
	return nil
}

func (l *Ledger) flushProcessed() error {
	if err := writeJSON(l.processedPath(), l.processed); err != nil {
		return err
	}
	l.processedAt = time.Now()
	return nil
}

// Balance returns the user's quote-currency balance; zero for unknown users.
func (l *Ledger) Balance(id string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadBalances(); err != nil {
		return decimal.Zero, err
	}
	return l.balances[id], nil
}

// Entry is one row of the balances mapping.
type Entry struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Balances returns every account sorted by balance, highest first.
func (l *Ledger) Balances() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadBalances(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(l.balances))
	for id, bal := range l.balances {
		entries = append(entries, Entry{UserID: id, Balance: bal})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Balance.Equal(entries[j].Balance) {
			return entries[i].Balance.GreaterThan(entries[j].Balance)
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// Credit adds amount to the user's balance.
func (l *Ledger) Credit(id string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(id, amount)
}

func (l *Ledger) credit(id string, amount decimal.Decimal) error {
	if err := l.loadBalances(); err != nil {
		return err
	}
	l.balances[id] = l.balances[id].Add(amount)
	return l.flushBalances()
}

// Debit subtracts amount from the user's balance. It fails with
// ErrInsufficientFunds and mutates nothing when the balance is short.
func (l *Ledger) Debit(id string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(id, amount)
}

func (l *Ledger) debit(id string, amount decimal.Decimal) error {
	if err := l.loadBalances(); err != nil {
		return err
	}
	if l.balances[id].LessThan(amount) {
		return fmt.Errorf("debit %s for %s: %w", id, amount, ErrInsufficientFunds)
	}
	l.balances[id] = l.balances[id].Sub(amount)
	return l.flushBalances()
}

// Transfer moves amount from one user to another in a single critical
// section. A short balance aborts with ErrInsufficientFunds and no mutation.
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadBalances(); err != nil {
		return err
	}
	if l.balances[from].LessThan(amount) {
		return fmt.Errorf("transfer from %s: %w", from, ErrInsufficientFunds)
	}
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return l.flushBalances()
}

// SetBalance overwrites a user's balance. Operator tooling only.
func (l *Ledger) SetBalance(id string, balance decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadBalances(); err != nil {
		return err
	}
	l.balances[id] = balance
	return l.flushBalances()
}

// CreditDeposit applies a confirmed deposit exactly once: it checks the
// processed-transaction set for the record's (tx hash, currency) pair, then
// credits the balance, appends the deposit record and marks the pair
// processed, all inside one critical section. A redelivered confirmation
// returns ErrAlreadyCredited without mutating anything.
func (l *Ledger) CreditDeposit(id string, rec model.DepositRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadProcessed(); err != nil {
		return err
	}
	key := processedKey(rec.TxHash, rec.Currency)
	if _, done := l.processed[key]; done {
		return fmt.Errorf("deposit %s: %w", key, ErrAlreadyCredited)
	}
	if err := l.loadBalances(); err != nil {
		return err
	}
	if err := l.loadDeposits(); err != nil {
		return err
	}

	l.balances[id] = l.balances[id].Add(rec.Amount)
	history := append(l.deposits[id], rec)
	if len(history) > depositHistoryLimit {
		history = history[len(history)-depositHistoryLimit:]
	}
	l.deposits[id] = history
	l.processed[key] = rec.Timestamp

	if err := l.flushBalances(); err != nil {
		return err
	}
	if err := l.flushDeposits(); err != nil {
		return err
	}
	return l.flushProcessed()
}

func processedKey(txHash, currency string) string {
	return txHash + ":" + currency
}

// Deposits returns the user's recent deposit history, newest last.
func (l *Ledger) Deposits(id string) ([]model.DepositRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadDeposits(); err != nil {
		return nil, err
	}
	return append([]model.DepositRecord(nil), l.deposits[id]...), nil
}

// AppendWithdrawal appends a settled withdrawal to the user's history.
func (l *Ledger) AppendWithdrawal(id string, rec model.WithdrawalRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadWithdrawals(); err != nil {
		return err
	}
	l.withdrawals[id] = append(l.withdrawals[id], rec)
	return l.flushWithdrawals()
}

// Withdrawals returns the user's withdrawal history, newest last.
func (l *Ledger) Withdrawals(id string) ([]model.WithdrawalRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadWithdrawals(); err != nil {
		return nil, err
	}
	return append([]model.WithdrawalRecord(nil), l.withdrawals[id]...), nil
}

// WithdrawalByAddress finds the withdrawal record bound to a destination
// address and currency. The callback pipeline uses it to patch the original
// notice once the outbound payment is seen on chain.
func (l *Ledger) WithdrawalByAddress(address, currency string) (model.WithdrawalRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadWithdrawals(); err != nil {
		return model.WithdrawalRecord{}, false, err
	}
	for _, history := range l.withdrawals {
		for _, rec := range history {
			if rec.Address == address && rec.Currency == currency {
				return rec, true, nil
			}
		}
	}
	return model.WithdrawalRecord{}, false, nil
}

// CompleteWithdrawal fills in the transaction hash of a withdrawal that was
// recorded with the pending sentinel.
func (l *Ledger) CompleteWithdrawal(address, currency, txHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadWithdrawals(); err != nil {
		return err
	}
	for id, history := range l.withdrawals {
		for i, rec := range history {
			if rec.Address == address && rec.Currency == currency && rec.TxHash == model.PendingTxHash {
				l.withdrawals[id][i].TxHash = txHash
				return l.flushWithdrawals()
			}
		}
	}
	return ErrNotFound
}
