package withdraw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipbot/internal/model"
	"flipbot/internal/store"
)

type stubRater struct{ rate decimal.Decimal }

func (r stubRater) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if !r.rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate unavailable")
	}
	return r.rate, nil
}

type stubProcessor struct {
	available int64
	txHash    string
	transfers []string // "currency/address/amount"
	err       error
}

func (p *stubProcessor) AvailableBalance(ctx context.Context, currency string) (int64, error) {
	return p.available, nil
}

func (p *stubProcessor) Transfer(ctx context.Context, currency, address string, amount int64) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.transfers = append(p.transfers, fmt.Sprintf("%s/%s/%d", currency, address, amount))
	return p.txHash, nil
}

type stubMessenger struct {
	prompts    []string
	opsPrompts []string
	sends      []string
	patches    []string
	promptErr  error
}

func (m *stubMessenger) Prompt(userID, text, confirmData, denyData string) (int64, int, error) {
	if m.promptErr != nil {
		return 0, 0, m.promptErr
	}
	m.prompts = append(m.prompts, confirmData)
	return 100, len(m.prompts), nil
}

func (m *stubMessenger) PromptOperations(text, confirmData, denyData string) (int, error) {
	m.opsPrompts = append(m.opsPrompts, confirmData)
	return len(m.opsPrompts), nil
}

func (m *stubMessenger) Send(userID, text string) (int64, int, error) {
	m.sends = append(m.sends, text)
	return 200, len(m.sends), nil
}

func (m *stubMessenger) Patch(chatID int64, messageID int, text string) error {
	m.patches = append(m.patches, text)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type flowFixture struct {
	manager   *Manager
	ledger    *store.Ledger
	processor *stubProcessor
	messenger *stubMessenger
}

func newFlowFixture(t *testing.T, balance int64, processor *stubProcessor) flowFixture {
	t.Helper()
	ledger := store.NewLedger(t.TempDir(), testLogger())
	require.NoError(t, ledger.Credit("alice", decimal.NewFromInt(balance)))
	messenger := &stubMessenger{}
	manager := NewManager(ledger, stubRater{rate: decimal.NewFromInt(60000)}, processor, messenger, []string{"op1"}, testLogger())
	return flowFixture{manager: manager, ledger: ledger, processor: processor, messenger: messenger}
}

func (f flowFixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.ledger.Balance("alice")
	require.NoError(t, err)
	return balance
}

func TestRequestDebitsUpFront(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})

	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)
	assert.Equal(t, StageRequested, req.Stage)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(200)))
	assert.Len(t, f.messenger.prompts, 1)
}

func TestRequestInsufficientFunds(t *testing.T) {
	f := newFlowFixture(t, 100, &stubProcessor{})

	_, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(100)), "failed request must not mutate")
	assert.Empty(t, f.messenger.prompts)
}

func TestRequestPromptFailureRefunds(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})
	f.messenger.promptErr = fmt.Errorf("chat unreachable")

	_, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.Error(t, err)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)), "debit undone when the prompt never lands")
}

func TestRequestValidation(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})

	_, err := f.manager.Request(context.Background(), "alice", "doge", decimal.NewFromInt(10), "addr")
	require.Error(t, err)
	_, err = f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(-1), "addr")
	require.Error(t, err)
	_, err = f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(10), "")
	require.Error(t, err)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)))
}

func TestUserDenyRefunds(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:deny:"+req.ID)
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)))
	require.Len(t, f.messenger.patches, 1)

	_, ok := f.manager.Get(req.ID)
	assert.False(t, ok, "denied requests are dropped")
}

func TestUserConfirmEscalates(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:confirm:"+req.ID)
	require.NoError(t, err)
	assert.Equal(t, StageUserConfirmed, req.Stage)
	assert.Len(t, f.messenger.opsPrompts, 1)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(200)), "balance stays debited while pending")
}

func TestWrongActorRejected(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "mallory", "wd:confirm:"+req.ID)
	require.ErrorIs(t, err, ErrNotAllowed)

	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:confirm:"+req.ID)
	require.NoError(t, err)

	// A non-operator cannot settle.
	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:approve:"+req.ID)
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestOperatorConfirmSettles(t *testing.T) {
	processor := &stubProcessor{available: 1_000_000, txHash: "settled-tx"}
	f := newFlowFixture(t, 500, processor)
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)
	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:confirm:"+req.ID)
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "op1", "wd:approve:"+req.ID)
	require.NoError(t, err)

	// $300 at $60,000 per btc = 0.005 btc = 500,000 satoshi.
	require.Len(t, processor.transfers, 1)
	assert.Equal(t, "btc/bc1qdest/500000", processor.transfers[0])

	history, err := f.ledger.Withdrawals("alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "settled-tx", history[0].TxHash)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(200)), "the debit is the settlement")

	_, ok := f.manager.Get(req.ID)
	assert.False(t, ok)
}

func TestOperatorConfirmEmptyHashRecordsPending(t *testing.T) {
	processor := &stubProcessor{available: 1_000_000, txHash: ""}
	f := newFlowFixture(t, 500, processor)
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)
	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:confirm:"+req.ID)
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "op1", "wd:approve:"+req.ID)
	require.NoError(t, err)

	history, err := f.ledger.Withdrawals("alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.PendingTxHash, history[0].TxHash)
}

func TestOperatorConfirmInsufficientLiquidity(t *testing.T) {
	processor := &stubProcessor{available: 100} // far less than 500,000 satoshi
	f := newFlowFixture(t, 500, processor)
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)
	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:confirm:"+req.ID)
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "op1", "wd:approve:"+req.ID)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(200)), "the debit stays in place")
	assert.Empty(t, processor.transfers)
	got, ok := f.manager.Get(req.ID)
	require.True(t, ok, "the request survives for a retry")
	assert.Equal(t, StageUserConfirmed, got.Stage)
}

func TestOperatorDenyRefunds(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{available: 1_000_000})
	req, err := f.manager.Request(context.Background(), "alice", "btc", decimal.NewFromInt(300), "bc1qdest")
	require.NoError(t, err)
	_, err = f.manager.HandleAction(context.Background(), "alice", "wd:confirm:"+req.ID)
	require.NoError(t, err)

	_, err = f.manager.HandleAction(context.Background(), "op1", "wd:reject:"+req.ID)
	require.NoError(t, err)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(500)), "rejection refunds the debit")
	_, ok := f.manager.Get(req.ID)
	assert.False(t, ok)
}

func TestUnknownRequest(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})
	_, err := f.manager.HandleAction(context.Background(), "alice", "wd:confirm:missing")
	require.ErrorIs(t, err, ErrUnknownRequest)
}

func TestUnrecognizedAction(t *testing.T) {
	f := newFlowFixture(t, 500, &stubProcessor{})
	_, err := f.manager.HandleAction(context.Background(), "alice", "something-else")
	require.Error(t, err)
}
