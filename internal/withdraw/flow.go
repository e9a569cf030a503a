// Package withdraw runs the two-stage human-in-the-loop withdrawal flow:
// the requester confirms or denies their own request, then an operator
// settles or rejects it. The balance is debited optimistically at request
// time.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"flipbot/internal/model"
	"flipbot/internal/notify"
	"flipbot/internal/store"
)

var (
	// ErrInsufficientLiquidity reports that the processor account holds
	// less than the requested amount. The pre-debit stays in place; the
	// operator remediates manually.
	ErrInsufficientLiquidity = errors.New("insufficient operator liquidity")

	// ErrUnknownRequest reports an action against a request id that is not
	// pending.
	ErrUnknownRequest = errors.New("unknown withdrawal request")

	// ErrNotAllowed rejects a control press by the wrong identity.
	ErrNotAllowed = errors.New("not allowed to act on this request")
)

// Stage is a withdrawal request's position in the approval flow.
type Stage string

const (
	StageRequested       Stage = "requested"
	StageUserConfirmed   Stage = "user_confirmed"
	StageOperatorSettled Stage = "operator_settled"
	StageUserDenied      Stage = "user_denied"
	StageOperatorDenied  Stage = "operator_denied"
)

// Request is the ephemeral state of one pending withdrawal.
type Request struct {
	ID       string
	UserID   string
	Currency model.Currency
	Amount   decimal.Decimal
	Address  string
	Stage    Stage

	promptChatID    int64
	promptMessageID int
	noticeChatID    int64
	noticeMessageID int
}

// Rater exposes the oracle's spot rate for smallest-unit conversion.
type Rater interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Transferer is the processor-side settlement surface.
type Transferer interface {
	AvailableBalance(ctx context.Context, currency string) (int64, error)
	Transfer(ctx context.Context, currency, address string, amount int64) (string, error)
}

// Messenger is the chat surface the flow talks through.
type Messenger interface {
	Prompt(userID, text, confirmData, denyData string) (int64, int, error)
	PromptOperations(text, confirmData, denyData string) (int, error)
	Send(userID, text string) (int64, int, error)
	Patch(chatID int64, messageID int, text string) error
}

// Manager owns all in-flight withdrawal requests. Requests have no timeout;
// they persist until someone acts.
type Manager struct {
	mu        sync.Mutex
	requests  map[string]*Request
	ledger    *store.Ledger
	rater     Rater
	processor Transferer
	messenger Messenger
	operators map[string]bool
	log       *slog.Logger
	now       func() time.Time
}

// NewManager wires the flow. operators are the user ids allowed to settle.
func NewManager(ledger *store.Ledger, rater Rater, processor Transferer, messenger Messenger, operators []string, log *slog.Logger) *Manager {
	ops := make(map[string]bool, len(operators))
	for _, id := range operators {
		ops[id] = true
	}
	return &Manager{
		requests:  make(map[string]*Request),
		ledger:    ledger,
		rater:     rater,
		processor: processor,
		messenger: messenger,
		operators: ops,
		log:       log.With(slog.String("component", "withdraw")),
		now:       time.Now,
	}
}

// Request opens a withdrawal: the amount is debited immediately and the
// requester is prompted to confirm. ErrInsufficientFunds aborts with no
// mutation.
func (m *Manager) Request(ctx context.Context, userID, currency string, amount decimal.Decimal, address string) (*Request, error) {
	cur, ok := model.LookupCurrency(currency)
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	if address == "" {
		return nil, fmt.Errorf("destination address required")
	}

	if err := m.ledger.Debit(userID, amount); err != nil {
		return nil, err
	}

	req := &Request{
		ID:       uuid.NewString(),
		UserID:   userID,
		Currency: cur,
		Amount:   amount,
		Address:  address,
		Stage:    StageRequested,
	}

	chatID, messageID, err := m.messenger.Prompt(
		userID,
		notify.WithdrawalRequestText(cur, amount, address),
		"wd:confirm:"+req.ID,
		"wd:deny:"+req.ID,
	)
	if err != nil {
		// The prompt never reached the user; undo the optimistic debit.
		if rerr := m.ledger.Credit(userID, amount); rerr != nil {
			m.log.Error("refund after failed prompt", "user", userID, "error", rerr)
		}
		return nil, fmt.Errorf("send withdrawal prompt: %w", err)
	}
	req.promptChatID = chatID
	req.promptMessageID = messageID

	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()

	m.log.Info("withdrawal requested", "user", userID, "currency", currency, "usd", amount.StringFixed(2))
	return req, nil
}

// Get returns a pending request by id.
func (m *Manager) Get(id string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	return req, ok
}

// HandleAction routes a button press. Data is "wd:<verb>:<request id>"; the
// returned string is the toast shown to the presser.
func (m *Manager) HandleAction(ctx context.Context, actorID, data string) (string, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "wd" {
		return "", fmt.Errorf("unrecognized action %q", data)
	}
	verb, id := parts[1], parts[2]

	switch verb {
	case "confirm":
		return m.UserConfirm(ctx, id, actorID)
	case "deny":
		return m.UserDeny(ctx, id, actorID)
	case "approve":
		return m.OperatorConfirm(ctx, id, actorID)
	case "reject":
		return m.OperatorDeny(ctx, id, actorID)
	default:
		return "", fmt.Errorf("unrecognized action %q", data)
	}
}

func (m *Manager) take(id string, want Stage) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrUnknownRequest
	}
	if req.Stage != want {
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Stage, ErrUnknownRequest)
	}
	return req, nil
}

func (m *Manager) finish(req *Request, stage Stage) {
	m.mu.Lock()
	req.Stage = stage
	delete(m.requests, req.ID)
	m.mu.Unlock()
}

// UserConfirm moves a request to the operator stage: the prompt is replaced
// with a processing notice and an approval request is posted to the
// operations channel.
func (m *Manager) UserConfirm(ctx context.Context, id, actorID string) (string, error) {
	req, err := m.take(id, StageRequested)
	if err != nil {
		return "This request is no longer active.", err
	}
	if actorID != req.UserID {
		return "Only the requester can act on this.", ErrNotAllowed
	}

	chatID, messageID, err := m.messenger.Send(req.UserID, notify.WithdrawalProcessingText())
	if err != nil {
		m.log.Error("send processing notice", "request", id, "error", err)
	} else {
		req.noticeChatID = chatID
		req.noticeMessageID = messageID
	}

	if _, err := m.messenger.PromptOperations(
		notify.WithdrawalApprovalText(req.UserID, req.Currency, req.Amount, req.Address, req.ID),
		"wd:approve:"+req.ID,
		"wd:reject:"+req.ID,
	); err != nil {
		return "Could not reach the operators, try again.", fmt.Errorf("post approval request: %w", err)
	}

	m.mu.Lock()
	req.Stage = StageUserConfirmed
	m.mu.Unlock()
	return "Withdrawal sent for operator approval.", nil
}

// UserDeny cancels a request and refunds the pre-debited amount.
func (m *Manager) UserDeny(ctx context.Context, id, actorID string) (string, error) {
	req, err := m.take(id, StageRequested)
	if err != nil {
		return "This request is no longer active.", err
	}
	if actorID != req.UserID {
		return "Only the requester can act on this.", ErrNotAllowed
	}

	if err := m.ledger.Credit(req.UserID, req.Amount); err != nil {
		return "Refund failed, contact support.", fmt.Errorf("refund denied withdrawal: %w", err)
	}
	if err := m.messenger.Patch(req.promptChatID, req.promptMessageID, notify.WithdrawalUserDeniedText()); err != nil {
		m.log.Error("patch denied prompt", "request", id, "error", err)
	}
	m.finish(req, StageUserDenied)
	m.log.Info("withdrawal denied by requester", "request", id)
	return "Withdrawal canceled and refunded.", nil
}

// OperatorConfirm settles a request: spot rate → smallest units → liquidity
// check → transfer → withdrawal record → patch. ErrInsufficientLiquidity
// keeps the request at the operator stage and does not reverse the debit.
func (m *Manager) OperatorConfirm(ctx context.Context, id, actorID string) (string, error) {
	req, err := m.take(id, StageUserConfirmed)
	if err != nil {
		return "This request is no longer active.", err
	}
	if !m.operators[actorID] {
		return "Operator approval only.", ErrNotAllowed
	}

	rate, err := m.rater.Rate(ctx, req.Currency.Code)
	if err != nil {
		return "Spot rate unavailable, try again shortly.", fmt.Errorf("fetch rate: %w", err)
	}
	units := req.Amount.Div(rate).Mul(req.Currency.UnitDivisor()).IntPart()

	available, err := m.processor.AvailableBalance(ctx, req.Currency.Code)
	if err != nil {
		return "Processor unreachable, try again shortly.", fmt.Errorf("fetch liquidity: %w", err)
	}
	if available < units {
		m.log.Warn("insufficient liquidity", "request", id,
			"available", available, "requested", units, "currency", req.Currency.Code)
		return fmt.Sprintf("Not enough funds: available %d, requested %d smallest units. Balance stays debited; remediate manually.",
			available, units), ErrInsufficientLiquidity
	}

	txHash, err := m.processor.Transfer(ctx, req.Currency.Code, req.Address, units)
	if err != nil {
		return "Transfer failed, see logs.", fmt.Errorf("transfer: %w", err)
	}
	if txHash == "" {
		txHash = model.PendingTxHash
	}

	rec := model.WithdrawalRecord{
		Currency:  req.Currency.Code,
		Amount:    req.Amount,
		TxHash:    txHash,
		Address:   req.Address,
		Timestamp: m.now().Unix(),
		ChatID:    req.noticeChatID,
		MessageID: req.noticeMessageID,
	}
	if err := m.ledger.AppendWithdrawal(req.UserID, rec); err != nil {
		// The transfer went out; the record failure must not look like a
		// failed settlement.
		m.log.Error("append withdrawal record", "request", id, "error", err)
	}

	if req.noticeChatID != 0 {
		if err := m.messenger.Patch(req.noticeChatID, req.noticeMessageID,
			notify.WithdrawalSentText(req.Currency, req.Amount, txHash)); err != nil {
			m.log.Error("patch settled notice", "request", id, "error", err)
		}
	}
	m.finish(req, StageOperatorSettled)
	m.log.Info("withdrawal settled", "request", id, "tx", txHash)
	return "Withdrawal settled.", nil
}

// OperatorDeny rejects a request, refunds the pre-debited amount and patches
// the requester's notice.
func (m *Manager) OperatorDeny(ctx context.Context, id, actorID string) (string, error) {
	req, err := m.take(id, StageUserConfirmed)
	if err != nil {
		return "This request is no longer active.", err
	}
	if !m.operators[actorID] {
		return "Operator approval only.", ErrNotAllowed
	}

	if err := m.ledger.Credit(req.UserID, req.Amount); err != nil {
		return "Refund failed, see logs.", fmt.Errorf("refund rejected withdrawal: %w", err)
	}
	if req.noticeChatID != 0 {
		if err := m.messenger.Patch(req.noticeChatID, req.noticeMessageID, notify.WithdrawalOperatorDeniedText()); err != nil {
			m.log.Error("patch rejected notice", "request", id, "error", err)
		}
	}
	m.finish(req, StageOperatorDenied)
	m.log.Info("withdrawal rejected by operator", "request", id, "operator", actorID)
	return "Withdrawal rejected and refunded.", nil
}
