// Package pipeline reconciles payment-processor confirmation callbacks
// against the ledger: it resolves the depositing user, applies the
// confirmation-count policy, credits exactly once per transaction and emits
// notifications. Steps are independent effects; one failing never rolls back
// or suppresses another.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"flipbot/internal/model"
	"flipbot/internal/notify"
	"flipbot/internal/store"
)

// ErrValidation rejects a callback with missing required fields. The webhook
// handler reports it; nothing is retried.
var ErrValidation = errors.New("invalid callback")

// Quoter converts a raw smallest-unit amount to the quote currency.
type Quoter interface {
	Quote(ctx context.Context, currency string, raw decimal.Decimal) (decimal.Decimal, error)
}

// Notifier delivers deposit notices and patches withdrawal messages.
type Notifier interface {
	DirectMessage(userID, text string) error
	Announce(text string) error
	Patch(chatID int64, messageID int, text string) error
}

// Pipeline processes one callback event at a time per call; calls are safe
// to run concurrently because all shared state sits behind the stores.
type Pipeline struct {
	ledger  *store.Ledger
	wallets *store.AddressBook
	oracle  Quoter
	notify  Notifier
	log     *slog.Logger
	now     func() time.Time
}

// New wires a pipeline.
func New(ledger *store.Ledger, wallets *store.AddressBook, oracle Quoter, notifier Notifier, log *slog.Logger) *Pipeline {
	return &Pipeline{
		ledger:  ledger,
		wallets: wallets,
		oracle:  oracle,
		notify:  notifier,
		log:     log.With(slog.String("component", "pipeline")),
		now:     time.Now,
	}
}

// Validate checks the callback shape. The webhook handler calls this before
// acknowledging.
func Validate(ev model.CallbackEvent) error {
	switch {
	case ev.TxHash == "":
		return errors.Join(ErrValidation, errors.New("missing input_transaction_hash"))
	case ev.Address == "":
		return errors.Join(ErrValidation, errors.New("missing input_address"))
	case ev.Currency == "":
		return errors.Join(ErrValidation, errors.New("missing currency"))
	case !ev.Value.IsPositive():
		return errors.Join(ErrValidation, errors.New("missing or non-positive value"))
	case ev.Confirmations < 0:
		return errors.Join(ErrValidation, errors.New("negative confirmations"))
	}
	return nil
}

// Process runs the reconciliation chain for one callback. It never returns
// an error: every stage catches and logs its own failure so that sibling
// stages still run.
func (p *Pipeline) Process(ctx context.Context, ev model.CallbackEvent) {
	log := p.log.With(
		slog.String("tx", ev.TxHash),
		slog.String("currency", ev.Currency),
		slog.Int("confirmations", ev.Confirmations),
	)

	if err := Validate(ev); err != nil {
		log.Warn("dropping invalid callback", "error", err)
		return
	}

	cur, known := model.LookupCurrency(ev.Currency)
	if known {
		p.reconcileDeposit(ctx, ev, cur, log)
	} else {
		log.Warn("callback for unsupported currency")
	}

	// The processor reuses the same callback shape for outbound payments:
	// if a withdrawal is bound to this address, patch its notice with the
	// transaction link. Runs regardless of the deposit outcome.
	if known {
		p.patchWithdrawalMessage(ev, cur, log)
	}
}

func (p *Pipeline) reconcileDeposit(ctx context.Context, ev model.CallbackEvent, cur model.Currency, log *slog.Logger) {
	userID, found, err := p.wallets.Resolve(ev.Address)
	if err != nil {
		log.Error("resolve deposit address", "error", err)
		return
	}
	if !found {
		// Not an error: callbacks for foreign addresses are a no-op.
		log.Debug("callback for unowned address", "address", ev.Address)
		return
	}
	log = log.With(slog.String("user", userID))

	// Pending and confirmed notices only; nothing above one confirmation.
	if ev.Confirmations <= 1 {
		if err := p.notifyUser(ctx, userID, ev, cur); err != nil {
			log.Error("notify depositor", "error", err)
		}
	}

	if ev.Confirmations == 1 {
		if err := p.creditDeposit(ctx, userID, ev, cur, log); err != nil {
			log.Error("credit deposit", "error", err)
		}
	}
}

func (p *Pipeline) notifyUser(ctx context.Context, userID string, ev model.CallbackEvent, cur model.Currency) error {
	usd, err := p.oracle.Quote(ctx, ev.Currency, ev.Value)
	if err != nil {
		return err
	}
	text := notify.DepositPendingText(cur, usd, ev.TxHash)
	if ev.Confirmations == 1 {
		text = notify.DepositConfirmedText(cur, usd, ev.TxHash)
	}
	return p.notify.DirectMessage(userID, text)
}

func (p *Pipeline) creditDeposit(ctx context.Context, userID string, ev model.CallbackEvent, cur model.Currency, log *slog.Logger) error {
	usd, err := p.oracle.Quote(ctx, ev.Currency, ev.Value)
	if err != nil {
		// Never credit zero value on a rate failure; the processed set is
		// untouched, so a redelivery after recovery credits normally.
		return err
	}

	rec := model.DepositRecord{
		Currency:  ev.Currency,
		Amount:    usd,
		TxHash:    ev.TxHash,
		Timestamp: p.now().Unix(),
	}
	if err := p.ledger.CreditDeposit(userID, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyCredited) {
			log.Info("duplicate confirmation ignored")
			return nil
		}
		return err
	}
	log.Info("deposit credited", "usd", usd.StringFixed(2))

	if err := p.notify.Announce(notify.DepositBroadcastText(userID, cur, usd)); err != nil {
		// Broadcast failure must not undo the credit.
		log.Error("broadcast deposit", "error", err)
	}
	return nil
}

func (p *Pipeline) patchWithdrawalMessage(ev model.CallbackEvent, cur model.Currency, log *slog.Logger) {
	rec, found, err := p.ledger.WithdrawalByAddress(ev.Address, ev.Currency)
	if err != nil {
		log.Error("look up withdrawal binding", "error", err)
		return
	}
	if !found || rec.ChatID == 0 || rec.MessageID == 0 {
		return
	}

	if rec.TxHash == model.PendingTxHash {
		if err := p.ledger.CompleteWithdrawal(ev.Address, ev.Currency, ev.TxHash); err != nil {
			log.Error("record withdrawal tx hash", "error", err)
		}
	}
	if err := p.notify.Patch(rec.ChatID, rec.MessageID, notify.WithdrawalPatchedText(cur, ev.TxHash)); err != nil {
		log.Error("patch withdrawal notice", "error", err)
		return
	}
	log.Info("withdrawal notice patched")
}
