package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"flipbot/internal/model"
)

// Message bodies for deposit and withdrawal notices. Kept together so the
// user-facing wording lives in one place.

// DepositPendingText announces a 0-confirmation deposit.
func DepositPendingText(cur model.Currency, usd decimal.Decimal, txHash string) string {
	return fmt.Sprintf(
		"⏳ *Pending Deposit*\nWe have detected a pending deposit from your %s address.\nAmount: $%s\nConfirmations: 0/1\n[View on explorer](%s)\nThis transaction will be automatically credited once confirmed.",
		cur.Name, usd.StringFixed(2), cur.ExplorerURL(txHash))
}

// DepositConfirmedText announces a 1-confirmation deposit.
func DepositConfirmedText(cur model.Currency, usd decimal.Decimal, txHash string) string {
	return fmt.Sprintf(
		"✅ *Transaction Confirmed*\nYour %s deposit has been confirmed.\nAmount: $%s\nConfirmations: 1/1\n[View on explorer](%s)",
		cur.Name, usd.StringFixed(2), cur.ExplorerURL(txHash))
}

// DepositBroadcastText is the operations-channel notice for a credited
// deposit.
func DepositBroadcastText(userID string, cur model.Currency, usd decimal.Decimal) string {
	return fmt.Sprintf(
		"💰 *New Deposit Confirmed!*\nUser: %s\nAmount: $%s\nCurrency: %s\nDeposit successfully credited.",
		userID, usd.StringFixed(2), cur.Code)
}

// WithdrawalRequestText asks the requester to confirm a withdrawal.
func WithdrawalRequestText(cur model.Currency, usd decimal.Decimal, address string) string {
	return fmt.Sprintf(
		"*Withdrawal Request*\nCurrency: %s\nAmount: *$%s*\nAddress: `%s`\n\nPlease confirm or deny this request.",
		cur.Name, usd.StringFixed(2), address)
}

// WithdrawalProcessingText replaces the prompt once the requester confirms.
func WithdrawalProcessingText() string {
	return "⌛ Withdrawal is processing..."
}

// WithdrawalApprovalText asks an operator to settle a withdrawal.
func WithdrawalApprovalText(userID string, cur model.Currency, usd decimal.Decimal, address, requestID string) string {
	return fmt.Sprintf(
		"*New Withdrawal Request*\nUser: %s\nCurrency: %s\nAmount: $%s\nAddress: `%s`\nRequest ID: %s\nOperator confirmation required.",
		userID, cur.Code, usd.StringFixed(2), address, requestID)
}

// WithdrawalSentText patches the processing notice after a successful
// transfer.
func WithdrawalSentText(cur model.Currency, usd decimal.Decimal, txHash string) string {
	if txHash == model.PendingTxHash {
		return fmt.Sprintf(
			"✅ Withdrawal confirmed! Your %s payment of *$%s* has been sent. The transaction link will follow shortly.",
			cur.Name, usd.StringFixed(2))
	}
	return fmt.Sprintf(
		"✅ Withdrawal confirmed! Your %s payment of *$%s* has been sent successfully.\n[View transaction](%s)",
		cur.Name, usd.StringFixed(2), cur.ExplorerURL(txHash))
}

// WithdrawalPatchedText replaces a processing notice once the outbound
// payment is seen on chain.
func WithdrawalPatchedText(cur model.Currency, txHash string) string {
	return fmt.Sprintf(
		"✅ Your %s payment has been sent successfully. Here's the [TXID](%s).",
		cur.Name, cur.ExplorerURL(txHash))
}

// WithdrawalUserDeniedText replaces the prompt when the requester cancels.
func WithdrawalUserDeniedText() string {
	return "❌ Withdrawal request canceled. Your balance has been refunded."
}

// WithdrawalOperatorDeniedText replaces the processing notice when an
// operator rejects the request.
func WithdrawalOperatorDeniedText() string {
	return "❌ Withdrawal canceled by an operator. Your balance has been refunded."
}
