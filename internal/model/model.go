package model

import (
	"github.com/shopspring/decimal"
)

// Response is the common JSON envelope returned by all HTTP endpoints.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CallbackEvent is a payment-processor confirmation callback. It is consumed
// once per pipeline run and never persisted.
type CallbackEvent struct {
	TxHash        string          `json:"input_transaction_hash"`
	Confirmations int             `json:"confirmations"`
	Address       string          `json:"input_address"`
	Value         decimal.Decimal `json:"value"`
	Currency      string          `json:"currency"`
}

// PendingTxHash marks a withdrawal whose transfer response did not carry a
// transaction id. The callback pipeline patches it in later.
const PendingTxHash = "pending"

// DepositRecord is one credited deposit in a user's history.
type DepositRecord struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"tx_hash"`
	Timestamp int64           `json:"timestamp"`
}

// WithdrawalRecord is one settled (or settling) withdrawal. Address, chat and
// message ids let the callback pipeline patch the original notice with the
// final transaction link.
type WithdrawalRecord struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"tx_hash"`
	Address   string          `json:"input_address"`
	Timestamp int64           `json:"timestamp"`
	ChatID    int64           `json:"chat_id,omitempty"`
	MessageID int             `json:"message_id,omitempty"`
}

// RateLimitConfig tunes the per-IP token bucket on the webhook server.
type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second"`
	BurstSize         int `json:"burst_size"`
}
