// Package payments is the outbound client for the payment processor's
// account API: deposit address generation, account liquidity and transfers.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to the processor's HTTP API for one account.
type Client struct {
	baseURL     string
	account     string
	transferKey string
	client      *http.Client
	log         *slog.Logger
}

// NewClient builds a processor client. transferKey authorizes outbound
// transfers and is never logged.
func NewClient(baseURL, account, transferKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		account:     account,
		transferKey: transferKey,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log.With(slog.String("component", "payments")),
	}
}

type addressResponse struct {
	Address string `json:"address"`
}

// GenerateAddress requests a fresh deposit address for a currency.
func (c *Client) GenerateAddress(ctx context.Context, currency string) (string, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/addresses", c.baseURL, c.account)
	payload, err := json.Marshal(map[string]string{"currency": currency})
	if err != nil {
		return "", fmt.Errorf("encode address request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build address request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request address: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("address generation returned status %d", resp.StatusCode)
	}

	var body addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parse address response: %w", err)
	}
	if body.Address == "" {
		return "", fmt.Errorf("address missing from response for %s", currency)
	}
	c.log.Info("generated deposit address", "currency", currency)
	return body.Address, nil
}

type balanceResponse struct {
	Balance []struct {
		Currency  string `json:"currency"`
		Available int64  `json:"available"`
	} `json:"balance"`
}

// AvailableBalance returns the operator-held liquidity for a currency in
// smallest units.
func (c *Client) AvailableBalance(ctx context.Context, currency string) (int64, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balance", c.baseURL, c.account)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build balance request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request balance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance returned status %d", resp.StatusCode)
	}

	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("parse balance response: %w", err)
	}
	for _, item := range body.Balance {
		if item.Currency == currency {
			return item.Available, nil
		}
	}
	return 0, nil
}

type transferDestination struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type transferRequest struct {
	Currency     string                `json:"currency"`
	TransferKey  string                `json:"transfer-key"`
	Destinations []transferDestination `json:"destinations"`
	Fee          string                `json:"fee"`
	SubtractFee  bool                  `json:"subtract-fee-from-amount"`
}

type transferResponse struct {
	Txs []string `json:"txs"`
}

// Transfer sends a smallest-unit amount to a destination address. The
// returned hash is empty when the processor's response carries no transaction
// id; the caller records the pending sentinel in that case.
func (c *Client) Transfer(ctx context.Context, currency, address string, amount int64) (string, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/transfer", c.baseURL, c.account)
	payload, err := json.Marshal(transferRequest{
		Currency:     currency,
		TransferKey:  c.transferKey,
		Destinations: []transferDestination{{Address: address, Amount: amount}},
		Fee:          "normal",
		SubtractFee:  true,
	})
	if err != nil {
		return "", fmt.Errorf("encode transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transfer returned status %d: %s", resp.StatusCode, detail)
	}

	var body transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parse transfer response: %w", err)
	}
	if len(body.Txs) == 0 {
		c.log.Warn("transfer accepted without transaction id", "currency", currency)
		return "", nil
	}
	c.log.Info("transfer sent", "currency", currency, "tx", body.Txs[0])
	return body.Txs[0], nil
}
