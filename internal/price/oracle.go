// Package price converts raw on-chain amounts into the quote currency using
// spot rates from an external price service.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"flipbot/internal/model"
)

var (
	// ErrUnknownCurrency rejects a currency code with no table entry.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrRateUnavailable reports that no usable spot rate could be fetched.
	// Callers must abandon the conversion rather than credit zero value.
	ErrRateUnavailable = errors.New("spot rate unavailable")
)

// rateBucket is the fixed window within which a fetched spot rate is reused.
// All conversions inside one bucket see the same rate, which bounds external
// call volume and keeps concurrent conversions audit-consistent.
const rateBucket = 60 * time.Second

// Oracle fetches and caches spot rates per currency.
type Oracle struct {
	mu      sync.Mutex
	baseURL string
	client  *http.Client
	log     *slog.Logger
	now     func() time.Time

	rates   map[string]decimal.Decimal
	buckets map[string]int64
}

// New builds an oracle against the price service at baseURL.
func New(baseURL string, log *slog.Logger) *Oracle {
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With(slog.String("component", "price")),
		now:     time.Now,
		rates:   make(map[string]decimal.Decimal),
		buckets: make(map[string]int64),
	}
}

// Rate returns the quote-currency spot rate for one whole coin. A rate is
// fetched at most once per bucket per currency.
func (o *Oracle) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	cur, ok := model.LookupCurrency(currency)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	bucket := o.now().Unix() / int64(rateBucket.Seconds())
	if o.buckets[currency] == bucket {
		if rate := o.rates[currency]; rate.IsPositive() {
			return rate, nil
		}
		// A failed fetch is not cached for the rest of the bucket; retry.
	}

	rate, err := o.fetch(ctx, cur)
	if err != nil {
		o.log.Error("fetch spot rate", "currency", currency, "error", err)
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: zero rate for %s", ErrRateUnavailable, currency)
	}
	o.rates[currency] = rate
	o.buckets[currency] = bucket
	return rate, nil
}

// Quote converts a raw smallest-unit amount into the quote currency.
func (o *Oracle) Quote(ctx context.Context, currency string, raw decimal.Decimal) (decimal.Decimal, error) {
	cur, ok := model.LookupCurrency(currency)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	rate, err := o.Rate(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Div(cur.UnitDivisor()).Mul(rate), nil
}

func (o *Oracle) fetch(ctx context.Context, cur model.Currency) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v3/simple/price?%s", o.baseURL, url.Values{
		"ids":           {cur.AssetName},
		"vs_currencies": {"usd"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request price service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price service returned status %d", resp.StatusCode)
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("parse price response: %w", err)
	}
	rate, ok := body[cur.AssetName]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("no usd rate for %s in response", cur.AssetName)
	}
	return rate, nil
}
