package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency describes one supported cryptocurrency: the code used by the
// payment processor, the asset name used by the price service and the
// explorer, and the smallest-unit exponent of the chain.
type Currency struct {
	Code         string
	Name         string
	AssetName    string
	UnitExponent int32
}

var currencies = map[string]Currency{
	"btc":      {Code: "btc", Name: "Bitcoin", AssetName: "bitcoin", UnitExponent: 8},
	"ltc":      {Code: "ltc", Name: "Litecoin", AssetName: "litecoin", UnitExponent: 8},
	"eth":      {Code: "eth", Name: "Ethereum", AssetName: "ethereum", UnitExponent: 18},
	"usdt@trx": {Code: "usdt@trx", Name: "Tether (TRC-20)", AssetName: "tether", UnitExponent: 6},
}

// LookupCurrency returns the currency table entry for a processor code.
func LookupCurrency(code string) (Currency, bool) {
	c, ok := currencies[code]
	return c, ok
}

// UnitDivisor is the number of smallest units per whole coin.
func (c Currency) UnitDivisor() decimal.Decimal {
	return decimal.New(1, c.UnitExponent)
}

// ExplorerURL links a transaction on the public block explorer.
func (c Currency) ExplorerURL(txHash string) string {
	return fmt.Sprintf("https://blockchair.com/%s/transaction/%s", c.AssetName, txHash)
}
