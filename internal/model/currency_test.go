package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCurrency(t *testing.T) {
	cur, ok := LookupCurrency("btc")
	require.True(t, ok)
	assert.Equal(t, "Bitcoin", cur.Name)

	_, ok = LookupCurrency("doge")
	assert.False(t, ok)
}

func TestUnitDivisor(t *testing.T) {
	btc, _ := LookupCurrency("btc")
	assert.True(t, btc.UnitDivisor().Equal(decimal.NewFromInt(100_000_000)))

	usdt, _ := LookupCurrency("usdt@trx")
	assert.True(t, usdt.UnitDivisor().Equal(decimal.NewFromInt(1_000_000)))
}

func TestExplorerURL(t *testing.T) {
	ltc, _ := LookupCurrency("ltc")
	assert.Equal(t, "https://blockchair.com/litecoin/transaction/abc", ltc.ExplorerURL("abc"))
}
