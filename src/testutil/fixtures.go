package testutil

import (
	"testing"
	"time"

	"tokenexchange/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Well-known test accounts.
const (
	AddrAlice     = "0x1111111111111111111111111111111111111111"
	AddrBob       = "0x2222222222222222222222222222222222222222"
	AddrCarol     = "0x3333333333333333333333333333333333333333"
	AddrCustodian = "0x9999999999999999999999999999999999999999"
	AddrExchange  = "0x4444444444444444444444444444444444444444"
	AddrToken     = "0x5555555555555555555555555555555555555555"
	AddrCurrency  = "0x6666666666666666666666666666666666666666"
)

func D(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func LedgerID(id uint64) *uint64 { return &id }

// Market returns an active market fixture with fallback enabled.
func Market(assetID string) model.Market {
	return model.Market{
		AssetID:          assetID,
		Name:             "Test " + assetID,
		ExchangeAddress:  AddrExchange,
		TokenAddress:     AddrToken,
		CurrencyAddress:  AddrCurrency,
		TokenDecimals:    18,
		CurrencyDecimals: 6,
		FallbackEnabled:  true,
		Active:           true,
	}
}

// Order builds an open order fixture.
func Order(assetID string, side model.OrderSide, price, qty string, owner string, ledgerID *uint64, createdAt time.Time) model.Order {
	return model.Order{
		LedgerOrderID:     ledgerID,
		AssetID:           assetID,
		Side:              side,
		QuantityRemaining: D(qty),
		LimitPrice:        D(price),
		OwnerAddress:      owner,
		Status:            model.OrderStatusOpen,
		CreatedAt:         createdAt,
	}
}

// Seed inserts rows and fails the test on error.
func Seed(t *testing.T, db *gorm.DB, rows ...interface{}) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}
}
