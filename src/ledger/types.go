package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"tokenexchange/src/model"
)

var (
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrOrderNotFound       = errors.New("ledger order not found")
	ErrReceiptNotFound     = errors.New("transaction receipt not found")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrNoSigner            = errors.New("no signing key configured")
)

// OrderState mirrors the exchange contract's status enum.
type OrderState uint8

const (
	OrderStateOpen OrderState = iota
	OrderStateFilled
	OrderStateCancelled
)

func (s OrderState) String() string {
	switch s {
	case OrderStateOpen:
		return "open"
	case OrderStateFilled:
		return "filled"
	case OrderStateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Token is an ERC-20 contract and its decimals.
type Token struct {
	Address  string
	Decimals int32
}

// Market addresses the contracts of one asset on the ledger.
type Market struct {
	AssetID  string
	Exchange string
	Token    Token
	Currency Token
}

func MarketFromModel(m *model.Market) Market {
	return Market{
		AssetID:  m.AssetID,
		Exchange: m.ExchangeAddress,
		Token:    Token{Address: m.TokenAddress, Decimals: m.TokenDecimals},
		Currency: Token{Address: m.CurrencyAddress, Decimals: m.CurrencyDecimals},
	}
}

// Order is the ledger's view of one order, in whole-token units.
type Order struct {
	ID       uint64
	Maker    string
	Side     model.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
	State    OrderState
	Active   bool
}

type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	// CreatedOrderID is decoded from an OrderCreated log when present.
	CreatedOrderID *uint64
}

type TransferRequest struct {
	Token  Token
	From   string
	To     string
	Amount decimal.Decimal
}
