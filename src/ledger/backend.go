package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"tokenexchange/src/model"
)

// Backend is one ledger endpoint. Implementations return ErrOrderNotFound and
// ErrReceiptNotFound for definitive negative answers so the client does not
// treat them as endpoint failures.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error

	OrderCount(ctx context.Context, m Market) (uint64, error)
	GetOrder(ctx context.Context, m Market, id uint64) (*Order, error)
	BalanceOf(ctx context.Context, token Token, owner string) (decimal.Decimal, error)
	Allowance(ctx context.Context, token Token, owner, spender string) (decimal.Decimal, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	SubmitOrderCreation(ctx context.Context, m Market, maker string, side model.OrderSide, qty, price decimal.Decimal) (string, error)
	SubmitOrderFill(ctx context.Context, m Market, buyID, sellID uint64, qty decimal.Decimal) (string, error)
	SubmitTakerFill(ctx context.Context, m Market, orderID uint64, taker string, qty decimal.Decimal) (string, error)
	SubmitOrderCancel(ctx context.Context, m Market, orderID uint64) (string, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)

	Close()
}
