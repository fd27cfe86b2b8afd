package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"tokenexchange/src/model"
)

// MemoryBackend is an in-process ledger with the exchange and ERC-20
// semantics the service relies on. It backs local development
// (LEDGER_RPC_URLS=memory://) and tests.
type MemoryBackend struct {
	name      string
	custodian string

	mu          sync.Mutex
	orders      map[string][]*Order // exchange -> orders, index id-1
	balances    map[string]decimal.Decimal
	allowances  map[string]decimal.Decimal
	receipts    map[string]*Receipt
	transfers   []TransferRequest
	txSeq       uint64
	blockNumber uint64

	// Failure injection.
	PingErr      error
	ReadErr      error
	OrderReadErr map[uint64]error
	BeforeSubmit func(op string) error
	// HideReceipts leaves submitted transactions pending.
	HideReceipts bool
}

func NewMemoryBackend(name, custodian string) *MemoryBackend {
	return &MemoryBackend{
		name:         name,
		custodian:    custodian,
		orders:       map[string][]*Order{},
		balances:     map[string]decimal.Decimal{},
		allowances:   map[string]decimal.Decimal{},
		receipts:     map[string]*Receipt{},
		OrderReadErr: map[uint64]error{},
	}
}

func memKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, "|"))
}

func (b *MemoryBackend) Name() string { return b.name }

func (b *MemoryBackend) Close() {}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.PingErr
}

// ---------------------------------------------------
// Seeding helpers
// ---------------------------------------------------

// AddOrder places an active order directly on the book and returns its id.
func (b *MemoryBackend) AddOrder(m Market, maker string, side model.OrderSide, qty, price decimal.Decimal) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addOrderLocked(m, maker, side, qty, price)
}

func (b *MemoryBackend) addOrderLocked(m Market, maker string, side model.OrderSide, qty, price decimal.Decimal) uint64 {
	k := memKey(m.Exchange)
	id := uint64(len(b.orders[k]) + 1)
	b.orders[k] = append(b.orders[k], &Order{
		ID:       id,
		Maker:    maker,
		Side:     side,
		Quantity: qty,
		Price:    price,
		State:    OrderStateOpen,
		Active:   true,
	})
	return id
}

// SetOrder overwrites the remaining quantity and state of an order.
func (b *MemoryBackend) SetOrder(m Market, id uint64, qty decimal.Decimal, state OrderState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[memKey(m.Exchange)][id-1]
	o.Quantity = qty
	o.State = state
	o.Active = state == OrderStateOpen
}

func (b *MemoryBackend) Credit(token Token, owner string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := memKey(token.Address, owner)
	b.balances[k] = b.balances[k].Add(amount)
}

func (b *MemoryBackend) Approve(token Token, owner, spender string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[memKey(token.Address, owner, spender)] = amount
}

// Transfers returns the transfers that were executed successfully.
func (b *MemoryBackend) Transfers() []TransferRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TransferRequest(nil), b.transfers...)
}

// ---------------------------------------------------
// Reads
// ---------------------------------------------------

func (b *MemoryBackend) OrderCount(ctx context.Context, m Market) (uint64, error) {
	if b.ReadErr != nil {
		return 0, b.ReadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.orders[memKey(m.Exchange)])), nil
}

func (b *MemoryBackend) GetOrder(ctx context.Context, m Market, id uint64) (*Order, error) {
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.OrderReadErr[id]; err != nil {
		return nil, err
	}
	book := b.orders[memKey(m.Exchange)]
	if id == 0 || id > uint64(len(book)) {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	o := *book[id-1]
	return &o, nil
}

func (b *MemoryBackend) BalanceOf(ctx context.Context, token Token, owner string) (decimal.Decimal, error) {
	if b.ReadErr != nil {
		return decimal.Zero, b.ReadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[memKey(token.Address, owner)], nil
}

func (b *MemoryBackend) Allowance(ctx context.Context, token Token, owner, spender string) (decimal.Decimal, error) {
	if b.ReadErr != nil {
		return decimal.Zero, b.ReadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowances[memKey(token.Address, owner, spender)], nil
}

func (b *MemoryBackend) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.receipts[strings.ToLower(txHash)]
	if !ok || b.HideReceipts {
		return nil, fmt.Errorf("%s: %w", txHash, ErrReceiptNotFound)
	}
	copied := *r
	return &copied, nil
}

// ---------------------------------------------------
// Submissions
// ---------------------------------------------------

func (b *MemoryBackend) mine(success bool, createdID *uint64) string {
	b.txSeq++
	b.blockNumber++
	hash := fmt.Sprintf("0x%064x", b.txSeq)
	b.receipts[hash] = &Receipt{
		TxHash:         hash,
		BlockNumber:    b.blockNumber,
		Success:        success,
		CreatedOrderID: createdID,
	}
	return hash
}

func (b *MemoryBackend) before(op string) error {
	if b.BeforeSubmit != nil {
		return b.BeforeSubmit(op)
	}
	return nil
}

func (b *MemoryBackend) SubmitOrderCreation(ctx context.Context, m Market, maker string, side model.OrderSide, qty, price decimal.Decimal) (string, error) {
	if err := b.before("create"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.addOrderLocked(m, maker, side, qty, price)
	return b.mine(true, &id), nil
}

func (b *MemoryBackend) fillLocked(o *Order, qty decimal.Decimal) bool {
	if !o.Active || o.Quantity.LessThan(qty) {
		return false
	}
	o.Quantity = o.Quantity.Sub(qty)
	if o.Quantity.IsZero() {
		o.State = OrderStateFilled
		o.Active = false
	}
	return true
}

func (b *MemoryBackend) SubmitOrderFill(ctx context.Context, m Market, buyID, sellID uint64, qty decimal.Decimal) (string, error) {
	if err := b.before("fill"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	book := b.orders[memKey(m.Exchange)]
	if buyID == 0 || sellID == 0 || buyID > uint64(len(book)) || sellID > uint64(len(book)) {
		return b.mine(false, nil), nil
	}
	buy, sell := book[buyID-1], book[sellID-1]
	if !buy.Active || !sell.Active || buy.Quantity.LessThan(qty) || sell.Quantity.LessThan(qty) {
		return b.mine(false, nil), nil
	}
	b.fillLocked(buy, qty)
	b.fillLocked(sell, qty)
	return b.mine(true, nil), nil
}

func (b *MemoryBackend) SubmitTakerFill(ctx context.Context, m Market, orderID uint64, taker string, qty decimal.Decimal) (string, error) {
	if err := b.before("take"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	book := b.orders[memKey(m.Exchange)]
	if orderID == 0 || orderID > uint64(len(book)) {
		return b.mine(false, nil), nil
	}
	return b.mine(b.fillLocked(book[orderID-1], qty), nil), nil
}

func (b *MemoryBackend) SubmitOrderCancel(ctx context.Context, m Market, orderID uint64) (string, error) {
	if err := b.before("cancel"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	book := b.orders[memKey(m.Exchange)]
	if orderID == 0 || orderID > uint64(len(book)) || !book[orderID-1].Active {
		return b.mine(false, nil), nil
	}
	o := book[orderID-1]
	o.State = OrderStateCancelled
	o.Active = false
	return b.mine(true, nil), nil
}

func (b *MemoryBackend) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if err := b.before("transfer"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	from := memKey(req.Token.Address, req.From)
	if b.balances[from].LessThan(req.Amount) {
		return b.mine(false, nil), nil
	}
	if !strings.EqualFold(req.From, b.custodian) {
		allowance := memKey(req.Token.Address, req.From, b.custodian)
		if b.allowances[allowance].LessThan(req.Amount) {
			return b.mine(false, nil), nil
		}
		b.allowances[allowance] = b.allowances[allowance].Sub(req.Amount)
	}

	to := memKey(req.Token.Address, req.To)
	b.balances[from] = b.balances[from].Sub(req.Amount)
	b.balances[to] = b.balances[to].Add(req.Amount)
	b.transfers = append(b.transfers, req)
	return b.mine(true, nil), nil
}
