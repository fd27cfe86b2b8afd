package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tokenexchange/src/model"
)

const exchangeABIJSON = `[
  {"type":"function","name":"nextOrderId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],
   "outputs":[{"name":"maker","type":"address"},{"name":"side","type":"uint8"},{"name":"quantity","type":"uint256"},
              {"name":"price","type":"uint256"},{"name":"status","type":"uint8"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"createOrderFor","stateMutability":"nonpayable",
   "inputs":[{"name":"maker","type":"address"},{"name":"side","type":"uint8"},{"name":"quantity","type":"uint256"},{"name":"price","type":"uint256"}],
   "outputs":[{"name":"orderId","type":"uint256"}]},
  {"type":"function","name":"matchOrders","stateMutability":"nonpayable",
   "inputs":[{"name":"buyOrderId","type":"uint256"},{"name":"sellOrderId","type":"uint256"},{"name":"quantity","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"fillOrder","stateMutability":"nonpayable",
   "inputs":[{"name":"orderId","type":"uint256"},{"name":"taker","type":"address"},{"name":"quantity","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"OrderCreated","anonymous":false,
   "inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"maker","type":"address","indexed":true},
             {"name":"side","type":"uint8","indexed":false},{"name":"quantity","type":"uint256","indexed":false},
             {"name":"price","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	exchangeABI = mustParseABI(exchangeABIJSON)
	erc20ABI    = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("parse abi: %w", err))
	}
	return parsed
}

const (
	contractSideBuy  uint8 = 0
	contractSideSell uint8 = 1
)

func sideToContract(side model.OrderSide) (uint8, error) {
	switch side {
	case model.SideBuy:
		return contractSideBuy, nil
	case model.SideSell:
		return contractSideSell, nil
	}
	return 0, fmt.Errorf("invalid side %q", side)
}

func sideFromContract(v uint8) (model.OrderSide, error) {
	switch v {
	case contractSideBuy:
		return model.SideBuy, nil
	case contractSideSell:
		return model.SideSell, nil
	}
	return "", fmt.Errorf("unknown contract side %d", v)
}

// decodeOrder maps unpacked getOrder outputs to an Order. A zero maker means
// the id was never created.
func decodeOrder(m Market, id uint64, out []interface{}) (*Order, error) {
	if len(out) != 6 {
		return nil, fmt.Errorf("getOrder(%d): expected 6 outputs, got %d", id, len(out))
	}

	maker, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("getOrder(%d): unexpected maker type %T", id, out[0])
	}
	if maker == (common.Address{}) {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}

	rawSide, _ := out[1].(uint8)
	side, err := sideFromContract(rawSide)
	if err != nil {
		return nil, fmt.Errorf("getOrder(%d): %w", id, err)
	}

	qty, _ := out[2].(*big.Int)
	price, _ := out[3].(*big.Int)
	status, _ := out[4].(uint8)
	active, _ := out[5].(bool)

	return &Order{
		ID:       id,
		Maker:    maker.Hex(),
		Side:     side,
		Quantity: FromBaseUnits(qty, m.Token.Decimals),
		Price:    FromBaseUnits(price, m.Currency.Decimals),
		State:    OrderState(status),
		Active:   active,
	}, nil
}

// ParseOrderCreated returns the order id of the first OrderCreated log.
func ParseOrderCreated(logs []*types.Log) (uint64, bool) {
	eventID := exchangeABI.Events["OrderCreated"].ID

	for _, l := range logs {
		if l == nil || len(l.Topics) < 2 || l.Topics[0] != eventID {
			continue
		}
		id := new(big.Int).SetBytes(l.Topics[1].Bytes())
		if !id.IsUint64() {
			continue
		}
		return id.Uint64(), true
	}
	return 0, false
}
