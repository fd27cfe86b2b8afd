package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/model"
)

// Signer holds a private key and serialises nonce allocation for it across
// every endpoint that signs with it.
type Signer struct {
	key     *ecdsa.PrivateKey
	Address common.Address
	mu      sync.Mutex
}

func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// EthBackend talks to one JSON-RPC endpoint of an EVM chain.
type EthBackend struct {
	url       string
	rpc       *ethclient.Client
	chainID   *big.Int
	operator  *Signer
	custodian *Signer
}

func NewEthBackend(ctx context.Context, url string, chainID int64, operator, custodian *Signer) (*EthBackend, error) {
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &EthBackend{
		url:       url,
		rpc:       rpc,
		chainID:   big.NewInt(chainID),
		operator:  operator,
		custodian: custodian,
	}, nil
}

func (b *EthBackend) Name() string { return b.url }

func (b *EthBackend) Close() { b.rpc.Close() }

func (b *EthBackend) Ping(ctx context.Context) error {
	chainID, err := b.rpc.ChainID(ctx)
	if err != nil {
		return err
	}
	if chainID.Cmp(b.chainID) != 0 {
		return fmt.Errorf("endpoint serves chain %s, want %s", chainID, b.chainID)
	}
	return nil
}

func (b *EthBackend) call(ctx context.Context, contract abi.ABI, to string, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	addr := common.HexToAddress(to)
	out, err := b.rpc.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return contract.Unpack(method, out)
}

func (b *EthBackend) OrderCount(ctx context.Context, m Market) (uint64, error) {
	out, err := b.call(ctx, exchangeABI, m.Exchange, "nextOrderId")
	if err != nil {
		return 0, err
	}
	next, ok := out[0].(*big.Int)
	if !ok || !next.IsUint64() {
		return 0, fmt.Errorf("nextOrderId: unexpected value %v", out[0])
	}
	// ids start at 1, so the counter is one behind nextOrderId
	if next.Sign() == 0 {
		return 0, nil
	}
	return next.Uint64() - 1, nil
}

func (b *EthBackend) GetOrder(ctx context.Context, m Market, id uint64) (*Order, error) {
	out, err := b.call(ctx, exchangeABI, m.Exchange, "getOrder", new(big.Int).SetUint64(id))
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
		}
		return nil, err
	}
	return decodeOrder(m, id, out)
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

func (b *EthBackend) BalanceOf(ctx context.Context, token Token, owner string) (decimal.Decimal, error) {
	out, err := b.call(ctx, erc20ABI, token.Address, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return decimal.Zero, err
	}
	v, _ := out[0].(*big.Int)
	return FromBaseUnits(v, token.Decimals), nil
}

func (b *EthBackend) Allowance(ctx context.Context, token Token, owner, spender string) (decimal.Decimal, error) {
	out, err := b.call(ctx, erc20ABI, token.Address, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return decimal.Zero, err
	}
	v, _ := out[0].(*big.Int)
	return FromBaseUnits(v, token.Decimals), nil
}

func (b *EthBackend) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := b.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%s: %w", txHash, ErrReceiptNotFound)
		}
		return nil, err
	}

	receipt := &Receipt{
		TxHash:  r.TxHash.Hex(),
		Success: r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	if id, ok := ParseOrderCreated(r.Logs); ok {
		receipt.CreatedOrderID = &id
	}
	return receipt, nil
}

// transact signs and broadcasts a call. It does not wait for inclusion.
func (b *EthBackend) transact(ctx context.Context, signer *Signer, to string, data []byte) (string, error) {
	if signer == nil {
		return "", ErrNoSigner
	}

	signer.mu.Lock()
	defer signer.mu.Unlock()

	toAddr := common.HexToAddress(to)

	nonce, err := b.rpc.PendingNonceAt(ctx, signer.Address)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := b.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := b.rpc.EstimateGas(ctx, ethereum.CallMsg{From: signer.Address, To: &toAddr, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &toAddr,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), signer.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := b.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "EthBackend",
		"endpoint":  b.url,
		"from":      signer.Address.Hex(),
		"to":        to,
		"nonce":     nonce,
		"tx_hash":   signed.Hash().Hex(),
	}).Debug("Transaction broadcast")

	return signed.Hash().Hex(), nil
}

func (b *EthBackend) SubmitOrderCreation(ctx context.Context, m Market, maker string, side model.OrderSide, qty, price decimal.Decimal) (string, error) {
	contractSide, err := sideToContract(side)
	if err != nil {
		return "", err
	}
	data, err := exchangeABI.Pack("createOrderFor",
		common.HexToAddress(maker),
		contractSide,
		ToBaseUnits(qty, m.Token.Decimals),
		ToBaseUnits(price, m.Currency.Decimals),
	)
	if err != nil {
		return "", fmt.Errorf("pack createOrderFor: %w", err)
	}
	return b.transact(ctx, b.operator, m.Exchange, data)
}

func (b *EthBackend) SubmitOrderFill(ctx context.Context, m Market, buyID, sellID uint64, qty decimal.Decimal) (string, error) {
	data, err := exchangeABI.Pack("matchOrders",
		new(big.Int).SetUint64(buyID),
		new(big.Int).SetUint64(sellID),
		ToBaseUnits(qty, m.Token.Decimals),
	)
	if err != nil {
		return "", fmt.Errorf("pack matchOrders: %w", err)
	}
	return b.transact(ctx, b.operator, m.Exchange, data)
}

func (b *EthBackend) SubmitTakerFill(ctx context.Context, m Market, orderID uint64, taker string, qty decimal.Decimal) (string, error) {
	data, err := exchangeABI.Pack("fillOrder",
		new(big.Int).SetUint64(orderID),
		common.HexToAddress(taker),
		ToBaseUnits(qty, m.Token.Decimals),
	)
	if err != nil {
		return "", fmt.Errorf("pack fillOrder: %w", err)
	}
	return b.transact(ctx, b.operator, m.Exchange, data)
}

func (b *EthBackend) SubmitOrderCancel(ctx context.Context, m Market, orderID uint64) (string, error) {
	data, err := exchangeABI.Pack("cancelOrder", new(big.Int).SetUint64(orderID))
	if err != nil {
		return "", fmt.Errorf("pack cancelOrder: %w", err)
	}
	return b.transact(ctx, b.operator, m.Exchange, data)
}

// SubmitTransfer moves tokens with the custodian key: a plain transfer out of
// the custodian wallet, or transferFrom against the sender's allowance.
func (b *EthBackend) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if b.custodian == nil {
		return "", ErrNoSigner
	}

	amount := ToBaseUnits(req.Amount, req.Token.Decimals)

	var (
		data []byte
		err  error
	)
	if common.HexToAddress(req.From) == b.custodian.Address {
		data, err = erc20ABI.Pack("transfer", common.HexToAddress(req.To), amount)
	} else {
		data, err = erc20ABI.Pack("transferFrom", common.HexToAddress(req.From), common.HexToAddress(req.To), amount)
	}
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}
	return b.transact(ctx, b.custodian, req.Token.Address, data)
}
