package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokenexchange/src/ledger"
	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
	"tokenexchange/src/pricing"
	"tokenexchange/src/recorder"
)

type Ledger interface {
	Custodian() string
	BalanceOf(ctx context.Context, token ledger.Token, owner string) (decimal.Decimal, error)
	Allowance(ctx context.Context, token ledger.Token, owner, spender string) (decimal.Decimal, error)
	SubmitTransfer(ctx context.Context, req ledger.TransferRequest) (string, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
	WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

type Markets interface {
	FindByAssetID(ctx context.Context, assetID string) (*model.Market, error)
}

type Incidents interface {
	Create(ctx context.Context, incident *model.Incident) error
	FindByID(ctx context.Context, id uint) (*model.Incident, error)
	Claim(ctx context.Context, id uint) (bool, error)
	Release(ctx context.Context, id uint, legs *model.Incident) error
	Resolve(ctx context.Context, id uint, resolutionTxHash string) (bool, error)
}

type TradeRecorder interface {
	RecordTrade(ctx context.Context, details recorder.TradeDetails) (*model.Trade, error)
}

// Request asks for Quantity tokens of AssetID to be bought or sold by the
// trader. Side is the trader's side.
type Request struct {
	AssetID       string          `json:"asset_id"`
	TraderAddress string          `json:"trader_address"`
	Side          model.OrderSide `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
}

func (r *Request) normalize() error {
	if r.AssetID == "" {
		return fmt.Errorf("%w: asset_id is required", ErrInvalidRequest)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidRequest)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	addr, err := model.NormalizeAddress(r.TraderAddress)
	if err != nil {
		return fmt.Errorf("%w: trader_address: %v", ErrInvalidRequest, err)
	}
	r.TraderAddress = addr
	return nil
}

// Quote is the fallback price of a request. CurrencyAmount is what moves on
// the currency leg: gross of fee when the trader buys, net of fee when the
// trader sells.
type Quote struct {
	AssetID        string          `json:"asset_id"`
	Side           model.OrderSide `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Fee            decimal.Decimal `json:"fee"`
	CurrencyAmount decimal.Decimal `json:"currency_amount"`
}

// Result of a completed trade request.
type Result struct {
	Source          model.ExecutionSource `json:"execution_source"`
	SettlementID    string                `json:"settlement_id,omitempty"`
	Quote           *Quote                `json:"quote,omitempty"`
	TraderLegTxHash string                `json:"trader_leg_tx_hash,omitempty"`
	Trade           *model.Trade          `json:"trade"`
}

// legs describes the two transfers of a fallback settlement.
type legs struct {
	trader    ledger.TransferRequest
	custodian ledger.TransferRequest
}

// Executor settles trades against the custodial fallback wallet in two
// separate ledger transfers: trader to custodian, then custodian to trader.
type Executor struct {
	ledger    Ledger
	markets   Markets
	prices    pricing.Source
	incidents Incidents
	recorder  TradeRecorder
	metrics   *metrics.Metrics
	log       *logrus.Entry
	cfg       Config
	now       func() time.Time

	// one settlement per asset at a time so the liquidity check holds
	// until both legs are submitted
	assetLocks sync.Map
}

func NewExecutor(l Ledger, markets Markets, prices pricing.Source, incidents Incidents, rec TradeRecorder, cfg Config, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		ledger:    l,
		markets:   markets,
		prices:    prices,
		incidents: incidents,
		recorder:  rec,
		log:       log.WithField("component", "fallback"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

func (e *Executor) lock(assetID string) func() {
	mu, _ := e.assetLocks.LoadOrStore(assetID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func (e *Executor) market(ctx context.Context, assetID string) (*model.Market, error) {
	m, err := e.markets.FindByAssetID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return m, nil
}

// price applies the fixed spread and the protocol fee. Amounts the trader
// pays round up to the currency precision, amounts paid out round down.
func (e *Executor) price(m *model.Market, side model.OrderSide, qty, ref decimal.Decimal) *Quote {
	one := decimal.NewFromInt(1)
	q := &Quote{
		AssetID:        m.AssetID,
		Side:           side,
		Quantity:       qty,
		ReferencePrice: ref,
	}
	if side == model.SideBuy {
		q.ExecutionPrice = ref.Mul(one.Add(e.cfg.Discount))
	} else {
		q.ExecutionPrice = ref.Mul(one.Sub(e.cfg.Discount))
	}

	notional := qty.Mul(q.ExecutionPrice)
	q.Fee = notional.Mul(e.cfg.ProtocolFee)
	if side == model.SideBuy {
		q.CurrencyAmount = notional.Add(q.Fee).RoundCeil(m.CurrencyDecimals)
	} else {
		q.CurrencyAmount = notional.Sub(q.Fee).RoundFloor(m.CurrencyDecimals)
	}
	return q
}

// Quote prices a request without checking balances or moving funds.
func (e *Executor) Quote(ctx context.Context, req Request) (*Quote, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	m, err := e.market(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	ref, err := e.prices.ReferencePrice(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	return e.price(m, req.Side, req.Quantity, ref), nil
}

func (e *Executor) legsFor(m *model.Market, trader, custodian string, side model.OrderSide, qty, currencyAmount decimal.Decimal) legs {
	lm := ledger.MarketFromModel(m)
	if side == model.SideBuy {
		return legs{
			trader:    ledger.TransferRequest{Token: lm.Currency, From: trader, To: custodian, Amount: currencyAmount},
			custodian: ledger.TransferRequest{Token: lm.Token, From: custodian, To: trader, Amount: qty},
		}
	}
	return legs{
		trader:    ledger.TransferRequest{Token: lm.Token, From: trader, To: custodian, Amount: qty},
		custodian: ledger.TransferRequest{Token: lm.Currency, From: custodian, To: trader, Amount: currencyAmount},
	}
}

func tokenName(m *model.Market, t ledger.Token) string {
	if strings.EqualFold(t.Address, m.TokenAddress) {
		return "token"
	}
	return "currency"
}

// check runs the remaining preconditions in order;
// the first failing one is returned.
func (e *Executor) check(ctx context.Context, m *model.Market, trader string, l legs) error {
	custodian := e.ledger.Custodian()
	available, err := e.ledger.BalanceOf(ctx, l.custodian.Token, custodian)
	if err != nil {
		return fmt.Errorf("read fallback wallet balance: %w", err)
	}
	if available.LessThan(l.custodian.Amount) {
		return &ShortfallError{
			Kind:      ErrInsufficientFallbackLiquidity,
			AssetID:   m.AssetID,
			Account:   custodian,
			Token:     tokenName(m, l.custodian.Token),
			Required:  l.custodian.Amount,
			Available: available,
		}
	}

	balance, err := e.ledger.BalanceOf(ctx, l.trader.Token, trader)
	if err != nil {
		return fmt.Errorf("read trader balance: %w", err)
	}
	if balance.LessThan(l.trader.Amount) {
		return &ShortfallError{
			Kind:      ErrInsufficientTraderBalance,
			AssetID:   m.AssetID,
			Account:   trader,
			Token:     tokenName(m, l.trader.Token),
			Required:  l.trader.Amount,
			Available: balance,
		}
	}

	allowance, err := e.ledger.Allowance(ctx, l.trader.Token, trader, custodian)
	if err != nil {
		return fmt.Errorf("read trader allowance: %w", err)
	}
	if allowance.LessThan(l.trader.Amount) {
		return &ShortfallError{
			Kind:      ErrInsufficientAllowance,
			AssetID:   m.AssetID,
			Account:   trader,
			Token:     tokenName(m, l.trader.Token),
			Required:  l.trader.Amount,
			Available: allowance,
		}
	}

	if m.DeadlinePassed(e.now()) {
		return fmt.Errorf("%w: %s closed at %s", ErrTradingClosed, m.AssetID, m.TradingDeadline.Format(time.RFC3339))
	}
	return nil
}

func (e *Executor) confirm(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	if e.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		defer cancel()
	}
	return e.ledger.WaitForReceipt(ctx, txHash)
}

// ExecuteFallback settles the request against the fallback wallet. Failed
// preconditions are returned unchanged, shortfalls as *ShortfallError. If
// the trader leg was broadcast but not confirmed, an incident is persisted
// and a *PendingSettlementError is returned. If the second leg fails after
// the first confirmed, an incident is persisted and a
// *PartialSettlementError is returned. No trade is recorded in either case.
func (e *Executor) ExecuteFallback(ctx context.Context, req Request) (result *Result, err error) {
	defer func() {
		e.metrics.ObserveFallback(req.AssetID, Code(err))
	}()

	if err := req.normalize(); err != nil {
		return nil, err
	}
	m, err := e.market(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !m.FallbackEnabled {
		return nil, fmt.Errorf("%w: %s", ErrFallbackDisabled, m.AssetID)
	}

	ref, err := e.prices.ReferencePrice(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	quote := e.price(m, req.Side, req.Quantity, ref)
	custodian := e.ledger.Custodian()
	l := e.legsFor(m, req.TraderAddress, custodian, req.Side, req.Quantity, quote.CurrencyAmount)

	unlock := e.lock(m.AssetID)
	defer unlock()

	if err := e.check(ctx, m, req.TraderAddress, l); err != nil {
		return nil, err
	}

	settlementID := uuid.NewString()
	log := e.log.WithFields(logrus.Fields{
		"settlement_id": settlementID,
		"asset_id":      m.AssetID,
		"trader":        req.TraderAddress,
		"side":          req.Side,
		"quantity":      req.Quantity.String(),
		"price":         quote.ExecutionPrice.String(),
	})

	traderTx, err := e.ledger.SubmitTransfer(ctx, l.trader)
	if err != nil {
		log.WithError(err).Error("Trader leg submission failed")
		return nil, fmt.Errorf("%w: trader leg: %w", ErrSettlementFailed, err)
	}
	if _, err := e.confirm(ctx, traderTx); err != nil {
		if errors.Is(err, ledger.ErrTransactionReverted) {
			log.WithField("trader_tx", traderTx).WithError(err).Error("Trader leg reverted")
			return nil, fmt.Errorf("%w: trader leg %s: %w", ErrSettlementFailed, traderTx, err)
		}
		return nil, e.pending(ctx, log, settlementID, req, quote, traderTx, err)
	}
	log = log.WithField("trader_tx", traderTx)
	log.Info("Trader leg confirmed")

	custodianTx, receipt, err := e.runCustodianLeg(ctx, l.custodian)
	if err != nil {
		return nil, e.partial(ctx, log, settlementID, req, quote, traderTx, custodianTx, err)
	}

	trade, err := e.record(ctx, m, req.TraderAddress, custodian, req.Side, req.Quantity, quote.ExecutionPrice, custodianTx, traderTx, receipt)
	if err != nil {
		// both legs are on the ledger; the trade can be recorded again from the receipt
		log.WithField("custodian_tx", custodianTx).WithError(err).Error("Settled but trade recording failed")
		return nil, err
	}

	log.WithField("custodian_tx", custodianTx).Info("Fallback settlement complete")
	return &Result{
		Source:          model.ExecutionSourceFallback,
		SettlementID:    settlementID,
		Quote:           quote,
		TraderLegTxHash: traderTx,
		Trade:           trade,
	}, nil
}

// runCustodianLeg submits the custodian transfer once and waits for it. The
// returned hash is empty when the submission itself failed.
func (e *Executor) runCustodianLeg(ctx context.Context, req ledger.TransferRequest) (string, *ledger.Receipt, error) {
	txHash, err := e.ledger.SubmitTransfer(ctx, req)
	if err != nil {
		return "", nil, err
	}
	receipt, err := e.confirm(ctx, txHash)
	if err != nil {
		return txHash, nil, err
	}
	return txHash, receipt, nil
}

func newIncident(kind, settlementID string, req Request, quote *Quote, confirmedTx, pendingTx string, cause error) *model.Incident {
	return &model.Incident{
		Kind:            kind,
		SettlementID:    settlementID,
		AssetID:         req.AssetID,
		TraderAddress:   req.TraderAddress,
		Side:            req.Side,
		Quantity:        req.Quantity,
		ExecutionPrice:  quote.ExecutionPrice,
		CurrencyAmount:  quote.CurrencyAmount,
		ConfirmedTxHash: confirmedTx,
		PendingTxHash:   pendingTx,
		Message:         cause.Error(),
	}
}

// openIncident persists even if the caller has gone away. Returns 0 when
// the incident could not be stored.
func (e *Executor) openIncident(ctx context.Context, log *logrus.Entry, incident *model.Incident) uint {
	if err := e.incidents.Create(context.WithoutCancel(ctx), incident); err != nil {
		log.WithError(err).WithField("kind", incident.Kind).Error("Failed to persist settlement incident")
		return 0
	}
	return incident.ID
}

// pending records a trader leg that was broadcast but never confirmed. It may
// still be mined, so the settlement is neither failed nor retried here.
func (e *Executor) pending(ctx context.Context, log *logrus.Entry, settlementID string, req Request, quote *Quote, traderTx string, cause error) error {
	incident := newIncident(model.IncidentKindUnconfirmedTraderLeg, settlementID, req, quote, "", traderTx, cause)
	perr := &PendingSettlementError{
		SettlementID: settlementID,
		TraderTxHash: traderTx,
		Cause:        cause,
	}
	perr.IncidentID = e.openIncident(ctx, log, incident)

	log.WithFields(logrus.Fields{
		"incident_id": perr.IncidentID,
		"trader_tx":   traderTx,
	}).WithError(cause).Error("Trader leg not confirmed")
	return perr
}

func (e *Executor) partial(ctx context.Context, log *logrus.Entry, settlementID string, req Request, quote *Quote, traderTx, pendingTx string, cause error) error {
	incident := newIncident(model.IncidentKindPartialSettlement, settlementID, req, quote, traderTx, pendingTx, cause)
	perr := &PartialSettlementError{
		SettlementID:    settlementID,
		ConfirmedTxHash: traderTx,
		PendingTxHash:   pendingTx,
		Cause:           cause,
	}
	perr.IncidentID = e.openIncident(ctx, log, incident)

	log.WithFields(logrus.Fields{
		"incident_id":  perr.IncidentID,
		"pending_tx":   pendingTx,
		"confirmed_tx": traderTx,
	}).WithError(cause).Error("Partial settlement")
	return perr
}

func (e *Executor) record(ctx context.Context, m *model.Market, trader, custodian string, side model.OrderSide, qty, price decimal.Decimal, txHash, counterLeg string, receipt *ledger.Receipt) (*model.Trade, error) {
	buyer, seller := trader, custodian
	if side == model.SideSell {
		buyer, seller = custodian, trader
	}
	details := recorder.TradeDetails{
		TransactionHash:  txHash,
		AssetID:          m.AssetID,
		BuyerAddress:     buyer,
		SellerAddress:    seller,
		Quantity:         qty,
		ExecutionPrice:   price,
		ExecutionSource:  model.ExecutionSourceFallback,
		CounterLegTxHash: counterLeg,
	}
	if receipt != nil {
		block := receipt.BlockNumber
		details.BlockNumber = &block
	}
	return e.recorder.RecordTrade(ctx, details)
}

// CompletePartial finishes a settlement incident. An unconfirmed trader leg
// is adopted once its receipt shows success, or the incident is closed if it
// reverted. A pending custodian leg that has since confirmed is adopted,
// otherwise the custodian transfer is submitted once more. The trade is then
// recorded and the incident resolved.
//
// The incident is claimed before anything is submitted; a failed attempt
// releases it with the legs seen so far.
func (e *Executor) CompletePartial(ctx context.Context, incidentID uint) (*Result, error) {
	incident, err := e.incidents.FindByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, fmt.Errorf("%w: %d", ErrIncidentNotFound, incidentID)
	}

	m, err := e.market(ctx, incident.AssetID)
	if err != nil {
		return nil, err
	}

	unlock := e.lock(m.AssetID)
	defer unlock()

	claimed, err := e.incidents.Claim(ctx, incident.ID)
	if err != nil {
		return nil, fmt.Errorf("claim incident %d: %w", incident.ID, err)
	}
	if !claimed {
		return nil, e.unclaimable(ctx, incident.ID)
	}

	// legs stays nil until the incident is re-read under the claim
	var legs *model.Incident
	done := false
	defer func() {
		if done {
			return
		}
		if err := e.incidents.Release(context.WithoutCancel(ctx), incidentID, legs); err != nil {
			e.log.WithField("incident_id", incidentID).WithError(err).Error("Failed to release incident")
		}
	}()

	// a previous attempt may have moved the legs on since the first read
	incident, err = e.incidents.FindByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, fmt.Errorf("%w: %d", ErrIncidentNotFound, incidentID)
	}
	legs = incident

	log := e.log.WithFields(logrus.Fields{
		"incident_id":   incident.ID,
		"settlement_id": incident.SettlementID,
		"asset_id":      incident.AssetID,
	})

	if incident.Kind == model.IncidentKindUnconfirmedTraderLeg {
		adopted, err := e.adoptTraderLeg(ctx, log, incident)
		if err != nil {
			return nil, err
		}
		if !adopted {
			done = true
			return nil, fmt.Errorf("%w: trader leg %s reverted, nothing was transferred", ErrSettlementFailed, incident.PendingTxHash)
		}
	}

	custodian := e.ledger.Custodian()
	l := e.legsFor(m, incident.TraderAddress, custodian, incident.Side, incident.Quantity, incident.CurrencyAmount)

	var (
		txHash  string
		receipt *ledger.Receipt
	)
	if incident.PendingTxHash != "" {
		r, err := e.ledger.GetTransactionReceipt(ctx, incident.PendingTxHash)
		switch {
		case err == nil && r.Success:
			txHash, receipt = incident.PendingTxHash, r
			log.WithField("custodian_tx", txHash).Info("Pending custodian leg had confirmed")
		case err != nil && !errors.Is(err, ledger.ErrReceiptNotFound):
			return nil, fmt.Errorf("read pending leg %s: %w", incident.PendingTxHash, err)
		case err != nil:
			// a broadcast that never landed could still be mined; do not pay twice
			return nil, fmt.Errorf("%w: pending leg %s has no receipt yet", ErrSettlementFailed, incident.PendingTxHash)
		}
	}

	if receipt == nil {
		txHash, receipt, err = e.runCustodianLeg(ctx, l.custodian)
		if err != nil {
			if txHash != "" {
				incident.PendingTxHash = txHash
			}
			incident.Message = err.Error()
			log.WithField("custodian_tx", txHash).WithError(err).Error("Completing custodian leg failed")
			return nil, fmt.Errorf("%w: custodian leg: %w", ErrSettlementFailed, err)
		}
		// from here a retry must adopt this leg
		incident.PendingTxHash = txHash
	}

	trade, err := e.record(ctx, m, incident.TraderAddress, custodian, incident.Side, incident.Quantity, incident.ExecutionPrice, txHash, incident.ConfirmedTxHash, receipt)
	if err != nil {
		return nil, err
	}

	resolved, err := e.incidents.Resolve(ctx, incident.ID, txHash)
	if err != nil {
		return nil, fmt.Errorf("resolve incident %d: %w", incident.ID, err)
	}
	done = true
	if !resolved {
		return nil, fmt.Errorf("%w: %d", ErrIncidentResolved, incident.ID)
	}
	log.WithField("custodian_tx", txHash).Info("Partial settlement completed")

	return &Result{
		Source:          model.ExecutionSourceFallback,
		SettlementID:    incident.SettlementID,
		TraderLegTxHash: incident.ConfirmedTxHash,
		Trade:           trade,
	}, nil
}

// unclaimable tells a resolved incident from one held by another completion.
func (e *Executor) unclaimable(ctx context.Context, id uint) error {
	current, err := e.incidents.FindByID(ctx, id)
	switch {
	case err != nil:
		return err
	case current == nil:
		return fmt.Errorf("%w: %d", ErrIncidentNotFound, id)
	case current.Status == model.IncidentStatusCompleting:
		return fmt.Errorf("%w: %d", ErrIncidentInProgress, id)
	default:
		return fmt.Errorf("%w: %d", ErrIncidentResolved, id)
	}
}

// adoptTraderLeg reads the receipt of an unconfirmed trader leg. A success
// turns the incident into a partial settlement with the leg confirmed; false
// means it reverted and the incident was closed without a resolution hash.
func (e *Executor) adoptTraderLeg(ctx context.Context, log *logrus.Entry, incident *model.Incident) (bool, error) {
	traderTx := incident.PendingTxHash
	r, err := e.ledger.GetTransactionReceipt(ctx, traderTx)
	switch {
	case err != nil && errors.Is(err, ledger.ErrReceiptNotFound):
		return false, fmt.Errorf("%w: trader leg %s has no receipt yet", ErrSettlementFailed, traderTx)
	case err != nil:
		return false, fmt.Errorf("read trader leg %s: %w", traderTx, err)
	case !r.Success:
		if _, err := e.incidents.Resolve(ctx, incident.ID, ""); err != nil {
			return false, fmt.Errorf("resolve incident %d: %w", incident.ID, err)
		}
		log.WithField("trader_tx", traderTx).Warn("Unconfirmed trader leg reverted, incident closed")
		return false, nil
	}

	incident.Kind = model.IncidentKindPartialSettlement
	incident.ConfirmedTxHash = traderTx
	incident.PendingTxHash = ""
	log.WithField("trader_tx", traderTx).Info("Unconfirmed trader leg had confirmed")
	return true, nil
}
