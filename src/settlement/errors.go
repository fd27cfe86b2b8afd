package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tokenexchange/src/ledger"
	"tokenexchange/src/pricing"
)

var (
	ErrInvalidRequest                = errors.New("invalid trade request")
	ErrUnknownAsset                  = errors.New("unknown asset")
	ErrFallbackDisabled              = errors.New("fallback liquidity is disabled for this asset")
	ErrInsufficientFallbackLiquidity = errors.New("insufficient fallback liquidity")
	ErrInsufficientTraderBalance     = errors.New("insufficient trader balance")
	ErrInsufficientAllowance         = errors.New("insufficient allowance")
	ErrTradingClosed                 = errors.New("trading deadline has passed")
	ErrSettlementFailed              = errors.New("settlement failed")
	ErrPartialSettlement             = errors.New("partial settlement")
	ErrSettlementPending             = errors.New("settlement pending")
	ErrIncidentNotFound              = errors.New("incident not found")
	ErrIncidentResolved              = errors.New("incident already resolved")
	ErrIncidentInProgress            = errors.New("incident completion already in progress")
)

// ShortfallError reports the exact amounts behind a balance or allowance
// precondition failure. Kind is one of the insufficient-* sentinels.
type ShortfallError struct {
	Kind      error
	AssetID   string
	Account   string
	Token     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%v: %s of %s for %s: required %s, available %s",
		e.Kind, e.Token, e.AssetID, e.Account, e.Required, e.Available)
}

func (e *ShortfallError) Unwrap() error { return e.Kind }

// Shortfall is the missing amount.
func (e *ShortfallError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// PartialSettlementError means the trader leg reached the ledger and the
// custodian leg did not. It is never resolved automatically.
type PartialSettlementError struct {
	SettlementID    string
	IncidentID      uint
	ConfirmedTxHash string
	// PendingTxHash is set when the second leg was broadcast but not confirmed.
	PendingTxHash string
	Cause         error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("%v: settlement %s confirmed leg %s, second leg failed: %v",
		ErrPartialSettlement, e.SettlementID, e.ConfirmedTxHash, e.Cause)
}

func (e *PartialSettlementError) Unwrap() []error {
	return []error{ErrPartialSettlement, e.Cause}
}

// PendingSettlementError means the trader leg was broadcast but its outcome
// is unknown. The incident holds the hash so an operator can adopt or close it.
type PendingSettlementError struct {
	SettlementID string
	IncidentID   uint
	TraderTxHash string
	Cause        error
}

func (e *PendingSettlementError) Error() string {
	return fmt.Sprintf("%v: settlement %s trader leg %s not confirmed: %v",
		ErrSettlementPending, e.SettlementID, e.TraderTxHash, e.Cause)
}

func (e *PendingSettlementError) Unwrap() []error {
	return []error{ErrSettlementPending, e.Cause}
}

// Code maps a settlement error to a stable machine-readable kind.
func Code(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, ErrPartialSettlement):
		return "partial_settlement"
	case errors.Is(err, ErrSettlementPending):
		return "settlement_pending"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ErrFallbackDisabled):
		return "fallback_disabled"
	case errors.Is(err, ErrInsufficientFallbackLiquidity):
		return "insufficient_fallback_liquidity"
	case errors.Is(err, ErrInsufficientTraderBalance):
		return "insufficient_trader_balance"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrTradingClosed):
		return "trading_closed"
	case errors.Is(err, ErrIncidentNotFound):
		return "incident_not_found"
	case errors.Is(err, ErrIncidentResolved):
		return "incident_resolved"
	case errors.Is(err, ErrIncidentInProgress):
		return "incident_in_progress"
	case errors.Is(err, pricing.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrSettlementFailed):
		return "settlement_failed"
	default:
		return "internal_error"
	}
}
