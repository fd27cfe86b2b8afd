package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/controller"
	"tokenexchange/src/ledger"
	"tokenexchange/src/matching"
	"tokenexchange/src/pricing"
	"tokenexchange/src/reconcile"
	"tokenexchange/src/recorder"
	"tokenexchange/src/settlement"
)

type errorResponse struct {
	Error           string           `json:"error"`
	Message         string           `json:"message"`
	Token           string           `json:"token,omitempty"`
	Required        *decimal.Decimal `json:"required,omitempty"`
	Available       *decimal.Decimal `json:"available,omitempty"`
	Shortfall       *decimal.Decimal `json:"shortfall,omitempty"`
	SettlementID    string           `json:"settlement_id,omitempty"`
	IncidentID      uint             `json:"incident_id,omitempty"`
	ConfirmedTxHash string           `json:"confirmed_tx_hash,omitempty"`
	PendingTxHash   string           `json:"pending_tx_hash,omitempty"`
}

type errorKind struct {
	err    error
	code   string
	status int
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{settlement.ErrPartialSettlement, "partial_settlement", http.StatusConflict},
	{settlement.ErrSettlementPending, "settlement_pending", http.StatusConflict},
	{settlement.ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{controller.ErrInvalidOrder, "invalid_request", http.StatusBadRequest},
	{recorder.ErrInvalidTrade, "invalid_request", http.StatusBadRequest},
	{settlement.ErrUnknownAsset, "unknown_asset", http.StatusNotFound},
	{matching.ErrUnknownAsset, "unknown_asset", http.StatusNotFound},
	{reconcile.ErrUnknownAsset, "unknown_asset", http.StatusNotFound},
	{controller.ErrUnknownAsset, "unknown_asset", http.StatusNotFound},
	{controller.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{settlement.ErrIncidentNotFound, "incident_not_found", http.StatusNotFound},
	{controller.ErrNotOwner, "not_owner", http.StatusForbidden},
	{settlement.ErrIncidentResolved, "incident_resolved", http.StatusConflict},
	{settlement.ErrIncidentInProgress, "incident_in_progress", http.StatusConflict},
	{controller.ErrNotCancellable, "not_cancellable", http.StatusConflict},
	{controller.ErrCreationPending, "creation_pending", http.StatusConflict},
	{recorder.ErrUnconfirmed, "unconfirmed", http.StatusConflict},
	{settlement.ErrFallbackDisabled, "fallback_disabled", http.StatusUnprocessableEntity},
	{settlement.ErrInsufficientFallbackLiquidity, "insufficient_fallback_liquidity", http.StatusUnprocessableEntity},
	{settlement.ErrInsufficientTraderBalance, "insufficient_trader_balance", http.StatusUnprocessableEntity},
	{settlement.ErrInsufficientAllowance, "insufficient_allowance", http.StatusUnprocessableEntity},
	{settlement.ErrTradingClosed, "trading_closed", http.StatusUnprocessableEntity},
	{controller.ErrTradingClosed, "trading_closed", http.StatusUnprocessableEntity},
	{ledger.ErrLedgerUnavailable, "ledger_unavailable", http.StatusServiceUnavailable},
	{pricing.ErrPriceUnavailable, "price_unavailable", http.StatusServiceUnavailable},
	{settlement.ErrSettlementFailed, "settlement_failed", http.StatusBadGateway},
	{controller.ErrLedgerRejected, "ledger_rejected", http.StatusBadGateway},
}

func classify(err error) (string, int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code, k.status
		}
	}
	return "internal_error", http.StatusInternalServerError
}

// writeError maps domain errors to a status and a body that keeps the
// details callers need to remediate.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	body := errorResponse{Error: code, Message: err.Error()}

	var shortfall *settlement.ShortfallError
	if errors.As(err, &shortfall) {
		required, available, missing := shortfall.Required, shortfall.Available, shortfall.Shortfall()
		body.Token = shortfall.Token
		body.Required = &required
		body.Available = &available
		body.Shortfall = &missing
	}
	var partial *settlement.PartialSettlementError
	if errors.As(err, &partial) {
		body.SettlementID = partial.SettlementID
		body.IncidentID = partial.IncidentID
		body.ConfirmedTxHash = partial.ConfirmedTxHash
		body.PendingTxHash = partial.PendingTxHash
	}
	var pending *settlement.PendingSettlementError
	if errors.As(err, &pending) {
		body.SettlementID = pending.SettlementID
		body.IncidentID = pending.IncidentID
		body.PendingTxHash = pending.TraderTxHash
	}

	entry := logger.WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  code,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
		if status == http.StatusInternalServerError {
			body.Message = "Internal Server Error"
		}
	} else {
		entry.Debug("Request rejected")
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func decode(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: msg})
}

func uintParam(r *http.Request, name string) (uint, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func limitParam(r *http.Request, def int) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
