package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tokenexchange/src/auth"
	"tokenexchange/src/model"
	"tokenexchange/src/recorder"
	"tokenexchange/src/settlement"
)

type tradeRouter interface {
	Trade(ctx context.Context, req settlement.Request) (*settlement.Result, error)
}

type fallbackExecutor interface {
	ExecuteFallback(ctx context.Context, req settlement.Request) (*settlement.Result, error)
	Quote(ctx context.Context, req settlement.Request) (*settlement.Quote, error)
}

type tradeConfirmer interface {
	ConfirmAndRecord(ctx context.Context, receipts recorder.ReceiptReader, details recorder.TradeDetails) (*model.Trade, error)
}

type tradeLister interface {
	FindByAsset(ctx context.Context, assetID string, limit int) ([]model.Trade, error)
}

// tradeRequest reads a trade request body and binds it to the session trader.
func tradeRequest(w http.ResponseWriter, r *http.Request) (settlement.Request, bool) {
	var req settlement.Request
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return req, false
	}
	session, ok := auth.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return req, false
	}
	req.TraderAddress = session.TraderAddress
	return req, true
}

// TradeHandler fills against the order book and falls back to the custodian
// when no single resting order covers the request.
func TradeHandler(router tradeRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := tradeRequest(w, r)
		if !ok {
			return
		}
		result, err := router.Trade(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func FallbackTradeHandler(executor fallbackExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := tradeRequest(w, r)
		if !ok {
			return
		}
		result, err := executor.ExecuteFallback(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

// FallbackQuoteHandler prices a fallback trade without touching the ledger.
func FallbackQuoteHandler(executor fallbackExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		qty, err := decimal.NewFromString(q.Get("quantity"))
		if err != nil {
			badRequest(w, "quantity must be a decimal")
			return
		}
		quote, err := executor.Quote(r.Context(), settlement.Request{
			AssetID:  q.Get("asset_id"),
			Side:     model.OrderSide(q.Get("side")),
			Quantity: qty,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	}
}

// RecordTradeHandler records an execution settled outside this service once
// its transaction is confirmed. Recording the same hash twice returns the
// existing trade.
func RecordTradeHandler(rec tradeConfirmer, receipts recorder.ReceiptReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var details recorder.TradeDetails
		if err := decode(r, &details); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		trade, err := rec.ConfirmAndRecord(r.Context(), receipts, details)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, trade)
	}
}

func ListTradesHandler(trades tradeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := limitParam(r, 100)
		if !ok {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		list, err := trades.FindByAsset(r.Context(), chi.URLParam(r, "assetID"), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []model.Trade{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
