package handler

import (
	"context"
	"net/http"

	"tokenexchange/src/auth"
	"tokenexchange/src/controller"
	"tokenexchange/src/model"
)

type orderPlacer interface {
	PlaceOrder(ctx context.Context, req controller.PlaceRequest) (*model.Order, error)
}

type orderConfirmer interface {
	ConfirmCreation(ctx context.Context, orderID uint) (*model.Order, error)
}

type orderCanceller interface {
	CancelOrder(ctx context.Context, orderID uint, owner string) (*model.Order, error)
}

// PlaceOrderHandler submits a limit order for the session trader. The order
// is returned as soon as its creation transaction is submitted.
func PlaceOrderHandler(placer orderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req controller.PlaceRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		session, ok := auth.GetSessionFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		req.OwnerAddress = session.TraderAddress

		order, err := placer.PlaceOrder(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, order)
	}
}

func ConfirmOrderHandler(confirmer orderConfirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uintParam(r, "id")
		if !ok {
			badRequest(w, "invalid order id")
			return
		}
		order, err := confirmer.ConfirmCreation(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func CancelOrderHandler(canceller orderCanceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uintParam(r, "id")
		if !ok {
			badRequest(w, "invalid order id")
			return
		}
		session, ok := auth.GetSessionFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		order, err := canceller.CancelOrder(r.Context(), id, session.TraderAddress)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}
