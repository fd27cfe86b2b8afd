package handler

import (
	"context"
	"net/http"

	"tokenexchange/src/model"
	"tokenexchange/src/settlement"
)

type partialCompleter interface {
	CompletePartial(ctx context.Context, incidentID uint) (*settlement.Result, error)
}

type incidentLister interface {
	ListOpen(ctx context.Context) ([]model.Incident, error)
}

func ListIncidentsHandler(incidents incidentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := incidents.ListOpen(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []model.Incident{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CompleteSettlementHandler finishes the custodian leg of a partial
// fallback settlement.
func CompleteSettlementHandler(completer partialCompleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uintParam(r, "id")
		if !ok {
			badRequest(w, "invalid incident id")
			return
		}
		result, err := completer.CompletePartial(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
