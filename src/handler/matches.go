package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tokenexchange/src/matching"
	"tokenexchange/src/model"
)

type matchFinder interface {
	FindMatches(ctx context.Context, assetID string) ([]matching.Candidate, error)
}

type matchExecutor interface {
	ExecuteMatches(ctx context.Context, assetID string) (*matching.ExecutionResult, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, assetID string) (*model.ReconciliationReport, error)
}

type matchesResponse struct {
	AssetID    string               `json:"asset_id"`
	Candidates []matching.Candidate `json:"candidates"`
}

// FindMatchesHandler lists crossing buy/sell pairs, best first.
// An optional ?limit truncates the list.
func FindMatchesHandler(finder matchFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assetID := chi.URLParam(r, "assetID")
		limit, ok := limitParam(r, 0)
		if !ok {
			badRequest(w, "limit must be a non-negative integer")
			return
		}

		candidates, err := finder.FindMatches(r.Context(), assetID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if limit > 0 {
			candidates = matching.Top(candidates, limit)
		}
		if candidates == nil {
			candidates = []matching.Candidate{}
		}

		writeJSON(w, http.StatusOK, matchesResponse{AssetID: assetID, Candidates: candidates})
	}
}

func ExecuteMatchesHandler(executor matchExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := executor.ExecuteMatches(r.Context(), chi.URLParam(r, "assetID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ReconcileHandler runs one reconciliation pass and returns its report.
func ReconcileHandler(svc reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Reconcile(r.Context(), chi.URLParam(r, "assetID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
