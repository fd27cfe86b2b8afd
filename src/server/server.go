package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/app"
	"tokenexchange/src/auth"
	"tokenexchange/src/handler"
	"tokenexchange/src/metrics"
	"tokenexchange/src/security"
)

// NewRouter builds the HTTP surface. Trader routes require the trader
// header; operator routes require the operator key.
func NewRouter(a *app.App, operatorKey string) chi.Router {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Handle("/metrics", metrics.Handler(a.Registry))
	r.Get("/ws/trades", a.Hub.ServeWS)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets/{assetID}/matches", handler.FindMatchesHandler(a.Matching))
		r.Get("/assets/{assetID}/trades", handler.ListTradesHandler(a.Trades))
		r.Get("/fallback/quote", handler.FallbackQuoteHandler(a.Fallback))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireTrader)
			r.Post("/trades", handler.TradeHandler(a.Router))
			r.Post("/fallback/trades", handler.FallbackTradeHandler(a.Fallback))
			r.Post("/orders", handler.PlaceOrderHandler(a.OrderCtl))
			r.Delete("/orders/{id}", handler.CancelOrderHandler(a.OrderCtl))
		})

		r.Group(func(r chi.Router) {
			r.Use(security.RequireOperator(operatorKey))
			r.Post("/assets/{assetID}/matches/execute", handler.ExecuteMatchesHandler(a.Matching))
			r.Post("/assets/{assetID}/reconcile", handler.ReconcileHandler(a.Reconcile))
			r.Post("/trades/record", handler.RecordTradeHandler(a.Recorder, a.Ledger))
			r.Post("/orders/{id}/confirm", handler.ConfirmOrderHandler(a.OrderCtl))
			r.Get("/incidents", handler.ListIncidentsHandler(a.Incidents))
			r.Post("/incidents/{id}/complete", handler.CompleteSettlementHandler(a.Fallback))
		})
	})

	return r
}

// StartServer serves h until ctx ends, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *Config, h http.Handler) error {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
