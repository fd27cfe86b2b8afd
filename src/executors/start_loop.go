package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/matching"
	"tokenexchange/src/model"
)

type marketLister interface {
	ListActive(ctx context.Context) ([]model.Market, error)
}

type matchExecutor interface {
	ExecuteMatches(ctx context.Context, assetID string) (*matching.ExecutionResult, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, assetID string) (*model.ReconciliationReport, error)
}

// Loop periodically executes matches and reconciles the mirror for every
// active market.
type Loop struct {
	markets    marketLister
	matcher    matchExecutor
	reconciler reconciler
	cfg        Config
	tick       int
}

func NewLoop(markets marketLister, matcher matchExecutor, rec reconciler, cfg Config) *Loop {
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 1
	}
	return &Loop{markets: markets, matcher: matcher, reconciler: rec, cfg: cfg}
}

// RunOnce processes every active market once. Failures of one market are
// logged and do not stop the others. Reconciliation runs on the first tick
// and then every ReconcileEvery ticks.
func (l *Loop) RunOnce(ctx context.Context) error {
	markets, err := l.markets.ListActive(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to ListActive markets")
		return err
	}

	reconcile := l.tick%l.cfg.ReconcileEvery == 0
	l.tick++

	for _, m := range markets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := logger.WithField("asset_id", m.AssetID)

		if l.cfg.ExecuteMatches && !m.DeadlinePassed(time.Now()) {
			result, err := l.matcher.ExecuteMatches(ctx, m.AssetID)
			if err != nil {
				log.WithError(err).Error("ExecuteMatches failed")
			} else if result.Attempted > 0 {
				log.WithFields(logger.Fields{
					"trades": len(result.Trades),
					"failed": result.Failed,
				}).Info("Matches executed")
			}
		}

		if reconcile {
			if _, err := l.reconciler.Reconcile(ctx, m.AssetID); err != nil {
				log.WithError(err).Error("Reconcile failed")
			}
		}
	}
	return nil
}

// StartLoop runs RunOnce on every tick until ctx ends.
func (l *Loop) StartLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.LoopPeriod)
	defer ticker.Stop()

	logger.WithField("period", l.cfg.LoopPeriod).Info("loop started")
	if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Warn("loop tick failed")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Println("loop stopped")
			return nil

		case <-ticker.C:
			logger.Debug("loop tick")
			if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("loop tick failed")
			}
		}
	}
}
