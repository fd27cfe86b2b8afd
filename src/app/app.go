// Package app assembles the exchange services from their configuration.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tokenexchange/src/controller"
	"tokenexchange/src/database"
	"tokenexchange/src/events"
	"tokenexchange/src/executors"
	"tokenexchange/src/ledger"
	"tokenexchange/src/matching"
	"tokenexchange/src/metrics"
	"tokenexchange/src/pricing"
	"tokenexchange/src/reconcile"
	"tokenexchange/src/recorder"
	"tokenexchange/src/repository"
	"tokenexchange/src/settlement"
	"tokenexchange/src/stream"
)

// Deps are the external resources the services run on.
type Deps struct {
	DB         *gorm.DB
	SnapshotDB *gorm.DB
	Ledger     *ledger.Client
	Prices     pricing.Source
	// Optional. Trades are only streamed to websocket clients when nil.
	Producer *events.TradeProducer
	Registry *prometheus.Registry
}

type Config struct {
	Matching   matching.Config
	Reconcile  reconcile.Config
	Settlement settlement.Config
	Orders     controller.Config
	Loop       executors.Config
}

func GetConfig() Config {
	return Config{
		Matching:   matching.GetConfig(),
		Reconcile:  reconcile.GetConfig(),
		Settlement: settlement.GetConfig(),
		Orders:     controller.GetConfig(),
		Loop:       executors.GetConfig(),
	}
}

type App struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Ledger   *ledger.Client

	Orders    *repository.OrderRepository
	Markets   *repository.MarketRepository
	Trades    *repository.TradeRepository
	Incidents *repository.IncidentRepository

	Hub         *stream.Hub
	Recorder    *recorder.Recorder
	Matching    *matching.Service
	Reconcile   *reconcile.Service
	Fallback    *settlement.Executor
	Router      *settlement.Router
	OrderCtl    *controller.OrderController
	Loop        *executors.Loop
	producer    *events.TradeProducer
	closePrices func() error
}

// Assemble wires every service onto deps.
func Assemble(d Deps, cfg Config) *App {
	registry := d.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	snapshotDB := d.SnapshotDB
	if snapshotDB == nil {
		snapshotDB = d.DB
	}

	m := metrics.NewMetrics(registry)
	log := logrus.NewEntry(logrus.StandardLogger())
	client := d.Ledger.WithMetrics(m)

	orders := (&repository.OrderRepository{}).WithDB(d.DB)
	snapshot := (&repository.OrderRepository{}).WithDB(snapshotDB)
	markets := (&repository.MarketRepository{}).WithDB(d.DB)
	trades := (&repository.TradeRepository{}).WithDB(d.DB)
	incidents := (&repository.IncidentRepository{}).WithDB(d.DB)

	hub := stream.NewHub().WithMetrics(m)
	publishers := []recorder.Publisher{hub}
	if d.Producer != nil {
		publishers = append(publishers, d.Producer.WithMetrics(m))
	}
	rec := recorder.NewRecorder(trades, publishers...).WithMetrics(m)

	matcher := cfg.Matching.Apply(matching.NewService(snapshot, orders, markets, client, rec, log)).WithMetrics(m)
	reconciler := reconcile.NewService(client, orders, markets, cfg.Reconcile, log).WithMetrics(m)
	fallback := settlement.NewExecutor(client, markets, d.Prices, incidents, rec, cfg.Settlement, log).WithMetrics(m)

	return &App{
		Registry:  registry,
		Metrics:   m,
		Ledger:    client,
		Orders:    orders,
		Markets:   markets,
		Trades:    trades,
		Incidents: incidents,
		Hub:       hub,
		Recorder:  rec,
		Matching:  matcher,
		Reconcile: reconciler,
		Fallback:  fallback,
		Router:    settlement.NewRouter(snapshot, orders, client, markets, rec, fallback, log),
		OrderCtl:  controller.NewOrderController(client, orders, markets, cfg.Orders),
		Loop:      executors.NewLoop(markets, matcher, reconciler, cfg.Loop),
		producer:  d.Producer,
	}
}

// New connects to the ledger, price source and broker configured in the
// environment. database.InitMainDB and database.InitReadOnlyDB must have run.
func New(ctx context.Context) (*App, error) {
	if database.MainDB == nil {
		return nil, fmt.Errorf("main database is not initialized")
	}

	client, err := ledger.Dial(ctx, ledger.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}

	prices, closePrices, err := pricing.NewSource(pricing.GetConfig())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("price source: %w", err)
	}

	var producer *events.TradeProducer
	eventsCfg := events.GetConfig()
	if len(eventsCfg.Brokers) > 0 {
		producer, err = events.NewTradeProducer(eventsCfg)
		if err != nil {
			client.Close()
			_ = closePrices()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
	} else {
		logrus.Warn("KAFKA_BROKERS not set, trade events are not published")
	}

	a := Assemble(Deps{
		DB:         database.MainDB,
		SnapshotDB: database.ReadOnlyDB,
		Ledger:     client,
		Prices:     prices,
		Producer:   producer,
	}, GetConfig())
	a.closePrices = closePrices

	logrus.WithField("endpoint", client.BoundEndpoint()).Info("Exchange services ready")
	return a, nil
}

// Close releases the ledger, price cache and broker connections.
func (a *App) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logrus.WithError(err).Warn("kafka producer close failed")
		}
	}
	if a.closePrices != nil {
		if err := a.closePrices(); err != nil {
			logrus.WithError(err).Warn("price source close failed")
		}
	}
	a.Ledger.Close()
}

// Open initializes the databases and then calls New.
func Open(ctx context.Context) (*App, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, err
	}
	if err := database.InitReadOnlyDB(); err != nil {
		return nil, err
	}
	return New(ctx)
}
