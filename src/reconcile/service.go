package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tokenexchange/src/ledger"
	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
)

var ErrUnknownAsset = errors.New("unknown asset")

type Ledger interface {
	GetOrderCount(ctx context.Context, m ledger.Market) (uint64, error)
	GetOrder(ctx context.Context, m ledger.Market, id uint64) (*ledger.Order, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

type Mirror interface {
	FindByAsset(ctx context.Context, assetID string) ([]model.Order, error)
	RepairStatus(ctx context.Context, orderID uint, expected, next model.OrderStatus, qty decimal.Decimal, reason string) (bool, error)
	AttachLedgerOrderID(ctx context.Context, orderID uint, ledgerOrderID uint64) (bool, error)
}

type Markets interface {
	FindByAssetID(ctx context.Context, assetID string) (*model.Market, error)
}

// Service converges the mirror onto the ledger. Every repair is an
// independent single-row conditional update, so passes may overlap with each
// other and with live trading.
type Service struct {
	ledger      Ledger
	mirror      Mirror
	markets     Markets
	metrics     *metrics.Metrics
	log         *logrus.Entry
	concurrency int
}

func NewService(l Ledger, mirror Mirror, markets Markets, cfg Config, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		ledger:      l,
		mirror:      mirror,
		markets:     markets,
		log:         log.WithField("component", "reconcile"),
		concurrency: concurrency,
	}
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Reconcile compares every ledger order of the asset with the mirror and
// repairs status drift. If ctx ends mid-pass the report built so far is
// returned together with the context error. Status repairs only start once
// every ledger order has been read; repairs already applied stand.
func (s *Service) Reconcile(ctx context.Context, assetID string) (report *model.ReconciliationReport, err error) {
	report = &model.ReconciliationReport{
		AssetID:              assetID,
		MissingFromMirror:    []uint64{},
		StatusMismatches:     []model.StatusMismatch{},
		QuantitiesSynced:     []model.QuantitySync{},
		OrphanedMirrorOrders: []model.OrphanedOrder{},
		IdentifiersRepaired:  []model.IdentifierRepair{},
		StartedAt:            time.Now().UTC(),
	}
	log := s.log.WithField("asset_id", assetID)

	defer func() {
		report.FinishedAt = time.Now().UTC()
		s.metrics.ObserveReconcile(assetID, len(report.MissingFromMirror), len(report.StatusMismatches),
			len(report.OrphanedMirrorOrders), report.ReadErrors, err, report.FinishedAt.Sub(report.StartedAt))
	}()

	market, err := s.markets.FindByAssetID(ctx, assetID)
	if err != nil {
		return report, err
	}
	if market == nil {
		return report, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	lm := ledger.MarketFromModel(market)

	counter, err := s.ledger.GetOrderCount(ctx, lm)
	if err != nil {
		return report, fmt.Errorf("read order counter: %w", err)
	}
	report.LedgerOrderCounter = counter

	mirrorOrders, err := s.mirror.FindByAsset(ctx, assetID)
	if err != nil {
		return report, fmt.Errorf("read mirror orders: %w", err)
	}
	report.MirrorOrders = len(mirrorOrders)

	s.repairIdentifiers(ctx, log, mirrorOrders, report)

	byLedgerID := make(map[uint64]*model.Order, len(mirrorOrders))
	for i := range mirrorOrders {
		o := &mirrorOrders[i]
		if o.LedgerOrderID == nil {
			continue
		}
		if *o.LedgerOrderID > counter {
			report.OrphanedMirrorOrders = append(report.OrphanedMirrorOrders, model.OrphanedOrder{
				OrderID:       o.ID,
				LedgerOrderID: *o.LedgerOrderID,
			})
			continue
		}
		byLedgerID[*o.LedgerOrderID] = o
	}

	ledgerOrders, readErrors, err := s.readLedgerOrders(ctx, lm, counter)
	report.ReadErrors = readErrors
	report.LedgerOrders = len(ledgerOrders)
	if err != nil {
		// a partial read would report every unread order as missing
		ledgerOrders = nil
	}

	for _, lo := range ledgerOrders {
		mo, ok := byLedgerID[lo.ID]
		if !ok {
			report.MissingFromMirror = append(report.MissingFromMirror, lo.ID)
			continue
		}
		if repairErr := s.compare(ctx, mo, lo, report); repairErr != nil {
			log.WithFields(logrus.Fields{
				"order_id":        mo.ID,
				"ledger_order_id": lo.ID,
			}).WithError(repairErr).Error("Mirror repair failed")
		}
	}

	fields := logrus.Fields{
		"counter":              counter,
		"ledger_orders":        report.LedgerOrders,
		"mirror_orders":        report.MirrorOrders,
		"missing":              len(report.MissingFromMirror),
		"mismatches":           len(report.StatusMismatches),
		"quantities_synced":    len(report.QuantitiesSynced),
		"orphans":              len(report.OrphanedMirrorOrders),
		"identifiers_repaired": len(report.IdentifiersRepaired),
		"read_errors":          report.ReadErrors,
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Reconciliation aborted")
		return report, err
	}
	log.WithFields(fields).Info("Reconciliation finished")

	return report, nil
}

// maxPrealloc bounds the slice reserved up front for a ledger counter.
const maxPrealloc = 1024

// readLedgerOrders fetches ids 1..counter with bounded parallelism. Failed
// reads are counted, not returned. The result is ordered by id.
func (s *Service) readLedgerOrders(ctx context.Context, m ledger.Market, counter uint64) ([]*ledger.Order, int, error) {
	var (
		mu       sync.Mutex
		orders   = make([]*ledger.Order, 0, min(counter, maxPrealloc))
		failures int
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for id := uint64(1); id <= counter; id++ {
		if ctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o, err := s.ledger.GetOrder(ctx, m, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() == nil {
					failures++
					s.log.WithFields(logrus.Fields{
						"asset_id":        m.AssetID,
						"ledger_order_id": id,
					}).WithError(err).Warn("Ledger order read failed")
				}
				return nil
			}
			orders = append(orders, o)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

	if err := ctx.Err(); err != nil {
		return orders, failures, err
	}
	return orders, failures, nil
}

// target derives the mirror status and remaining quantity the ledger implies.
func target(current model.OrderStatus, lo *ledger.Order) (model.OrderStatus, decimal.Decimal) {
	if !lo.Active {
		if lo.State == ledger.OrderStateCancelled && lo.Quantity.IsPositive() {
			return model.OrderStatusCancelled, lo.Quantity
		}
		return model.OrderStatusFilled, decimal.Zero
	}
	if lo.Quantity.IsZero() {
		return model.OrderStatusFilled, decimal.Zero
	}
	if current.IsOpen() {
		return current, lo.Quantity
	}
	return model.OrderStatusOpen, lo.Quantity
}

func (s *Service) compare(ctx context.Context, mo *model.Order, lo *ledger.Order, report *model.ReconciliationReport) error {
	mirrorOpen := mo.Status.IsOpen()
	next, qty := target(mo.Status, lo)

	if mirrorOpen != lo.Active {
		applied, err := s.mirror.RepairStatus(ctx, mo.ID, mo.Status, next, qty, model.OrderLogReasonReconcile)
		if err != nil {
			return err
		}
		report.StatusMismatches = append(report.StatusMismatches, model.StatusMismatch{
			OrderID:       mo.ID,
			LedgerOrderID: lo.ID,
			Before:        mo.Status,
			After:         next,
			Applied:       applied,
		})
		return nil
	}

	if mirrorOpen && !mo.QuantityRemaining.Equal(qty) {
		if qty.IsPositive() && qty.LessThan(mo.QuantityRemaining) {
			next = model.OrderStatusPartiallyFilled
		}
		applied, err := s.mirror.RepairStatus(ctx, mo.ID, mo.Status, next, qty, model.OrderLogReasonReconcile)
		if err != nil {
			return err
		}
		report.QuantitiesSynced = append(report.QuantitiesSynced, model.QuantitySync{
			OrderID:       mo.ID,
			LedgerOrderID: lo.ID,
			Before:        mo.QuantityRemaining,
			After:         qty,
			Applied:       applied,
		})
	}
	return nil
}

// repairIdentifiers attaches ledger ids to mirror orders whose creation
// transaction has since been mined. Orders still pending are left alone.
func (s *Service) repairIdentifiers(ctx context.Context, log *logrus.Entry, orders []model.Order, report *model.ReconciliationReport) {
	for i := range orders {
		o := &orders[i]
		if o.LedgerOrderID != nil || o.CreationTxHash == "" || o.Status.IsTerminal() {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		receipt, err := s.ledger.GetTransactionReceipt(ctx, o.CreationTxHash)
		if err != nil {
			if !errors.Is(err, ledger.ErrReceiptNotFound) {
				log.WithField("order_id", o.ID).WithError(err).Warn("Creation receipt read failed")
			}
			continue
		}
		if !receipt.Success || receipt.CreatedOrderID == nil {
			log.WithFields(logrus.Fields{
				"order_id": o.ID,
				"tx_hash":  o.CreationTxHash,
				"success":  receipt.Success,
			}).Warn("Creation receipt carries no order id")
			continue
		}

		attached, err := s.mirror.AttachLedgerOrderID(ctx, o.ID, *receipt.CreatedOrderID)
		if err != nil {
			log.WithField("order_id", o.ID).WithError(err).Error("Attaching ledger order id failed")
			continue
		}
		if !attached {
			continue
		}

		id := *receipt.CreatedOrderID
		o.LedgerOrderID = &id
		report.IdentifiersRepaired = append(report.IdentifiersRepaired, model.IdentifierRepair{
			OrderID:        o.ID,
			LedgerOrderID:  id,
			CreationTxHash: o.CreationTxHash,
		})
	}
}
