package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
)

type endpoint struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker[any]
}

// Client is the single entry point to the ledger. Reads fail over across the
// configured endpoints; submissions go to the bound endpoint only and are
// never retried, since a failed submission may still have been broadcast.
type Client struct {
	endpoints   []*endpoint
	custodian   string
	receiptPoll time.Duration
	metrics     *metrics.Metrics

	mu    sync.RWMutex
	bound int
}

// NewClient probes the backends in order and binds to the first one that
// answers within cfg.ProbeTimeout.
func NewClient(ctx context.Context, cfg Config, backends []Backend) (*Client, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrLedgerUnavailable)
	}

	c := &Client{
		custodian:   cfg.CustodianAddress,
		receiptPoll: cfg.ReceiptPoll,
		bound:       -1,
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = 2 * time.Second
	}

	for _, b := range backends {
		c.endpoints = append(c.endpoints, &endpoint{
			backend: b,
			breaker: newBreaker(b.Name(), cfg),
		})
	}

	var lastErr error
	for i, ep := range c.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		err := ep.backend.Ping(probeCtx)
		cancel()

		if err == nil {
			c.bound = i
			logger.WithFields(map[string]interface{}{
				"component": "LedgerClient",
				"endpoint":  ep.backend.Name(),
				"position":  i,
			}).Info("Bound ledger endpoint")
			return c, nil
		}

		lastErr = err
		logger.WithFields(map[string]interface{}{
			"component": "LedgerClient",
			"endpoint":  ep.backend.Name(),
		}).WithError(err).Warn("Ledger endpoint failed probe")
	}

	return nil, fmt.Errorf("%w: none of %d endpoints answered: %w", ErrLedgerUnavailable, len(backends), lastErr)
}

func newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker[any] {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "ledger:" + name,
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDefinitive(err)
		},
	})
}

// isDefinitive reports errors that are answers from a healthy endpoint.
func isDefinitive(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// Custodian is the fallback wallet address.
func (c *Client) Custodian() string {
	return c.custodian
}

// BoundEndpoint names the endpoint currently serving calls.
func (c *Client) BoundEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[c.bound].backend.Name()
}

func (c *Client) Close() {
	for _, ep := range c.endpoints {
		ep.backend.Close()
	}
}

func (c *Client) current() (int, *endpoint) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bound, c.endpoints[c.bound]
}

func (c *Client) rebind(from, to int) {
	c.mu.Lock()
	if c.bound == from {
		c.bound = to
	}
	c.mu.Unlock()

	fromName := c.endpoints[from].backend.Name()
	toName := c.endpoints[to].backend.Name()
	c.metrics.ObserveFailover(fromName, toName)
	logger.WithFields(map[string]interface{}{
		"component": "LedgerClient",
		"from":      fromName,
		"to":        toName,
	}).Warn("Ledger endpoint failover")
}

// read tries the bound endpoint and then every other candidate once.
func read[T any](ctx context.Context, c *Client, op string, fn func(Backend) (T, error)) (T, error) {
	var zero T

	start, _ := c.current()
	n := len(c.endpoints)

	var lastErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		idx := (start + i) % n
		ep := c.endpoints[idx]

		v, err := ep.breaker.Execute(func() (any, error) {
			return fn(ep.backend)
		})
		if err == nil || isDefinitive(err) {
			if i > 0 {
				c.rebind(start, idx)
			}
			if err != nil {
				return zero, err
			}
			return v.(T), nil
		}

		lastErr = err
		logger.WithFields(map[string]interface{}{
			"component": "LedgerClient",
			"op":        op,
			"endpoint":  ep.backend.Name(),
		}).WithError(err).Warn("Ledger read failed")
	}

	return zero, fmt.Errorf("%w: %s failed on all %d endpoints: %w", ErrLedgerUnavailable, op, n, lastErr)
}

func (c *Client) submit(op string, fn func(Backend) (string, error)) (string, error) {
	_, ep := c.current()

	v, err := ep.breaker.Execute(func() (any, error) {
		return fn(ep.backend)
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "LedgerClient",
			"op":        op,
			"endpoint":  ep.backend.Name(),
		}).WithError(err).Error("Ledger submission failed")

		return "", fmt.Errorf("%s via %s: %w", op, ep.backend.Name(), err)
	}

	txHash := v.(string)
	logger.WithFields(map[string]interface{}{
		"component": "LedgerClient",
		"op":        op,
		"tx_hash":   txHash,
	}).Info("Ledger transaction submitted")

	return txHash, nil
}

func (c *Client) GetOrderCount(ctx context.Context, m Market) (uint64, error) {
	return read(ctx, c, "getOrderCount", func(b Backend) (uint64, error) {
		return b.OrderCount(ctx, m)
	})
}

func (c *Client) GetOrder(ctx context.Context, m Market, id uint64) (*Order, error) {
	return read(ctx, c, "getOrder", func(b Backend) (*Order, error) {
		return b.GetOrder(ctx, m, id)
	})
}

func (c *Client) BalanceOf(ctx context.Context, token Token, owner string) (decimal.Decimal, error) {
	return read(ctx, c, "balanceOf", func(b Backend) (decimal.Decimal, error) {
		return b.BalanceOf(ctx, token, owner)
	})
}

func (c *Client) Allowance(ctx context.Context, token Token, owner, spender string) (decimal.Decimal, error) {
	return read(ctx, c, "allowance", func(b Backend) (decimal.Decimal, error) {
		return b.Allowance(ctx, token, owner, spender)
	})
}

func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	return read(ctx, c, "getTransactionReceipt", func(b Backend) (*Receipt, error) {
		return b.TransactionReceipt(ctx, txHash)
	})
}

func (c *Client) SubmitOrderCreation(ctx context.Context, m Market, maker string, side model.OrderSide, qty, price decimal.Decimal) (string, error) {
	return c.submit("submitOrderCreation", func(b Backend) (string, error) {
		return b.SubmitOrderCreation(ctx, m, maker, side, qty, price)
	})
}

func (c *Client) SubmitOrderFill(ctx context.Context, m Market, buyID, sellID uint64, qty decimal.Decimal) (string, error) {
	return c.submit("submitOrderFill", func(b Backend) (string, error) {
		return b.SubmitOrderFill(ctx, m, buyID, sellID, qty)
	})
}

func (c *Client) SubmitTakerFill(ctx context.Context, m Market, orderID uint64, taker string, qty decimal.Decimal) (string, error) {
	return c.submit("submitTakerFill", func(b Backend) (string, error) {
		return b.SubmitTakerFill(ctx, m, orderID, taker, qty)
	})
}

func (c *Client) SubmitOrderCancel(ctx context.Context, m Market, orderID uint64) (string, error) {
	return c.submit("submitOrderCancel", func(b Backend) (string, error) {
		return b.SubmitOrderCancel(ctx, m, orderID)
	})
}

func (c *Client) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	return c.submit("submitTransfer", func(b Backend) (string, error) {
		return b.SubmitTransfer(ctx, req)
	})
}

// WaitForReceipt polls until the transaction is mined or ctx ends. A mined
// but reverted transaction returns its receipt together with
// ErrTransactionReverted.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.GetTransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if !receipt.Success {
				return receipt, fmt.Errorf("%s: %w", txHash, ErrTransactionReverted)
			}
			return receipt, nil
		case errors.Is(err, ErrReceiptNotFound):
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}
