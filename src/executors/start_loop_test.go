package executors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenexchange/src/matching"
	"tokenexchange/src/model"
)

type mockMarkets struct {
	markets []model.Market
	err     error
}

func (m *mockMarkets) ListActive(ctx context.Context) ([]model.Market, error) {
	return m.markets, m.err
}

type recorderCalls struct {
	mu         sync.Mutex
	matched    []string
	reconciled []string
	matchErr   error
}

func (r *recorderCalls) ExecuteMatches(ctx context.Context, assetID string) (*matching.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched = append(r.matched, assetID)
	if r.matchErr != nil {
		return nil, r.matchErr
	}
	return &matching.ExecutionResult{AssetID: assetID}, nil
}

func (r *recorderCalls) Reconcile(ctx context.Context, assetID string) (*model.ReconciliationReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciled = append(r.reconciled, assetID)
	return &model.ReconciliationReport{AssetID: assetID}, nil
}

func (r *recorderCalls) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matched), len(r.reconciled)
}

func TestRunOnceMatchesOpenMarketsAndReconcilesAll(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	markets := &mockMarkets{markets: []model.Market{
		{AssetID: "GOLD"},
		{AssetID: "SILVER", TradingDeadline: &past},
	}}
	calls := &recorderCalls{}
	loop := NewLoop(markets, calls, calls, Config{ReconcileEvery: 2, ExecuteMatches: true})

	require.NoError(t, loop.RunOnce(context.Background()))
	assert.Equal(t, []string{"GOLD"}, calls.matched)
	assert.Equal(t, []string{"GOLD", "SILVER"}, calls.reconciled)

	// second tick skips reconciliation
	require.NoError(t, loop.RunOnce(context.Background()))
	matched, reconciled := calls.counts()
	assert.Equal(t, 2, matched)
	assert.Equal(t, 2, reconciled)

	require.NoError(t, loop.RunOnce(context.Background()))
	_, reconciled = calls.counts()
	assert.Equal(t, 4, reconciled)
}

func TestRunOnceContinuesAfterMatchFailure(t *testing.T) {
	markets := &mockMarkets{markets: []model.Market{{AssetID: "GOLD"}, {AssetID: "SILVER"}}}
	calls := &recorderCalls{matchErr: assert.AnError}
	loop := NewLoop(markets, calls, calls, Config{ReconcileEvery: 1, ExecuteMatches: true})

	require.NoError(t, loop.RunOnce(context.Background()))
	assert.Equal(t, []string{"GOLD", "SILVER"}, calls.matched)
	assert.Equal(t, []string{"GOLD", "SILVER"}, calls.reconciled)
}

func TestRunOnceReconcileOnly(t *testing.T) {
	markets := &mockMarkets{markets: []model.Market{{AssetID: "GOLD"}}}
	calls := &recorderCalls{}
	loop := NewLoop(markets, calls, calls, Config{ReconcileEvery: 1})

	require.NoError(t, loop.RunOnce(context.Background()))
	assert.Empty(t, calls.matched)
	assert.Equal(t, []string{"GOLD"}, calls.reconciled)
}

func TestRunOnceMarketListError(t *testing.T) {
	loop := NewLoop(&mockMarkets{err: assert.AnError}, &recorderCalls{}, &recorderCalls{}, Config{})
	assert.ErrorIs(t, loop.RunOnce(context.Background()), assert.AnError)
}

func TestStartLoopStopsOnCancel(t *testing.T) {
	markets := &mockMarkets{markets: []model.Market{{AssetID: "GOLD"}}}
	calls := &recorderCalls{}
	loop := NewLoop(markets, calls, calls, Config{LoopPeriod: 5 * time.Millisecond, ReconcileEvery: 1, ExecuteMatches: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.StartLoop(ctx) }()

	assert.Eventually(t, func() bool {
		matched, _ := calls.counts()
		return matched >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
