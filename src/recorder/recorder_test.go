package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenexchange/src/ledger"
	"tokenexchange/src/model"
	"tokenexchange/src/repository"
	"tokenexchange/src/testutil"
)

type capturePublisher struct {
	mu     sync.Mutex
	trades []model.Trade
	err    error
}

func (p *capturePublisher) PublishTrade(_ context.Context, trade model.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, trade)
	return p.err
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.trades)
}

func details(hash string) TradeDetails {
	return TradeDetails{
		TransactionHash: hash,
		AssetID:         "GOLD",
		BuyerAddress:    testutil.AddrAlice,
		SellerAddress:   testutil.AddrBob,
		Quantity:        testutil.D("3"),
		ExecutionPrice:  testutil.D("9"),
		ExecutionSource: model.ExecutionSourceOrderBook,
	}
}

func newRecorder(t *testing.T, publishers ...Publisher) *Recorder {
	t.Helper()
	repo := (&repository.TradeRepository{}).WithDB(testutil.NewSQLiteDB(t))
	return NewRecorder(repo, publishers...)
}

func TestRecordTradeIsIdempotent(t *testing.T) {
	pub := &capturePublisher{}
	rec := newRecorder(t, pub)
	ctx := context.Background()
	hash := "0x" + strings.Repeat("AB", 32)

	first, err := rec.RecordTrade(ctx, details(hash))
	require.NoError(t, err)
	second, err := rec.RecordTrade(ctx, details(hash))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, strings.ToLower(hash), first.TransactionHash)
	assert.Equal(t, 1, pub.count())

	t.Run("duplicate with a different payload returns the stored row", func(t *testing.T) {
		other := details(hash)
		other.Quantity = testutil.D("50")

		got, err := rec.RecordTrade(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.True(t, testutil.D("3").Equal(got.Quantity))
		assert.Equal(t, 1, pub.count())
	})
}

func TestRecordTradeConcurrentRecordersInsertOnce(t *testing.T) {
	pub := &capturePublisher{}
	rec := newRecorder(t, pub)
	hash := "0x" + strings.Repeat("cd", 32)

	var wg sync.WaitGroup
	ids := make([]uint, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trade, err := rec.RecordTrade(context.Background(), details(hash))
			if assert.NoError(t, err) {
				ids[i] = trade.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, pub.count())
}

func TestRecordTradeValidation(t *testing.T) {
	rec := newRecorder(t)
	ctx := context.Background()

	bad := details("0x1234")
	_, err := rec.RecordTrade(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidTrade)

	bad = details("0x" + strings.Repeat("ef", 32))
	bad.Quantity = decimal.Zero
	_, err = rec.RecordTrade(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidTrade)

	bad = details("0x" + strings.Repeat("ef", 32))
	bad.ExecutionSource = "otc"
	_, err = rec.RecordTrade(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidTrade)
}

func TestRecordTradePublisherFailureDoesNotFailRecording(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	rec := newRecorder(t, pub)

	trade, err := rec.RecordTrade(context.Background(), details("0x"+strings.Repeat("12", 32)))
	require.NoError(t, err)
	assert.NotZero(t, trade.ID)
}

func TestConfirmAndRecord(t *testing.T) {
	backend := ledger.NewMemoryBackend("mem", testutil.AddrCustodian)
	client, err := ledger.NewClient(context.Background(), ledger.Config{
		ProbeTimeout:     time.Second,
		CustodianAddress: testutil.AddrCustodian,
	}, []ledger.Backend{backend})
	require.NoError(t, err)

	token := ledger.Token{Address: testutil.AddrToken, Decimals: 18}
	backend.Credit(token, testutil.AddrCustodian, testutil.D("5"))
	hash, err := client.SubmitTransfer(context.Background(), ledger.TransferRequest{
		Token: token, From: testutil.AddrCustodian, To: testutil.AddrAlice, Amount: testutil.D("1"),
	})
	require.NoError(t, err)

	rec := newRecorder(t)

	trade, err := rec.ConfirmAndRecord(context.Background(), client, details(hash))
	require.NoError(t, err)
	require.NotNil(t, trade.BlockNumber)
	assert.Equal(t, uint64(1), *trade.BlockNumber)

	_, err = rec.ConfirmAndRecord(context.Background(), client, details("0x"+strings.Repeat("77", 32)))
	assert.ErrorIs(t, err, ErrUnconfirmed)

	attached, err := rec.AttachBlockNumber(context.Background(), hash, 99)
	require.NoError(t, err)
	assert.False(t, attached)
}
