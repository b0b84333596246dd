package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/rfq"
	"github.com/covault/vaultrfq/internal/vault"
)

const testVaultAddr = "0x00000000000000000000000000000000000000aa"

// fakeNegotiator scripts the engine surface the auction runner drives.
type fakeNegotiator struct {
	mu sync.Mutex

	rfq        domain.RFQ
	created    []domain.RFQParams
	cancelled  []string
	executed   []string // quote IDs
	execErr    error
	createErr  error
	pendingQts []domain.Quote // delivered on subscribe
}

func (f *fakeNegotiator) CreateRFQ(_ context.Context, params domain.RFQParams) (domain.RFQ, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.RFQ{}, f.createErr
	}
	f.created = append(f.created, params)
	f.rfq = domain.RFQ{
		ID:        fmt.Sprintf("rfq-%d", len(f.created)),
		Params:    params,
		Status:    domain.RFQStatusOpen,
		CreatedAt: time.Now(),
	}
	return f.rfq, nil
}

func (f *fakeNegotiator) SubscribeQuotes(rfqID string, cb rfq.QuoteCallback) error {
	f.mu.Lock()
	quotes := f.pendingQts
	f.rfq.Quotes = append(f.rfq.Quotes, quotes...)
	f.mu.Unlock()

	for _, q := range quotes {
		cb(q)
	}
	return nil
}

func (f *fakeNegotiator) UnsubscribeQuotes(string) error { return nil }

func (f *fakeNegotiator) ExecuteOption(_ context.Context, rfqID, quoteID string) (domain.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return domain.Fill{}, f.execErr
	}
	f.executed = append(f.executed, quoteID)
	f.rfq.Status = domain.RFQStatusFilled

	var premium int64
	for _, q := range f.rfq.Quotes {
		if q.ID == quoteID {
			premium = q.PremiumTicks
		}
	}
	fill := domain.Fill{
		QuoteID:      quoteID,
		PremiumTicks: premium,
		TxRef:        "tx-1",
		FilledAt:     time.Now(),
	}
	f.rfq.Fill = &fill
	return fill, nil
}

func (f *fakeNegotiator) CancelRFQ(rfqID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, rfqID)
	f.rfq.Status = domain.RFQStatusCancelled
	return nil
}

func (f *fakeNegotiator) GetRFQ(string) (domain.RFQ, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rfq, nil
}

type fakeSpot struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeSpot() *fakeSpot {
	return &fakeSpot{prices: make(map[string]float64)}
}

func (f *fakeSpot) SetSpot(_ context.Context, asset string, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
	return nil
}

func (f *fakeSpot) GetSpot(_ context.Context, asset string) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[asset]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (f *fakeSpot) History(context.Context, string, int) ([]float64, error) {
	return nil, nil
}

func testAuctionConfig() AuctionConfig {
	return AuctionConfig{
		Asset:          "SOL",
		OptionType:     domain.OptionCall,
		StrikeDeltaBps: 1000, // 10% OTM
		ExpiryAhead:    7 * 24 * time.Hour,
		MinQuotes:      2,
		QuoteTimeout:   300 * time.Millisecond,
	}
}

func newAuctionHarness(t *testing.T, neg *fakeNegotiator) (*AuctionService, *vault.Book) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	book := vault.NewBook(logger)
	book.Add(domain.Vault{
		AssetID:           "SOL",
		VaultAddress:      testVaultAddr,
		TotalAssets:       1_000 * domain.AmountScale,
		TotalShares:       1_000 * domain.AmountScale,
		UtilizationCapBps: 5_000,
	})

	spot := newFakeSpot()
	require.NoError(t, spot.SetSpot(context.Background(), "SOL", 100))

	return NewAuctionService(neg, book, spot, nil, nil, logger), book
}

func TestRunOnceFillsBestQuote(t *testing.T) {
	neg := &fakeNegotiator{pendingQts: []domain.Quote{
		{ID: "q-low", PremiumTicks: 400_000, ReceivedAt: time.Now()},
		{ID: "q-high", PremiumTicks: 450_000, ReceivedAt: time.Now()},
	}}
	svc, _ := newAuctionHarness(t, neg)

	res, err := svc.RunOnce(context.Background(), testAuctionConfig())
	require.NoError(t, err)
	assert.True(t, res.Filled)
	require.NotNil(t, res.Fill)
	assert.Equal(t, "q-high", res.Fill.QuoteID)
	assert.Equal(t, []string{"q-high"}, neg.executed)

	// The created RFQ carries the suggested strike: 10% above spot 100.
	require.Len(t, neg.created, 1)
	params := neg.created[0]
	assert.Equal(t, domain.SideSell, params.Side)
	assert.InDelta(t, 110.0, params.Strike(), 1e-9)
	// Full remaining capacity: 50% cap of 1000 assets.
	assert.Equal(t, int64(500*domain.AmountScale), params.SizeUnits)
}

func TestRunOnceSizeFraction(t *testing.T) {
	neg := &fakeNegotiator{pendingQts: []domain.Quote{
		{ID: "q-1", PremiumTicks: 400_000},
		{ID: "q-2", PremiumTicks: 410_000},
	}}
	svc, _ := newAuctionHarness(t, neg)

	cfg := testAuctionConfig()
	cfg.SizeFractionBps = 2_000 // 20% of remaining capacity

	_, err := svc.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, neg.created, 1)
	assert.Equal(t, int64(100*domain.AmountScale), neg.created[0].SizeUnits)
}

func TestRunOnceNoCapacity(t *testing.T) {
	neg := &fakeNegotiator{}
	svc, book := newAuctionHarness(t, neg)

	acct, err := book.Get("SOL")
	require.NoError(t, err)
	_, err = acct.RecordExposure(500*domain.AmountScale, 0)
	require.NoError(t, err)

	_, err = svc.RunOnce(context.Background(), testAuctionConfig())
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Empty(t, neg.created)
}

func TestRunOnceDeduplicatesPerEpoch(t *testing.T) {
	neg := &fakeNegotiator{pendingQts: []domain.Quote{
		{ID: "q-1", PremiumTicks: 400_000},
		{ID: "q-2", PremiumTicks: 410_000},
	}}
	svc, _ := newAuctionHarness(t, neg)

	_, err := svc.RunOnce(context.Background(), testAuctionConfig())
	require.NoError(t, err)

	res, err := svc.RunOnce(context.Background(), testAuctionConfig())
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Contains(t, res.Reason, "already running")
	assert.Len(t, neg.created, 1)
}

func TestRunOnceCancelsWithoutEnoughQuotes(t *testing.T) {
	neg := &fakeNegotiator{pendingQts: []domain.Quote{
		{ID: "q-only", PremiumTicks: 400_000},
	}}
	svc, _ := newAuctionHarness(t, neg)

	cfg := testAuctionConfig()
	cfg.QuoteTimeout = 100 * time.Millisecond

	res, err := svc.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Equal(t, "not enough quotes", res.Reason)
	assert.Len(t, neg.cancelled, 1)
	assert.Empty(t, neg.executed)
}

func TestRunOnceNoSpot(t *testing.T) {
	neg := &fakeNegotiator{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := vault.NewBook(logger)
	book.Add(domain.Vault{
		AssetID:           "SOL",
		VaultAddress:      testVaultAddr,
		TotalAssets:       1_000 * domain.AmountScale,
		UtilizationCapBps: 5_000,
	})
	svc := NewAuctionService(neg, book, newFakeSpot(), nil, nil, logger)

	_, err := svc.RunOnce(context.Background(), testAuctionConfig())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, neg.created)
}

func TestRunOnceExecutionFailureCancels(t *testing.T) {
	neg := &fakeNegotiator{
		pendingQts: []domain.Quote{
			{ID: "q-1", PremiumTicks: 400_000},
			{ID: "q-2", PremiumTicks: 410_000},
		},
		execErr: fmt.Errorf("rfq: %w", domain.ErrCapacityExceeded),
	}
	svc, _ := newAuctionHarness(t, neg)

	res, err := svc.RunOnce(context.Background(), testAuctionConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapacityExceeded))
	assert.False(t, res.Filled)
	assert.Len(t, neg.cancelled, 1)
}

func TestBestQuotePrefersEarlierOnTie(t *testing.T) {
	quotes := []domain.Quote{
		{ID: "first", PremiumTicks: 400_000},
		{ID: "second", PremiumTicks: 400_000},
	}
	assert.Equal(t, "first", bestQuote(quotes).ID)
}
