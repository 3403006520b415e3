package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

const rawContract = "0:6b1f0cf4a1e2d2b2f0a51f2f1e6f3b0c9b3f8a1d5c6e7f8091a2b3c4d5e6f708"

type reconcilerFixture struct {
	chain    *mockChain
	ledger   *mockLedger
	notifier *mockNotifier
	events   *mockEventStore
	sleeper  *recordingSleeper
	rec      *PurchaseReconciler
}

func newReconcilerFixture(t *testing.T, chain *mockChain, canon *mockCanonicalizer) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		chain:    chain,
		ledger:   newMockLedger(),
		notifier: &mockNotifier{},
		events:   &mockEventStore{},
		sleeper:  &recordingSleeper{},
	}
	if canon == nil {
		canon = &mockCanonicalizer{mapping: map[string]string{rawContract: testContract}}
	}
	cfg := DefaultReconcilerConfig()
	cfg.Sleep = f.sleeper.Sleep
	f.rec = NewPurchaseReconciler(chain, canon, f.ledger, f.ledger, f.notifier, NewEventRecorder(f.events), cfg)

	require.NoError(t, f.ledger.InsertOrder(context.Background(), &models.Order{
		ContractAddress: testContract,
		NftItemAddress:  testNft,
		OwnerAddress:    testOwner,
		Price:           decimal.NewFromInt(10),
		Hash:            "hash-1",
	}))
	return f
}

func (f *reconcilerFixture) orderStatus(t *testing.T) types.OrderStatus {
	t.Helper()
	order, err := f.ledger.GetByContract(context.Background(), testContract)
	require.NoError(t, err)
	return order.Status
}

func buyClaim(referral string) BuyClaim {
	return BuyClaim{
		SaleContractAddress: rawContract,
		FullPrice:           decimal.NewFromInt(10),
		Referral:            referral,
	}
}

func TestPurchaseReconciler_ConfirmedOnFirstPoll(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{states: []types.SaleState{types.SaleStateNotActive}}, nil)

	result, err := f.rec.ReconcileBuy(context.Background(), buyClaim("EQCreferrer"))
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.True(t, result.Transitioned)
	assert.True(t, result.BonusAccrued)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, testContract, result.ContractAddress)
	assert.Equal(t, 1, f.chain.saleCallCount())
	assert.Zero(t, f.sleeper.count())

	assert.Equal(t, types.OrderStatusSold, f.orderStatus(t))
	assert.Equal(t, []types.AnnouncementKind{types.AnnouncementSold}, f.notifier.kinds())
	assert.Equal(t, []types.MarketEventKind{types.MarketEventSold}, f.events.kinds())

	bonuses := f.ledger.bonusRows()
	require.Len(t, bonuses, 1)
	assert.Equal(t, "EQCreferrer", bonuses[0].UserWallet)
	assert.Equal(t, testContract, bonuses[0].ContractAddress)
	assert.True(t, decimal.NewFromInt(10).Equal(bonuses[0].Amount))
	assert.False(t, bonuses[0].Processed)
}

func TestPurchaseReconciler_BudgetExhausted(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{states: []types.SaleState{types.SaleStateActive}}, nil)

	result, err := f.rec.ReconcileBuy(context.Background(), buyClaim("EQCreferrer"))
	require.NoError(t, err)

	assert.False(t, result.Confirmed)
	assert.Equal(t, 6, result.Attempts)
	assert.Equal(t, 6, f.chain.saleCallCount())
	require.Equal(t, 5, f.sleeper.count())
	for _, d := range f.sleeper.delays {
		assert.Equal(t, 5*time.Second, d)
	}

	assert.Equal(t, types.OrderStatusActive, f.orderStatus(t))
	assert.Zero(t, f.ledger.transitionCount())
	assert.Empty(t, f.ledger.bonusRows())
	assert.Empty(t, f.notifier.kinds())
}

func TestPurchaseReconciler_GatewayErrorsCountAsAttempts(t *testing.T) {
	chain := &mockChain{
		stateErrs: []error{errGatewayDown, errGatewayDown},
		states:    []types.SaleState{types.SaleStateError, types.SaleStateError, types.SaleStateNotActive},
	}
	f := newReconcilerFixture(t, chain, nil)

	result, err := f.rec.ReconcileBuy(context.Background(), buyClaim(""))
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Equal(t, 3, result.Attempts)
	assert.False(t, result.BonusAccrued)
	assert.Empty(t, f.ledger.bonusRows())
	assert.Equal(t, types.OrderStatusSold, f.orderStatus(t))
}

func TestPurchaseReconciler_ConcurrentCallbacksTransitionOnce(t *testing.T) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	chain := &mockChain{
		states: []types.SaleState{types.SaleStateNotActive},
		stateHook: func() {
			entered <- struct{}{}
			<-release
		},
	}
	f := newReconcilerFixture(t, chain, nil)

	var wg sync.WaitGroup
	results := make([]*BuyResult, 2)
	errs := make([]error, 2)
	call := func(i int) {
		defer wg.Done()
		results[i], errs[i] = f.rec.ReconcileBuy(context.Background(), buyClaim("EQCreferrer"))
	}

	wg.Add(2)
	go call(0)
	<-entered
	go call(1)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Confirmed)
	}

	assert.Equal(t, 1, f.ledger.transitionCount())
	assert.Len(t, f.ledger.bonusRows(), 1)
	assert.Equal(t, []types.AnnouncementKind{types.AnnouncementSold}, f.notifier.kinds())
}

func TestPurchaseReconciler_OverlappingCallbacksKeepOwnReferral(t *testing.T) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	chain := &mockChain{
		states: []types.SaleState{types.SaleStateActive, types.SaleStateNotActive},
		stateHook: func() {
			entered <- struct{}{}
			<-release
		},
	}
	f := newReconcilerFixture(t, chain, nil)

	var (
		wg               sync.WaitGroup
		plain, referred  *BuyResult
		plainErr, refErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		plain, plainErr = f.rec.ReconcileBuy(context.Background(), buyClaim(""))
	}()
	<-entered
	go func() {
		defer wg.Done()
		referred, refErr = f.rec.ReconcileBuy(context.Background(), buyClaim("EQCreferrer"))
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, plainErr)
	require.NoError(t, refErr)
	assert.True(t, plain.Confirmed)
	assert.True(t, referred.Confirmed)
	assert.False(t, plain.BonusAccrued)
	assert.True(t, referred.BonusAccrued)

	bonuses := f.ledger.bonusRows()
	require.Len(t, bonuses, 1)
	assert.Equal(t, "EQCreferrer", bonuses[0].UserWallet)
	assert.Equal(t, testContract, bonuses[0].ContractAddress)

	assert.Equal(t, 1, f.ledger.transitionCount())
	assert.Equal(t, types.OrderStatusSold, f.orderStatus(t))
	assert.Equal(t, []types.AnnouncementKind{types.AnnouncementSold}, f.notifier.kinds())
}

// perContractChain reports a contract active on its first poll and sold afterwards
type perContractChain struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *perContractChain) GetRecentTransactions(ctx context.Context, address string) ([]models.ChainTransaction, error) {
	return nil, nil
}

func (p *perContractChain) GetSaleState(ctx context.Context, address string) (types.SaleState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[address]++
	if p.calls[address] == 1 {
		return types.SaleStateActive, nil
	}
	return types.SaleStateNotActive, nil
}

func TestPurchaseReconciler_DifferentContractsPollInParallel(t *testing.T) {
	const interval = 150 * time.Millisecond
	contracts := []string{"EQCsale-a", "EQCsale-b", "EQCsale-c", "EQCsale-d"}

	chain := &perContractChain{calls: make(map[string]int)}
	ledger := newMockLedger()
	for i, c := range contracts {
		require.NoError(t, ledger.InsertOrder(context.Background(), &models.Order{
			ContractAddress: c,
			NftItemAddress:  testNft,
			OwnerAddress:    testOwner,
			Price:           decimal.NewFromInt(10),
			Hash:            "hash-" + c,
		}), "order %d", i)
	}

	// real sleeps between polls
	rec := NewPurchaseReconciler(chain, &mockCanonicalizer{}, ledger, ledger, &mockNotifier{}, NewEventRecorder(nil),
		ReconcilerConfig{PollInterval: interval, AttemptBudget: 3})

	var wg sync.WaitGroup
	results := make([]*BuyResult, len(contracts))
	errs := make([]error, len(contracts))

	start := time.Now()
	for i, c := range contracts {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			results[i], errs[i] = rec.ReconcileBuy(context.Background(), BuyClaim{
				SaleContractAddress: c,
				FullPrice:           decimal.NewFromInt(10),
			})
		}(i, c)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i := range contracts {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Confirmed)
		assert.Equal(t, 2, results[i].Attempts)
		assert.True(t, results[i].Transitioned)
	}
	assert.Equal(t, len(contracts), ledger.transitionCount())

	assert.GreaterOrEqual(t, elapsed, interval)
	assert.Less(t, elapsed, 2*interval, "polls for different contracts ran one after another")
}

func TestPurchaseReconciler_RepeatedBuyAfterSale(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{states: []types.SaleState{types.SaleStateNotActive}}, nil)
	ctx := context.Background()

	_, err := f.rec.ReconcileBuy(ctx, buyClaim("EQCreferrer"))
	require.NoError(t, err)

	again, err := f.rec.ReconcileBuy(ctx, buyClaim("EQCreferrer"))
	require.NoError(t, err)
	assert.True(t, again.Confirmed)
	assert.False(t, again.Transitioned)
	assert.False(t, again.BonusAccrued)

	assert.Len(t, f.ledger.bonusRows(), 1)
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestPurchaseReconciler_CanonicalizationFallback(t *testing.T) {
	chain := &mockChain{states: []types.SaleState{types.SaleStateNotActive}}
	f := newReconcilerFixture(t, chain, &mockCanonicalizer{err: errors.New("packAddress failed")})

	claim := buyClaim("")
	claim.SaleContractAddress = testContract
	result, err := f.rec.ReconcileBuy(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, testContract, result.ContractAddress)
	assert.True(t, result.Transitioned)
}

func TestPurchaseReconciler_BuyForUnknownContract(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{states: []types.SaleState{types.SaleStateNotActive}}, &mockCanonicalizer{})

	claim := buyClaim("EQCreferrer")
	claim.SaleContractAddress = "EQCunknown"
	result, err := f.rec.ReconcileBuy(context.Background(), claim)
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.False(t, result.Transitioned)
	assert.True(t, result.BonusAccrued)
	assert.Empty(t, f.notifier.kinds())
	assert.Equal(t, types.OrderStatusActive, f.orderStatus(t))
}

func TestPurchaseReconciler_LedgerFailure(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{states: []types.SaleState{types.SaleStateNotActive}}, nil)
	f.ledger.statusErr = errors.New("connection reset")

	result, err := f.rec.ReconcileBuy(context.Background(), buyClaim("EQCreferrer"))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Empty(t, f.ledger.bonusRows())
}

func TestPurchaseReconciler_InvalidBuyClaim(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{}, nil)
	ctx := context.Background()

	_, err := f.rec.ReconcileBuy(ctx, BuyClaim{FullPrice: decimal.NewFromInt(1)})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.rec.ReconcileBuy(ctx, BuyClaim{SaleContractAddress: rawContract, FullPrice: decimal.Zero})
	assert.True(t, apperrors.IsValidation(err))

	assert.Zero(t, f.chain.saleCallCount())
}

func TestPurchaseReconciler_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	chain := &mockChain{
		states:    []types.SaleState{types.SaleStateNotActive},
		stateHook: func() { <-release },
	}
	f := newReconcilerFixture(t, chain, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.rec.ReconcileBuy(ctx, buyClaim(""))
	assert.ErrorIs(t, err, context.Canceled)

	// the detached poll still records the sale
	close(release)
	assert.Eventually(t, func() bool {
		return f.ledger.transitionCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPurchaseReconciler_CancelIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{}, nil)
	ctx := context.Background()

	first, err := f.rec.ReconcileCancel(ctx, rawContract)
	require.NoError(t, err)
	assert.True(t, first.Transitioned)
	assert.Equal(t, testContract, first.ContractAddress)

	second, err := f.rec.ReconcileCancel(ctx, rawContract)
	require.NoError(t, err)
	assert.False(t, second.Transitioned)

	assert.Equal(t, types.OrderStatusCanceled, f.orderStatus(t))
	assert.Equal(t, 1, f.ledger.transitionCount())
	assert.Zero(t, f.chain.saleCallCount())
	assert.Equal(t, []types.MarketEventKind{types.MarketEventCanceled}, f.events.kinds())

	_, err = f.rec.ReconcileCancel(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestPurchaseReconciler_NoResurrectionAfterCancel(t *testing.T) {
	f := newReconcilerFixture(t, &mockChain{states: []types.SaleState{types.SaleStateNotActive}}, nil)
	ctx := context.Background()

	_, err := f.rec.ReconcileCancel(ctx, rawContract)
	require.NoError(t, err)

	result, err := f.rec.ReconcileBuy(ctx, buyClaim(""))
	require.NoError(t, err)
	assert.False(t, result.Transitioned)
	assert.Equal(t, types.OrderStatusCanceled, f.orderStatus(t))
}
