package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tonft-app/backend/internal/adapter"
	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/retry"
	"github.com/tonft-app/backend/internal/storage"
	"github.com/tonft-app/backend/internal/types"
)

var errSaleStillActive = errors.New("sale contract still active")

// BuyClaim is an untrusted callback claiming a sale contract was bought
type BuyClaim struct {
	SaleContractAddress string
	FullPrice           decimal.Decimal
	Referral            string
}

// BuyResult reports the outcome of a buy reconciliation
type BuyResult struct {
	ContractAddress string `json:"contractAddress"`
	Confirmed       bool   `json:"confirmed"`
	Attempts        int    `json:"attempts"`
	Transitioned    bool   `json:"transitioned"`
	BonusAccrued    bool   `json:"bonusAccrued"`
}

// CancelResult reports the outcome of a cancel reconciliation
type CancelResult struct {
	ContractAddress string `json:"contractAddress"`
	Transitioned    bool   `json:"transitioned"`
}

// ReconcilerConfig configures the bounded sale state poll
type ReconcilerConfig struct {
	PollInterval  time.Duration
	AttemptBudget int
	// Sleep waits between polls; nil means retry.ContextSleep
	Sleep retry.Sleeper
}

// DefaultReconcilerConfig polls every 5 seconds, 6 times
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PollInterval:  5 * time.Second,
		AttemptBudget: 6,
	}
}

// PurchaseReconciler confirms buy and cancel callbacks against chain state and drives
// the order status machine
type PurchaseReconciler struct {
	chain         adapter.ChainStateReader
	canonicalizer adapter.AddressCanonicalizer
	orders        OrderLedger
	bonuses       BonusLedger
	notifier      adapter.Notifier
	events        *EventRecorder
	cfg           ReconcilerConfig
	group         singleflight.Group
	metrics       *metrics.MarketplaceMetrics
}

// NewPurchaseReconciler creates a new purchase reconciler
func NewPurchaseReconciler(
	chain adapter.ChainStateReader,
	canonicalizer adapter.AddressCanonicalizer,
	orders OrderLedger,
	bonuses BonusLedger,
	notifier adapter.Notifier,
	events *EventRecorder,
	cfg ReconcilerConfig,
) *PurchaseReconciler {
	if cfg.AttemptBudget <= 0 {
		cfg.AttemptBudget = DefaultReconcilerConfig().AttemptBudget
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.ContextSleep
	}

	return &PurchaseReconciler{
		chain:         chain,
		canonicalizer: canonicalizer,
		orders:        orders,
		bonuses:       bonuses,
		notifier:      notifier,
		events:        events,
		cfg:           cfg,
		metrics:       metrics.Marketplace(),
	}
}

// ReconcileBuy polls the sale contract until it collapses or the attempt budget runs
// out. A confirmed sale moves the active order to sold, announces it and accrues the
// referral bonus. Concurrent calls for the same contract share one poll but each
// applies its own referral.
func (r *PurchaseReconciler) ReconcileBuy(ctx context.Context, claim BuyClaim) (*BuyResult, error) {
	if strings.TrimSpace(claim.SaleContractAddress) == "" {
		return nil, apperrors.NewMissingParameterError("saleContractAddress")
	}
	if !claim.FullPrice.IsPositive() {
		return nil, apperrors.NewInvalidParameterError("fullPrice", "must be greater than zero")
	}

	contract := r.canonicalize(ctx, claim.SaleContractAddress)

	// The poll and the ledger work outlive a disconnected caller so that a confirmed
	// sale is always recorded.
	detached := context.WithoutCancel(ctx)
	done := make(chan buyOutcome, 1)
	go func() {
		poll := r.pollShared(detached, contract)
		result, err := r.applyBuy(detached, contract, claim, poll)
		done <- buyOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type buyOutcome struct {
	result *BuyResult
	err    error
}

// pollShared runs one sale state poll per contract at a time. Callers arriving while
// a poll is in flight wait for its outcome instead of starting their own.
func (r *PurchaseReconciler) pollShared(ctx context.Context, contract string) *retry.RetryResult {
	res := <-r.group.DoChan("poll:"+contract, func() (interface{}, error) {
		return r.pollSaleState(ctx, contract), nil
	})
	return res.Val.(*retry.RetryResult)
}

func (r *PurchaseReconciler) pollSaleState(ctx context.Context, contract string) *retry.RetryResult {
	logger := logging.FromContext(ctx).WithField("contract", contract)

	pollCfg := retry.FixedIntervalConfig(r.cfg.AttemptBudget, r.cfg.PollInterval)
	pollCfg.Sleep = r.cfg.Sleep

	return retry.WithExponentialBackoff(ctx, pollCfg, func(ctx context.Context, attempt int) error {
		state, err := r.chain.GetSaleState(ctx, contract)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Debug("Sale state lookup failed")
			return err
		}
		if state != types.SaleStateNotActive {
			return errSaleStillActive
		}
		return nil
	})
}

// applyBuy records a confirmed sale for one caller. Every caller applies its own
// claim; the forward-only transition and the per-contract bonus key keep repeats
// harmless.
func (r *PurchaseReconciler) applyBuy(ctx context.Context, contract string, claim BuyClaim, poll *retry.RetryResult) (*BuyResult, error) {
	logger := logging.FromContext(ctx).WithField("contract", contract)
	result := &BuyResult{ContractAddress: contract, Attempts: poll.Attempts}

	if !poll.Success {
		logger.WithField("attempts", poll.Attempts).Warn("Buy callback not confirmed on chain, possibly fake buy")
		r.metrics.ObserveBuy("timed_out", poll.Attempts)
		return result, nil
	}
	result.Confirmed = true

	transitioned, err := r.orders.SetStatusByContract(ctx, contract, types.OrderStatusSold)
	if err != nil {
		r.metrics.ObserveBuy("error", poll.Attempts)
		return nil, apperrors.NewDatabaseError("mark order sold", err)
	}
	result.Transitioned = transitioned

	order, err := r.orders.GetByContract(ctx, contract)
	switch {
	case err == nil:
		if transitioned {
			r.events.Record(ctx, types.MarketEventSold, order)
			r.announceSold(ctx, order)
		}
	case errors.Is(err, storage.ErrOrderNotFound):
		logger.Info("Confirmed buy for a contract without a recorded order")
	default:
		logger.WithError(err).Warn("Failed to load order after confirmed buy")
	}

	if referral := strings.TrimSpace(claim.Referral); referral != "" {
		inserted, err := r.bonuses.InsertBonus(ctx, &models.ReferralBonus{
			UserWallet:      referral,
			Amount:          claim.FullPrice,
			ContractAddress: contract,
		})
		if err != nil {
			r.metrics.ObserveBuy("error", poll.Attempts)
			return nil, apperrors.NewDatabaseError("insert referral bonus", err)
		}
		result.BonusAccrued = inserted
	}

	logger.WithFields(map[string]interface{}{
		"attempts":     poll.Attempts,
		"transitioned": transitioned,
		"bonus":        result.BonusAccrued,
	}).Info("Buy confirmed")
	r.metrics.ObserveBuy("confirmed", poll.Attempts)

	return result, nil
}

func (r *PurchaseReconciler) announceSold(ctx context.Context, order *models.Order) {
	err := r.notifier.Announce(ctx, models.Announcement{
		Kind:            types.AnnouncementSold,
		ContractAddress: order.ContractAddress,
		NftItemAddress:  order.NftItemAddress,
		OwnerAddress:    order.OwnerAddress,
		Price:           order.Price,
		Hash:            order.Hash,
	})
	if err != nil {
		logging.FromContext(ctx).WithError(apperrors.NewNotificationError("telegram", err)).
			WithField("contract", order.ContractAddress).Warn("Failed to announce sale")
	}
}

// ReconcileCancel moves the active order of the sale contract to canceled. Cancel
// callbacks are trusted and never polled; repeating the call is a no-op.
func (r *PurchaseReconciler) ReconcileCancel(ctx context.Context, saleContractAddress string) (*CancelResult, error) {
	if strings.TrimSpace(saleContractAddress) == "" {
		return nil, apperrors.NewMissingParameterError("saleContractAddress")
	}

	contract := r.canonicalize(ctx, saleContractAddress)

	transitioned, err := r.orders.SetStatusByContract(ctx, contract, types.OrderStatusCanceled)
	if err != nil {
		return nil, apperrors.NewDatabaseError("mark order canceled", err)
	}
	r.metrics.ObserveCancel(transitioned)

	if transitioned {
		if order, err := r.orders.GetByContract(ctx, contract); err == nil {
			r.events.Record(ctx, types.MarketEventCanceled, order)
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"contract":     contract,
		"transitioned": transitioned,
	}).Info("Cancel reconciled")

	return &CancelResult{ContractAddress: contract, Transitioned: transitioned}, nil
}

// canonicalize returns the friendly form of address, or address itself when the
// conversion fails
func (r *PurchaseReconciler) canonicalize(ctx context.Context, address string) string {
	address = strings.TrimSpace(address)
	if r.canonicalizer == nil {
		return address
	}
	friendly, err := r.canonicalizer.ToFriendly(ctx, address)
	if err != nil || friendly == "" {
		logging.FromContext(ctx).WithError(err).WithField("address", address).
			Warn("Address canonicalization failed, using raw address")
		return address
	}
	return friendly
}
