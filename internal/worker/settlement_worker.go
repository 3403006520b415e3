package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tonft-app/backend/internal/adapter"
	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

// DefaultSettlementMemo is attached to every payout batch
const DefaultSettlementMemo = "Referral bonus from TONFT.app Bazaar"

const (
	defaultSettlementInterval = 60 * time.Second
	amountDecimals            = 3
)

// Cycle outcomes
const (
	OutcomeIdle      = "idle"
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
	OutcomeReplayed  = "replayed"
	OutcomeError     = "error"
)

// BonusSource is the slice of the bonus ledger the worker drains
type BonusSource interface {
	ListUnprocessedBonuses(ctx context.Context) ([]*models.ReferralBonus, error)
	MarkBonusesProcessed(ctx context.Context, ids []int64) (int64, error)
}

// Journal remembers confirmed batch tokens between cycles
type Journal interface {
	IsConfirmed(ctx context.Context, token string) (bool, error)
	RecordConfirmed(ctx context.Context, token, batchID string) error
	Forget(ctx context.Context, token string) error
}

// SettlementWorker periodically drains unprocessed referral bonuses into one payout
// batch per cycle. Rows are marked processed only after the payout service confirms.
type SettlementWorker struct {
	bonuses       BonusSource
	canonicalizer adapter.AddressCanonicalizer
	disburser     adapter.Disburser
	journal       Journal
	rate          decimal.Decimal
	memo          string
	interval      time.Duration
	metrics       *metrics.MarketplaceMetrics

	running  bool
	mu       sync.RWMutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastRun  time.Time
	lastErr  error
	lastDone *CycleResult
}

// SettlementWorkerConfig holds configuration for a settlement worker
type SettlementWorkerConfig struct {
	Bonuses       BonusSource
	Canonicalizer adapter.AddressCanonicalizer
	Disburser     adapter.Disburser
	Journal       Journal // optional
	ReferralRate  decimal.Decimal
	Memo          string
	Interval      time.Duration
}

// CycleResult summarises one drain cycle
type CycleResult struct {
	Outcome   string            `json:"outcome"`
	BatchID   string            `json:"batchId,omitempty"`
	Token     string            `json:"token,omitempty"`
	Amounts   map[string]string `json:"amounts,omitempty"`
	Gathered  int               `json:"gathered"`
	Skipped   int               `json:"skipped"`
	Marked    int64             `json:"marked"`
	Timestamp time.Time         `json:"timestamp"`
}

// SettlementWorkerStatus is the observable state of the worker
type SettlementWorkerStatus struct {
	Running   bool         `json:"running"`
	Interval  string       `json:"interval"`
	LastRun   time.Time    `json:"lastRun"`
	LastError string       `json:"lastError,omitempty"`
	LastCycle *CycleResult `json:"lastCycle,omitempty"`
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(cfg *SettlementWorkerConfig) (*SettlementWorker, error) {
	if cfg.Bonuses == nil {
		return nil, fmt.Errorf("bonus source cannot be nil")
	}
	if cfg.Canonicalizer == nil {
		return nil, fmt.Errorf("address canonicalizer cannot be nil")
	}
	if cfg.Disburser == nil {
		return nil, fmt.Errorf("disburser cannot be nil")
	}
	if !cfg.ReferralRate.IsPositive() {
		return nil, fmt.Errorf("referral rate must be positive, got %s", cfg.ReferralRate)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSettlementInterval
	}
	memo := cfg.Memo
	if memo == "" {
		memo = DefaultSettlementMemo
	}

	return &SettlementWorker{
		bonuses:       cfg.Bonuses,
		canonicalizer: cfg.Canonicalizer,
		disburser:     cfg.Disburser,
		journal:       cfg.Journal,
		rate:          cfg.ReferralRate,
		memo:          memo,
		interval:      interval,
		metrics:       metrics.Marketplace(),
	}, nil
}

// Start runs a first cycle immediately and then one per interval until ctx is done
// or Stop is called
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("settlement worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	logging.FromContext(ctx).WithField("interval", w.interval.String()).Info("Starting settlement worker")

	go w.loop(ctx, stopCh, doneCh)
	return nil
}

// Stop gracefully stops the worker, waiting for an in-flight cycle to finish. The
// worker counts as stopped even when ctx expires first.
func (w *SettlementWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("settlement worker is not running")
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
		logging.FromContext(ctx).Info("Settlement worker stopped gracefully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *SettlementWorker) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.FromContext(ctx).Info("Settlement worker context cancelled")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle never lets an error escape the loop
func (w *SettlementWorker) runCycle(ctx context.Context) {
	result, err := w.RunOnce(ctx)

	w.mu.Lock()
	w.lastRun = time.Now()
	w.lastErr = err
	if result != nil {
		w.lastDone = result
	}
	w.mu.Unlock()

	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Settlement cycle failed, retrying next cycle")
	}
}

// RunOnce executes one drain cycle
func (w *SettlementWorker) RunOnce(ctx context.Context) (*CycleResult, error) {
	logger := logging.FromContext(ctx)
	result := &CycleResult{Outcome: OutcomeIdle, Timestamp: time.Now().UTC()}

	rows, err := w.bonuses.ListUnprocessedBonuses(ctx)
	if err != nil {
		w.metrics.ObserveSettlementCycle(OutcomeError)
		return nil, apperrors.NewDatabaseError("list unprocessed bonuses", err)
	}

	totals := make(map[string]decimal.Decimal)
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		wallet := strings.TrimSpace(row.UserWallet)
		if wallet == "" || wallet == types.UndefinedWallet {
			w.metrics.IncUndefinedWallet()
			result.Skipped++
			continue
		}

		friendly, err := w.canonicalizer.ToFriendly(ctx, wallet)
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"bonusId": row.ID,
				"wallet":  wallet,
			}).Warn("Skipping bonus with unresolvable wallet")
			result.Skipped++
			continue
		}

		totals[friendly] = totals[friendly].Add(row.Amount)
		ids = append(ids, row.ID)
	}
	result.Gathered = len(ids)

	if len(ids) == 0 {
		w.metrics.ObserveSettlementCycle(OutcomeIdle)
		return result, nil
	}

	batch := models.SettlementBatch{
		ID:       uuid.NewString(),
		Token:    BatchToken(ids),
		Amounts:  PayoutAmounts(totals, w.rate),
		Memo:     w.memo,
		BonusIDs: ids,
	}
	result.BatchID = batch.ID
	result.Token = batch.Token
	result.Amounts = batch.Amounts

	logger = logger.WithFields(map[string]interface{}{
		"batchId": batch.ID,
		"token":   batch.Token,
		"wallets": len(batch.Amounts),
		"bonuses": len(ids),
	})

	if w.journal != nil {
		confirmed, err := w.journal.IsConfirmed(ctx, batch.Token)
		if err != nil {
			logger.WithError(err).Warn("Settlement journal unavailable")
		} else if confirmed {
			logger.Info("Batch already paid by an earlier cycle, marking rows only")
			result.Outcome = OutcomeReplayed
			return w.markSettled(ctx, result, batch)
		}
	}

	ok, err := w.disburser.SubmitBatch(ctx, batch)
	if err != nil {
		w.metrics.ObserveSettlementCycle(OutcomeError)
		result.Outcome = OutcomeError
		return result, apperrors.NewSettlementError(err)
	}
	if !ok {
		logger.Warn("Payout service did not confirm batch, rows stay unprocessed")
		w.metrics.ObserveSettlementCycle(OutcomeRejected)
		result.Outcome = OutcomeRejected
		return result, nil
	}

	if w.journal != nil {
		if err := w.journal.RecordConfirmed(ctx, batch.Token, batch.ID); err != nil {
			logger.WithError(err).Warn("Failed to journal confirmed batch")
		}
	}

	result.Outcome = OutcomeConfirmed
	return w.markSettled(ctx, result, batch)
}

func (w *SettlementWorker) markSettled(ctx context.Context, result *CycleResult, batch models.SettlementBatch) (*CycleResult, error) {
	marked, err := w.bonuses.MarkBonusesProcessed(ctx, batch.BonusIDs)
	if err != nil {
		w.metrics.ObserveSettlementCycle(OutcomeError)
		return result, apperrors.NewDatabaseError("mark bonuses processed", err)
	}
	result.Marked = marked

	if w.journal != nil {
		if err := w.journal.Forget(ctx, batch.Token); err != nil {
			logging.FromContext(ctx).WithError(err).Debug("Failed to clear settlement journal entry")
		}
	}

	w.metrics.AddBonusesSettled(int(marked))
	w.metrics.ObserveSettlementCycle(result.Outcome)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"batchId": batch.ID,
		"outcome": result.Outcome,
		"marked":  marked,
	}).Info("Settlement cycle completed")

	return result, nil
}

// GetStatus returns the current worker status
func (w *SettlementWorker) GetStatus() *SettlementWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &SettlementWorkerStatus{
		Running:   w.running,
		Interval:  w.interval.String(),
		LastRun:   w.lastRun,
		LastCycle: w.lastDone,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}

// BatchToken derives the idempotency token of a row set. The order of ids does not
// matter.
func BatchToken(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// PayoutAmounts applies rate to each wallet total and renders it with three decimals,
// rounding half away from zero
func PayoutAmounts(totals map[string]decimal.Decimal, rate decimal.Decimal) map[string]string {
	amounts := make(map[string]string, len(totals))
	for wallet, total := range totals {
		amounts[wallet] = total.Mul(rate).StringFixed(amountDecimals)
	}
	return amounts
}
