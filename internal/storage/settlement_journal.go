package storage

import (
	"context"
	"fmt"
	"time"
)

const settlementJournalPrefix = "settlement:confirmed:"

// SettlementJournal remembers batch tokens the disburser has confirmed. A token is
// recorded before its rows are marked processed, so a cycle that failed between the
// two steps can finish marking without paying again.
type SettlementJournal struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewSettlementJournal creates a new settlement journal
func NewSettlementJournal(cache *RedisCache, ttl time.Duration) *SettlementJournal {
	return &SettlementJournal{cache: cache, ttl: ttl}
}

// IsConfirmed reports whether token was confirmed by an earlier cycle
func (j *SettlementJournal) IsConfirmed(ctx context.Context, token string) (bool, error) {
	ok, err := j.cache.Has(ctx, settlementJournalPrefix+token)
	if err != nil {
		return false, fmt.Errorf("failed to read settlement journal: %w", err)
	}
	return ok, nil
}

// RecordConfirmed stores token together with the batch id that paid it
func (j *SettlementJournal) RecordConfirmed(ctx context.Context, token, batchID string) error {
	if _, err := j.cache.Claim(ctx, settlementJournalPrefix+token, batchID, j.ttl); err != nil {
		return fmt.Errorf("failed to write settlement journal: %w", err)
	}
	return nil
}

// Forget drops token once its rows are marked
func (j *SettlementJournal) Forget(ctx context.Context, token string) error {
	return j.cache.Drop(ctx, settlementJournalPrefix+token)
}
