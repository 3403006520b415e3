package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/models"
)

// savingsRate is the fee share users save on sold volume
var savingsRate = decimal.RequireFromString("0.1")

// StatisticsSource aggregates marketplace statistics
type StatisticsSource interface {
	Statistics(ctx context.Context) (*models.MarketStatistics, error)
}

// StatisticsService serves marketplace statistics from the event archive, falling back
// to the order ledger when the archive is unavailable. Results are cached briefly.
type StatisticsService struct {
	archive  StatisticsSource
	ledger   StatisticsSource
	cacheTTL time.Duration
	now      func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	cached   *models.MarketStatistics
	cachedAt time.Time
}

// NewStatisticsService creates a new statistics service. archive may be nil.
func NewStatisticsService(archive, ledger StatisticsSource, cacheTTL time.Duration) *StatisticsService {
	return &StatisticsService{
		archive:  archive,
		ledger:   ledger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// GetStatistics returns the current marketplace statistics
func (s *StatisticsService) GetStatistics(ctx context.Context) (*models.MarketStatistics, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.cacheTTL {
		stats := *s.cached
		s.mu.RUnlock()
		return &stats, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do("statistics", func() (interface{}, error) {
		return s.compute(ctx)
	})
	if err != nil {
		return nil, err
	}

	stats := *v.(*models.MarketStatistics)
	return &stats, nil
}

func (s *StatisticsService) compute(ctx context.Context) (*models.MarketStatistics, error) {
	var (
		stats *models.MarketStatistics
		err   error
	)

	if s.archive != nil {
		stats, err = s.archive.Statistics(ctx)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Archive statistics unavailable, using order ledger")
		}
	}
	if stats == nil {
		if s.ledger == nil {
			return nil, apperrors.NewServiceUnavailableError("statistics")
		}
		stats, err = s.ledger.Statistics(ctx)
		if err != nil {
			return nil, apperrors.NewDatabaseError("statistics", err)
		}
	}

	stats.TotalSavedForUsers = stats.TotalSoldAmount.Mul(savingsRate)

	s.mu.Lock()
	s.cached = stats
	s.cachedAt = s.now()
	s.mu.Unlock()

	return stats, nil
}
