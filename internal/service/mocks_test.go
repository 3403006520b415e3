package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tonft-app/backend/internal/adapter"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/storage"
	"github.com/tonft-app/backend/internal/types"
)

// Mock collaborators for testing

type mockChain struct {
	mu        sync.Mutex
	txs       map[string][]models.ChainTransaction
	txErr     error
	states    []types.SaleState
	stateErrs []error
	stateHook func()
	txCalls   int
	saleCalls int
}

func (m *mockChain) GetRecentTransactions(ctx context.Context, address string) ([]models.ChainTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if m.txErr != nil {
		return nil, m.txErr
	}
	return m.txs[address], nil
}

// GetSaleState replays states in order and repeats the last one
func (m *mockChain) GetSaleState(ctx context.Context, address string) (types.SaleState, error) {
	if m.stateHook != nil {
		m.stateHook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.saleCalls
	m.saleCalls++

	if i < len(m.stateErrs) && m.stateErrs[i] != nil {
		return types.SaleStateError, m.stateErrs[i]
	}
	if len(m.states) == 0 {
		return types.SaleStateActive, nil
	}
	if i >= len(m.states) {
		i = len(m.states) - 1
	}
	return m.states[i], nil
}

func (m *mockChain) saleCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saleCalls
}

type mockLedger struct {
	mu          sync.Mutex
	orders      []*models.Order
	bonuses     []*models.ReferralBonus
	nextID      int64
	transitions int
	insertErr   error
	getErr      error
	statusErr   error
}

func newMockLedger() *mockLedger {
	return &mockLedger{}
}

func (m *mockLedger) FindByHash(ctx context.Context, hash string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Hash == hash {
			c := *o
			return &c, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (m *mockLedger) FindActiveByKeys(ctx context.Context, key models.ListingKey) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Key() == key && o.Status == types.OrderStatusActive {
			c := *o
			return &c, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (m *mockLedger) InsertOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, o := range m.orders {
		if o.Hash == order.Hash {
			return storage.ErrDuplicateOrder
		}
	}
	for _, o := range m.orders {
		if o.Key() == order.Key() && o.Status == types.OrderStatusActive {
			return storage.ErrActiveListingExists
		}
	}
	m.nextID++
	order.ID = m.nextID
	order.Status = types.OrderStatusActive
	order.CreatedAt = time.Now()
	c := *order
	m.orders = append(m.orders, &c)
	return nil
}

func (m *mockLedger) SetStatusByContract(ctx context.Context, contract string, status types.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return false, m.statusErr
	}
	if !types.OrderStatusActive.CanTransitionTo(status) {
		return false, storage.ErrInvalidStatus
	}
	changed := false
	for _, o := range m.orders {
		if o.ContractAddress == contract && o.Status == types.OrderStatusActive {
			o.Status = status
			changed = true
		}
	}
	if changed {
		m.transitions++
	}
	return changed, nil
}

func (m *mockLedger) GetByContract(ctx context.Context, contract string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].ContractAddress == contract {
			c := *m.orders[i]
			return &c, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (m *mockLedger) ListByStatus(ctx context.Context, status types.OrderStatus, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for i := len(m.orders) - 1; i >= 0 && len(out) < limit; i-- {
		if m.orders[i].Status == status {
			c := *m.orders[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockLedger) InsertBonus(ctx context.Context, bonus *models.ReferralBonus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bonuses {
		if b.ContractAddress == bonus.ContractAddress {
			return false, nil
		}
	}
	m.nextID++
	bonus.ID = m.nextID
	c := *bonus
	m.bonuses = append(m.bonuses, &c)
	return true, nil
}

func (m *mockLedger) ListUnprocessedBonuses(ctx context.Context) ([]*models.ReferralBonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReferralBonus
	for _, b := range m.bonuses {
		if !b.Processed {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockLedger) MarkBonusesProcessed(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		for _, b := range m.bonuses {
			if b.ID == id && !b.Processed {
				b.Processed = true
				n++
			}
		}
	}
	return n, nil
}

func (m *mockLedger) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockLedger) bonusRows() []models.ReferralBonus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ReferralBonus, 0, len(m.bonuses))
	for _, b := range m.bonuses {
		out = append(out, *b)
	}
	return out
}

func (m *mockLedger) transitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions
}

type mockNotifier struct {
	mu            sync.Mutex
	announcements []models.Announcement
	err           error
}

func (m *mockNotifier) Announce(ctx context.Context, a models.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements = append(m.announcements, a)
	return m.err
}

func (m *mockNotifier) kinds() []types.AnnouncementKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.AnnouncementKind, 0, len(m.announcements))
	for _, a := range m.announcements {
		out = append(out, a.Kind)
	}
	return out
}

type mockCanonicalizer struct {
	mapping map[string]string
	err     error
}

func (m *mockCanonicalizer) ToFriendly(ctx context.Context, raw string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if f, ok := m.mapping[raw]; ok {
		return f, nil
	}
	return raw, nil
}

type mockEventStore struct {
	mu     sync.Mutex
	events []models.MarketEvent
	err    error
	stats  *models.MarketStatistics
	calls  int
}

func (m *mockEventStore) Record(ctx context.Context, event *models.MarketEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventStore) Statistics(ctx context.Context) (*models.MarketStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	c := *m.stats
	return &c, nil
}

func (m *mockEventStore) kinds() []types.MarketEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MarketEventKind, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	return out
}

type mockItems struct {
	items []adapter.NftItem
	err   error
}

func (m *mockItems) GetNftItems(ctx context.Context, addresses []string) ([]adapter.NftItem, error) {
	return m.items, m.err
}

// recordingSleeper counts waits without sleeping
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

var errGatewayDown = errors.New("gateway down")
