// Package metrics exposes the Prometheus collectors of the marketplace backend.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketplaceMetrics groups the reconciliation and settlement collectors
type MarketplaceMetrics struct {
	listings          *prometheus.CounterVec
	buys              *prometheus.CounterVec
	buyAttempts       prometheus.Histogram
	cancels           *prometheus.CounterVec
	settlementCycles  *prometheus.CounterVec
	bonusesSettled    prometheus.Counter
	undefinedWallets  prometheus.Counter
	notifications     *prometheus.CounterVec
	gatewayRequests   *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
	archiveWriteFails prometheus.Counter
}

var (
	marketplaceOnce     sync.Once
	marketplaceRegistry *MarketplaceMetrics
)

// Marketplace returns the lazily registered collectors
func Marketplace() *MarketplaceMetrics {
	marketplaceOnce.Do(func() {
		marketplaceRegistry = &MarketplaceMetrics{
			listings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_listings_total",
				Help: "Listing claims by outcome (admitted or rejection reason).",
			}, []string{"outcome"}),
			buys: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_buy_reconciliations_total",
				Help: "Buy callbacks by outcome.",
			}, []string{"outcome"}),
			buyAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "marketplace_buy_poll_attempts",
				Help:    "Sale state polls spent per buy reconciliation.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			}),
			cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_cancels_total",
				Help: "Cancel callbacks by whether an active order transitioned.",
			}, []string{"transitioned"}),
			settlementCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_settlement_cycles_total",
				Help: "Referral settlement cycles by outcome.",
			}, []string{"outcome"}),
			bonusesSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_bonuses_settled_total",
				Help: "Referral bonus rows marked processed.",
			}),
			undefinedWallets: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_bonus_undefined_wallet_total",
				Help: "Bonus rows skipped because the referral wallet is undefined.",
			}),
			notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_notifications_total",
				Help: "Channel announcements by kind and result.",
			}, []string{"kind", "result"}),
			gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_gateway_requests_total",
				Help: "Outbound gateway requests by gateway, method and result.",
			}, []string{"gateway", "method", "result"}),
			breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "marketplace_circuit_breaker_open",
				Help: "1 when the named circuit breaker is open or half open.",
			}, []string{"name"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "marketplace_http_requests_total",
				Help: "HTTP requests by route and status code.",
			}, []string{"route", "code"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketplace_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			archiveWriteFails: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "marketplace_archive_write_failures_total",
				Help: "Market events that could not be archived.",
			}),
		}
		prometheus.MustRegister(
			marketplaceRegistry.listings,
			marketplaceRegistry.buys,
			marketplaceRegistry.buyAttempts,
			marketplaceRegistry.cancels,
			marketplaceRegistry.settlementCycles,
			marketplaceRegistry.bonusesSettled,
			marketplaceRegistry.undefinedWallets,
			marketplaceRegistry.notifications,
			marketplaceRegistry.gatewayRequests,
			marketplaceRegistry.breakerState,
			marketplaceRegistry.httpRequests,
			marketplaceRegistry.httpLatency,
			marketplaceRegistry.archiveWriteFails,
		)
	})
	return marketplaceRegistry
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *MarketplaceMetrics) ObserveListing(outcome string) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(label(outcome)).Inc()
}

func (m *MarketplaceMetrics) ObserveBuy(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.buys.WithLabelValues(label(outcome)).Inc()
	m.buyAttempts.Observe(float64(attempts))
}

func (m *MarketplaceMetrics) ObserveCancel(transitioned bool) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(strconv.FormatBool(transitioned)).Inc()
}

func (m *MarketplaceMetrics) ObserveSettlementCycle(outcome string) {
	if m == nil {
		return
	}
	m.settlementCycles.WithLabelValues(label(outcome)).Inc()
}

func (m *MarketplaceMetrics) AddBonusesSettled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bonusesSettled.Add(float64(n))
}

func (m *MarketplaceMetrics) IncUndefinedWallet() {
	if m == nil {
		return
	}
	m.undefinedWallets.Inc()
}

func (m *MarketplaceMetrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(label(kind), result).Inc()
}

func (m *MarketplaceMetrics) ObserveGatewayRequest(gateway, method, result string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(label(gateway), label(method), label(result)).Inc()
}

// SetBreakerOpen records whether the named breaker is currently rejecting traffic
func (m *MarketplaceMetrics) SetBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(label(name)).Set(v)
}

func (m *MarketplaceMetrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route = label(route)
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *MarketplaceMetrics) IncArchiveWriteFailure() {
	if m == nil {
		return
	}
	m.archiveWriteFails.Inc()
}
