package adapter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tonft-app/backend/internal/logging"
)

// EndpointPool manages multiple gateway base URLs with failover on rate limiting (429)
// Strategy: Stick to current endpoint until 429, then switch to next
type EndpointPool struct {
	endpoints    []string
	currentIndex int
	mu           sync.RWMutex
	cooldowns    map[int]time.Time // Track when each endpoint was rate limited
	cooldownTime time.Duration     // How long to wait before retrying a rate-limited endpoint
	now          func() time.Time
}

// EndpointPoolConfig holds configuration for creating an endpoint pool
type EndpointPoolConfig struct {
	// Endpoints is a list of gateway base URLs (e.g., toncenter with separate keys)
	Endpoints []string
	// CooldownTime is how long to wait before retrying a rate-limited endpoint
	// Default: 60 seconds
	CooldownTime time.Duration
	// Now is the clock; nil means time.Now
	Now func() time.Time
}

// NewEndpointPool creates a new endpoint pool
func NewEndpointPool(cfg *EndpointPoolConfig) (*EndpointPool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("at least one gateway endpoint is required")
	}

	var endpoints []string
	for _, ep := range cfg.Endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one gateway endpoint is required")
	}

	cooldownTime := cfg.CooldownTime
	if cooldownTime == 0 {
		cooldownTime = 60 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logging.Debugf("[EndpointPool] Initialized with %d endpoints", len(endpoints))

	return &EndpointPool{
		endpoints:    endpoints,
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldownTime,
		now:          now,
	}, nil
}

// Current returns the active base URL
func (p *EndpointPool) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.endpoints[p.currentIndex]
}

// CurrentIndex returns the current endpoint index
func (p *EndpointPool) CurrentIndex() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.currentIndex
}

// EndpointCount returns the number of endpoints in the pool
func (p *EndpointPool) EndpointCount() int {
	return len(p.endpoints)
}

// OnRateLimited should be called when a 429 response is received on endpoint.
// It switches to the next endpoint not in cooldown. A report for an endpoint that is
// no longer current is ignored, so concurrent callers rotate at most once.
// Returns ErrRateLimited if all endpoints are cooling down
func (p *EndpointPool) OnRateLimited(endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.endpoints[p.currentIndex] != endpoint {
		return nil
	}

	now := p.now()
	p.cooldowns[p.currentIndex] = now

	startIndex := p.currentIndex
	for i := 1; i < len(p.endpoints); i++ {
		nextIndex := (startIndex + i) % len(p.endpoints)

		if limitedAt, exists := p.cooldowns[nextIndex]; exists {
			if now.Sub(limitedAt) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, nextIndex)
		}

		p.currentIndex = nextIndex
		logging.WithFields(map[string]interface{}{
			"from": startIndex,
			"to":   nextIndex,
		}).Warn("[EndpointPool] Switched endpoint after rate limit")
		return nil
	}

	return fmt.Errorf("%w: all %d endpoints are cooling down", ErrRateLimited, len(p.endpoints))
}

// TryResetToPrimary attempts to switch back to the primary endpoint (index 0)
// if its cooldown has expired.
func (p *EndpointPool) TryResetToPrimary() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentIndex == 0 {
		return true
	}

	if limitedAt, exists := p.cooldowns[0]; exists {
		if p.now().Sub(limitedAt) < p.cooldownTime {
			return false
		}
		delete(p.cooldowns, 0)
	}

	p.currentIndex = 0
	logging.Info("[EndpointPool] Reset to primary endpoint")
	return true
}

// Status returns the current status of the pool
func (p *EndpointPool) Status() *EndpointPoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := &EndpointPoolStatus{
		TotalEndpoints: len(p.endpoints),
		CurrentIndex:   p.currentIndex,
		EndpointStatus: make([]EndpointStatus, len(p.endpoints)),
	}

	now := p.now()
	for i := range p.endpoints {
		es := EndpointStatus{
			Index:     i,
			IsCurrent: i == p.currentIndex,
		}

		if limitedAt, exists := p.cooldowns[i]; exists {
			remaining := p.cooldownTime - now.Sub(limitedAt)
			if remaining > 0 {
				es.InCooldown = true
				es.CooldownRemaining = remaining
			}
		}

		status.EndpointStatus[i] = es
	}

	return status
}

// EndpointPoolStatus represents the current status of the endpoint pool
type EndpointPoolStatus struct {
	TotalEndpoints int
	CurrentIndex   int
	EndpointStatus []EndpointStatus
}

// EndpointStatus represents the status of a single endpoint
type EndpointStatus struct {
	Index             int
	IsCurrent         bool
	InCooldown        bool
	CooldownRemaining time.Duration
}
