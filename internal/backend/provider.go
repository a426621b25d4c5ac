package backend

import (
	"fmt"
	"sync"
	"time"
)

// EndpointHealth represents the health status of one backend endpoint
type EndpointHealth struct {
	URL              string        `json:"url"`
	Active           bool          `json:"active"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

type endpointStats struct {
	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int
}

// Provider tracks the backend endpoints and which one is active.
// Failover moves to the next healthy endpoint.
type Provider struct {
	mu sync.RWMutex

	urls    []string
	stats   []endpointStats
	current int

	maxConsecutiveFails int
	minSuccessRate      float64
}

// NewProvider creates a provider with a primary and an optional secondary URL
func NewProvider(primaryURL, secondaryURL string) (*Provider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}

	urls := []string{primaryURL}
	if secondaryURL != "" && secondaryURL != primaryURL {
		urls = append(urls, secondaryURL)
	}
	return &Provider{
		urls:                urls,
		stats:               make([]endpointStats, len(urls)),
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}, nil
}

// Current returns the index and URL of the active endpoint
func (p *Provider) Current() (int, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.urls[p.current]
}

// Len returns the number of configured endpoints
func (p *Provider) Len() int {
	return len(p.urls)
}

// Failover switches away from the endpoint at index from. If another caller
// already moved on, the current endpoint is kept.
func (p *Provider) Failover(from int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != from {
		return nil
	}
	if len(p.urls) < 2 {
		return fmt.Errorf("no secondary endpoint configured")
	}

	for i := 1; i < len(p.urls); i++ {
		next := (from + i) % len(p.urls)
		if p.isHealthyLocked(next) {
			p.current = next
			return nil
		}
	}
	// every endpoint looks unhealthy; rotate anyway so a recovered one gets tried
	p.current = (from + 1) % len(p.urls)
	return nil
}

// RecordSuccess records a successful request against endpoint idx
func (p *Provider) RecordSuccess(idx int, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.stats[idx]
	s.totalRequests++
	s.successfulReqs++
	s.totalLatency += duration
	s.lastSuccess = time.Now()
	s.consecutiveFails = 0
}

// RecordFailure records a failed request against endpoint idx
func (p *Provider) RecordFailure(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.stats[idx]
	s.totalRequests++
	s.failedReqs++
	s.lastFailure = time.Now()
	s.consecutiveFails++
}

// IsHealthy reports whether the active endpoint is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isHealthyLocked(p.current)
}

// isHealthyLocked must be called with the lock held
func (p *Provider) isHealthyLocked(idx int) bool {
	s := p.stats[idx]
	if s.consecutiveFails >= p.maxConsecutiveFails {
		return false
	}
	if s.totalRequests >= 10 {
		if float64(s.successfulReqs)/float64(s.totalRequests) < p.minSuccessRate {
			return false
		}
	}
	return true
}

// Health returns the health of every endpoint
func (p *Provider) Health() []EndpointHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]EndpointHealth, len(p.urls))
	for i, url := range p.urls {
		s := p.stats[i]
		var successRate float64
		if s.totalRequests > 0 {
			successRate = float64(s.successfulReqs) / float64(s.totalRequests)
		}
		var avgLatency time.Duration
		if s.successfulReqs > 0 {
			avgLatency = s.totalLatency / time.Duration(s.successfulReqs)
		}
		out[i] = EndpointHealth{
			URL:              url,
			Active:           i == p.current,
			TotalRequests:    s.totalRequests,
			SuccessfulReqs:   s.successfulReqs,
			FailedReqs:       s.failedReqs,
			SuccessRate:      successRate,
			AverageLatency:   avgLatency,
			LastSuccess:      s.lastSuccess,
			LastFailure:      s.lastFailure,
			ConsecutiveFails: s.consecutiveFails,
			IsHealthy:        p.isHealthyLocked(i),
		}
	}
	return out
}

// Reset returns to the primary endpoint
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = 0
	p.stats[0].consecutiveFails = 0
}
