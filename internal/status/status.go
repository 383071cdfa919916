// Package status assembles a point-in-time view of the eBay client's
// resilience state for the ops API and the get_api_status tool.
package status

import (
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/cache"
	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// Report is the combined status of every component.
type Report struct {
	Environment     string                 `json:"environment"`
	Marketplace     string                 `json:"marketplace"`
	RateLimit       ebay.RateLimitStatus   `json:"rate_limit"`
	Circuits        []ebay.CircuitSnapshot `json:"circuits"`
	Tokens          TokenReport            `json:"tokens"`
	Cache           *cache.Stats           `json:"cache,omitempty"`
	PendingConsents int                    `json:"pending_consents"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// TokenReport describes the OAuth manager without secret values.
type TokenReport struct {
	Configured bool            `json:"configured"`
	Stats      ebay.TokenStats `json:"stats"`
	Cached     []ebay.Info     `json:"cached"`
}

// Collector builds Reports. Every component is optional.
type Collector struct {
	Sandbox     bool
	Marketplace string
	Limiter     *ebay.RateLimiter
	Breakers    *ebay.CircuitBreakers
	OAuth       *ebay.OAuthManager
	Cache       *cache.ResponseCache
	Consent     *ebay.ConsentFlow
	Now         func() time.Time
}

// Report returns the current status.
func (c *Collector) Report() Report {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	r := Report{
		Environment: "production",
		Marketplace: c.Marketplace,
		Circuits:    []ebay.CircuitSnapshot{},
		Tokens:      TokenReport{Cached: []ebay.Info{}},
		GeneratedAt: now().UTC(),
	}
	if c.Sandbox {
		r.Environment = "sandbox"
	}
	if c.Limiter != nil {
		r.RateLimit = c.Limiter.Status()
	}
	if c.Breakers != nil {
		r.Circuits = c.Breakers.Snapshots()
	}
	if c.OAuth != nil {
		r.Tokens.Configured = c.OAuth.Configured()
		r.Tokens.Stats = c.OAuth.Stats()
		if cached := c.OAuth.Status(); cached != nil {
			r.Tokens.Cached = cached
		}
	}
	if c.Cache != nil {
		st := c.Cache.Stats()
		r.Cache = &st
	}
	if c.Consent != nil {
		r.PendingConsents = c.Consent.PendingCount()
	}
	return r
}

// OpenCircuits lists the endpoint keys currently refusing calls.
func (r Report) OpenCircuits() []string {
	var out []string
	for _, s := range r.Circuits {
		if s.State == ebay.CircuitOpen {
			out = append(out, s.EndpointKey)
		}
	}
	return out
}
