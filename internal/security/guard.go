package security

import (
	"strings"
	"sync"
	"time"
)

// Verdict represents the outcome of a guard check.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	RateLimited
)

// bucket tracks fixed-window rate limit state for a single caller.
type bucket struct {
	tokens    int
	windowEnd time.Time
}

// Guard protects the public send endpoints (contact form, chat widget, voice
// recorder) with an optional caller allowlist and per-caller rate limiting.
// Callers are identified by an opaque key — the client IP for browser
// endpoints, a normalized phone number for allowlist entries.
type Guard struct {
	mode       string
	allowed    map[string]struct{}
	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time
	mu         sync.Mutex
	buckets    map[string]*bucket
}

// Config parameterizes a Guard.
type Config struct {
	Mode       string // "open" or "allowlist"
	Allowed    []string
	RateLimit  int
	RateWindow time.Duration
}

// New creates a Guard. A non-positive rate limit disables rate limiting.
func New(cfg Config) *Guard {
	allowed := make(map[string]struct{}, len(cfg.Allowed))
	for _, entry := range cfg.Allowed {
		allowed[normalizeKey(entry)] = struct{}{}
	}

	return &Guard{
		mode:       cfg.Mode,
		allowed:    allowed,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

// Check returns Allow, Deny, or RateLimited for the given caller key.
func (g *Guard) Check(key string) Verdict {
	k := normalizeKey(key)

	if g.mode == "allowlist" {
		if _, ok := g.allowed[k]; !ok {
			return Deny
		}
	}

	if g.rateLimit <= 0 {
		return Allow
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	b, ok := g.buckets[k]
	if !ok || now.After(b.windowEnd) {
		g.buckets[k] = &bucket{
			tokens:    g.rateLimit - 1,
			windowEnd: now.Add(g.rateWindow),
		}
		return Allow
	}

	if b.tokens <= 0 {
		return RateLimited
	}
	b.tokens--
	return Allow
}

// normalizeKey collapses phone-number-shaped keys to bare digits so
// "+237 671 178 991" and "237671178991" share one bucket; other keys (IPs)
// pass through lowercased.
func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))

	phoneShaped := key != ""
	for _, r := range key {
		if (r < '0' || r > '9') && !strings.ContainsRune("+ -()", r) {
			phoneShaped = false
			break
		}
	}
	if !phoneShaped {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return key
	}
	return b.String()
}
