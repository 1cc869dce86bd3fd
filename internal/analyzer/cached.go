package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/linnemanlabs/repute/internal/incident"
)

// Cached remembers successful analyses by mention text so syndicated copies of the
// same story cost one model call. Failures are never cached.
type Cached struct {
	next  incident.ClaimAnalyzer
	cache *gocache.Cache
}

// NewCached wraps next with a TTL cache.
func NewCached(next incident.ClaimAnalyzer, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Analyze(ctx context.Context, text string) (*incident.Analysis, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return clone(v.(*incident.Analysis)), nil
	}

	res, err := c.next.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, clone(res))
	return res, nil
}

// Len returns the number of cached analyses.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(strings.Join(strings.Fields(strings.ToLower(text)), " ")))
	return hex.EncodeToString(sum[:])
}

func clone(a *incident.Analysis) *incident.Analysis {
	cp := *a
	cp.SeverityFlags = slices.Clone(a.SeverityFlags)
	return &cp
}
