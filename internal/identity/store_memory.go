package identity

import (
	"context"
	"sync"

	"wabridge/internal/domain"
)

// MemoryCache is the in-process Cache used in tests and single-node setups.
// For shared deployments use RedisCache or PostgresCache instead.
type MemoryCache struct {
	mu sync.RWMutex
	// records is keyed by canonical identifier value.
	records map[string]domain.IdentityRecord
	// altIndex maps an alternate identifier value to the canonical value
	// currently owning it. An alternate belongs to at most one record.
	altIndex map[string]string
}

// NewMemoryCache creates an empty in-memory identity cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		records:  make(map[string]domain.IdentityRecord),
		altIndex: make(map[string]string),
	}
}

func (c *MemoryCache) Resolve(_ context.Context, id domain.Identifier) (domain.IdentityRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.records[id.Value]; ok {
		return rec, nil
	}
	if canonical, ok := c.altIndex[id.Value]; ok {
		if rec, ok := c.records[canonical]; ok {
			return rec, nil
		}
	}
	return domain.IdentityRecord{}, ErrNotFound
}

func (c *MemoryCache) Upsert(_ context.Context, canonical, alternate domain.Identifier, name string) (domain.IdentityRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[canonical.Value]
	if !ok {
		rec = domain.IdentityRecord{CanonicalID: canonical}
	}
	if name != "" {
		rec.DisplayName = name
	}

	if !alternate.IsZero() && !alternate.Equal(canonical) {
		// Rebind a contested alternate: the previous owner loses it.
		if prev, bound := c.altIndex[alternate.Value]; bound && prev != canonical.Value {
			if prevRec, ok := c.records[prev]; ok {
				c.records[prev] = withoutAlternate(prevRec, alternate)
			}
		}
		c.altIndex[alternate.Value] = canonical.Value
		rec = rec.WithAlternate(alternate)
	}

	c.records[canonical.Value] = rec
	return rec, nil
}

func withoutAlternate(rec domain.IdentityRecord, id domain.Identifier) domain.IdentityRecord {
	kept := rec.AlternateIDs[:0:0]
	for _, alt := range rec.AlternateIDs {
		if !alt.Equal(id) {
			kept = append(kept, alt)
		}
	}
	rec.AlternateIDs = kept
	return rec
}
