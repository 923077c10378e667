package enrich

import (
	"context"
	"errors"
	"net/netip"
	"sync"
)

var (
	ErrInvalidAddress    = errors.New("enrich: not an IPv4 or IPv6 address")
	ErrLookupUnavailable = errors.New("enrich: lookup unavailable")
)

// Record holds what is known about a network address. Unknown fields are
// left empty and omitted from JSON.
type Record struct {
	City         string `json:"city,omitempty" jsonschema_description:"City the address is located in"`
	Region       string `json:"region,omitempty" jsonschema_description:"Region or state the address is located in"`
	Country      string `json:"country,omitempty" jsonschema_description:"Country the address is located in"`
	Timezone     string `json:"timezone,omitempty" jsonschema_description:"IANA timezone of the address"`
	ASN          string `json:"asn,omitempty" jsonschema_description:"Autonomous system number, e.g. AS13335"`
	Organization string `json:"organization,omitempty" jsonschema_description:"Organization owning the address"`
	Hostname     string `json:"hostname,omitempty" jsonschema_description:"Reverse DNS hostname"`
}

// Empty reports whether no field is known.
func (r Record) Empty() bool {
	return r == Record{}
}

// Lookup resolves facts about a single address.
type Lookup interface {
	Lookup(ctx context.Context, addr netip.Addr) (Record, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, addr netip.Addr) (Record, error)

func (f LookupFunc) Lookup(ctx context.Context, addr netip.Addr) (Record, error) {
	return f(ctx, addr)
}

// ParseAddress parses an IPv4 or IPv6 literal. Zones and IPv4-mapped IPv6
// forms are normalized away so equal addresses share a cache key.
func ParseAddress(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, ErrInvalidAddress
	}
	return addr.WithZone("").Unmap(), nil
}

// Cache memoizes lookups for the lifetime of one extraction session.
// Failed lookups are not cached.
type Cache struct {
	lookup Lookup

	mu      sync.Mutex
	records map[netip.Addr]Record
	hits    int
	misses  int
}

// NewCache wraps lookup with a fresh, empty cache.
func NewCache(lookup Lookup) *Cache {
	return &Cache{
		lookup:  lookup,
		records: make(map[netip.Addr]Record),
	}
}

// Lookup returns the cached record for addr or asks the wrapped Lookup.
func (c *Cache) Lookup(ctx context.Context, addr netip.Addr) (Record, error) {
	c.mu.Lock()
	if rec, ok := c.records[addr]; ok {
		c.hits++
		c.mu.Unlock()
		return rec, nil
	}
	c.misses++
	c.mu.Unlock()

	if c.lookup == nil {
		return Record{}, ErrLookupUnavailable
	}
	rec, err := c.lookup.Lookup(ctx, addr)
	if err != nil {
		return Record{}, err
	}

	c.mu.Lock()
	c.records[addr] = rec
	c.mu.Unlock()
	return rec, nil
}

// Cached reports whether addr has a cached record.
func (c *Cache) Cached(addr netip.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[addr]
	return ok
}

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
