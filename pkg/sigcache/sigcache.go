// Package sigcache memoizes detection results by a bounded content signature.
package sigcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMaxEntries           = 1000
	DefaultTTL                  = 5 * time.Minute
	DefaultMaxDataSize          = 10 << 20
	DefaultPrefixSize           = 4096
	DefaultMinConfidenceToCache = 0.5
)

type Config struct {
	MaxEntries  int
	TTL         time.Duration
	MaxDataSize int
	PrefixSize  int

	// CacheLowConfidence keeps results whose top score is not above
	// MinConfidenceToCache. Off by default so a negative result is not pinned
	// against a payload shape that a later registration could match.
	CacheLowConfidence   bool
	MinConfidenceToCache float64
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:           DefaultMaxEntries,
		TTL:                  DefaultTTL,
		MaxDataSize:          DefaultMaxDataSize,
		PrefixSize:           DefaultPrefixSize,
		MinConfidenceToCache: DefaultMinConfidenceToCache,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxDataSize <= 0 {
		c.MaxDataSize = DefaultMaxDataSize
	}
	if c.PrefixSize <= 0 {
		c.PrefixSize = DefaultPrefixSize
	}
	return c
}

// Entry is one cached result.
type Entry[V any] struct {
	Signature  string
	Result     V
	InsertedAt time.Time
	TTL        time.Duration
}

type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Skipped int64 `json:"skipped"`
}

// Cache is safe for concurrent use. Concurrent misses on the same payload may
// each compute and store a result; the last write wins.
type Cache[V any] struct {
	cfg Config
	lru *expirable.LRU[string, Entry[V]]

	hits, misses, skipped atomic.Int64
}

func New[V any](cfg Config) *Cache[V] {
	cfg = cfg.withDefaults()
	return &Cache[V]{
		cfg: cfg,
		lru: expirable.NewLRU[string, Entry[V]](cfg.MaxEntries, nil, cfg.TTL),
	}
}

func (c *Cache[V]) Config() Config { return c.cfg }

// Signature hashes the first PrefixSize bytes of data together with its total
// length. It reports false when data exceeds MaxDataSize.
func (c *Cache[V]) Signature(data []byte) (string, bool) {
	if len(data) > c.cfg.MaxDataSize {
		return "", false
	}
	prefix := data
	if len(prefix) > c.cfg.PrefixSize {
		prefix = prefix[:c.cfg.PrefixSize]
	}
	h := sha256.New()
	h.Write(prefix)
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(len(data))))
	return hex.EncodeToString(h.Sum(nil)), true
}

// Get returns the live entry for data. Expired entries are misses.
func (c *Cache[V]) Get(data []byte) (Entry[V], bool) {
	sig, ok := c.Signature(data)
	if !ok {
		c.misses.Add(1)
		return Entry[V]{}, false
	}
	e, ok := c.lru.Get(sig)
	if !ok || time.Since(e.InsertedAt) >= e.TTL {
		c.misses.Add(1)
		return Entry[V]{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Set stores result for data unless the size limit or the confidence policy
// excludes it. It reports whether the result was stored.
func (c *Cache[V]) Set(data []byte, result V, topScore float64) bool {
	// at the default this matches the strict match threshold, so a result
	// with no best match is never pinned
	if !c.cfg.CacheLowConfidence && topScore <= c.cfg.MinConfidenceToCache {
		c.skipped.Add(1)
		return false
	}
	sig, ok := c.Signature(data)
	if !ok {
		c.skipped.Add(1)
		return false
	}
	c.lru.Add(sig, Entry[V]{Signature: sig, Result: result, InsertedAt: time.Now(), TTL: c.cfg.TTL})
	return true
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries: c.lru.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Skipped: c.skipped.Load(),
	}
}
