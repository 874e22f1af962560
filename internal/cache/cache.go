// Package cache keeps last-known prices so a repeated dashboard refresh does
// not re-scrape SKUs resolved minutes ago. Entries expire on a TTL and the
// LRU bound keeps memory flat.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/smazka/pricewatch/internal/model"
)

type PriceCache struct {
	lru *expirable.LRU[string, model.CachedPrice]
}

func New(size int, ttl time.Duration) *PriceCache {
	if size < 1 {
		size = 1024
	}
	return &PriceCache{
		lru: expirable.NewLRU[string, model.CachedPrice](size, nil, ttl),
	}
}

// Put stores successful outcomes only; failures are always re-scraped.
func (c *PriceCache) Put(results []model.Outcome) {
	if c == nil {
		return
	}
	now := time.Now()
	for _, r := range results {
		if r.Success && r.Price != "" {
			c.lru.Add(r.SKU, model.CachedPrice{Price: r.Price, Source: r.Source, FetchedAt: now})
		}
	}
}

// Get returns the cached price for a SKU if it has not expired.
func (c *PriceCache) Get(sku string) (model.CachedPrice, bool) {
	if c == nil {
		return model.CachedPrice{}, false
	}
	return c.lru.Get(sku)
}

// Split partitions SKUs into cache hits (as ready outcomes) and misses.
func (c *PriceCache) Split(skus []string) (hits []model.Outcome, misses []string) {
	misses = make([]string, 0, len(skus))
	for _, sku := range skus {
		if p, ok := c.Get(sku); ok {
			hit := model.OK(sku, p.Price, p.Source)
			hit.Source = "cache"
			hits = append(hits, hit)
			continue
		}
		misses = append(misses, sku)
	}
	return hits, misses
}

// Len reports the number of live entries.
func (c *PriceCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
