// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parley

import (
	"context"
	"encoding/binary"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// ParseCache memoizes parse results per (language, entity scope, intent
// whitelist, utterance). Entries are spread over shards, each an LRU bounded
// by its share of the capacity.
type ParseCache struct {
	shards  []*ttlcache.Cache[string, nlu.ParseResult]
	sfGroup *singleflight.Group
	logger  *zap.Logger
	cancel  context.CancelFunc

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewParseCache creates a query cache
func NewParseCache(cfg CacheConfig, logger *zap.Logger) *ParseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	shards := max(cfg.Shards, 1)
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}
	perShard := max((capacity+uint64(shards)-1)/uint64(shards), 1)
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = ttlcache.NoTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	pc := &ParseCache{
		shards:  make([]*ttlcache.Cache[string, nlu.ParseResult], shards),
		sfGroup: &singleflight.Group{},
		logger:  logger,
		cancel:  cancel,
	}
	for i := range pc.shards {
		cache := ttlcache.New(
			ttlcache.WithTTL[string, nlu.ParseResult](ttl),
			ttlcache.WithCapacity[string, nlu.ParseResult](perShard),
		)
		go cache.Start()
		pc.shards[i] = cache
	}

	// Log cache stats periodically
	go pc.logStats(ctx)

	return pc
}

// CacheKey hashes everything a parse result depends on besides the model.
func CacheKey(text string, lang tokenizer.Language, entityScope, intents []string) string {
	h := xxhash.New()

	_, _ = h.WriteString(string(lang))
	_, _ = h.WriteString("|")
	writeSorted(h, entityScope)
	_, _ = h.WriteString("|")
	writeSorted(h, intents)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(text)

	// Convert uint64 hash to string key
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

func writeSorted(h *xxhash.Digest, values []string) {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, v := range sorted {
		_, _ = h.WriteString(v)
		_, _ = h.WriteString(",")
	}
}

func (pc *ParseCache) shard(key string) *ttlcache.Cache[string, nlu.ParseResult] {
	return pc.shards[xxhash.Sum64String(key)%uint64(len(pc.shards))]
}

// GetOrCompute returns the cached result for key, computing it with compute
// on a miss. Concurrent callers of the same key share one computation, which
// runs detached from any single caller's cancellation: a caller whose ctx ends
// stops waiting while the others still receive the result. Errors are
// returned to every waiting caller and never cached.
func (pc *ParseCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (nlu.ParseResult, error)) (nlu.ParseResult, error) {
	cache := pc.shard(key)

	// Check cache first
	if item := cache.Get(key); item != nil {
		pc.hits.Add(1)
		RecordCacheHit("parse")
		return item.Value().Clone(), nil
	}

	// Use singleflight to deduplicate concurrent identical requests
	flightCtx := context.WithoutCancel(ctx)
	ch := pc.sfGroup.DoChan(key, func() (any, error) {
		// a flight that finished between the lookup above and DoChan has filled the cache
		if item := cache.Get(key); item != nil {
			return item.Value(), nil
		}
		pc.misses.Add(1)
		RecordCacheMiss("parse")

		start := time.Now()
		parsed, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		cache.Set(key, parsed, ttlcache.DefaultTTL)

		pc.logger.Debug("Parse completed and cached",
			zap.String("intent", parsed.Intent),
			zap.Duration("duration", time.Since(start)))
		return parsed, nil
	})

	select {
	case <-ctx.Done():
		return nlu.ParseResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nlu.ParseResult{}, res.Err
		}
		if res.Shared {
			pc.sfHits.Add(1)
			pc.logger.Debug("Singleflight hit for parse request")
		}
		return res.Val.(nlu.ParseResult).Clone(), nil
	}
}

// Purge drops every cached result
func (pc *ParseCache) Purge() {
	for _, cache := range pc.shards {
		cache.DeleteAll()
	}
}

// Len returns the number of cached results
func (pc *ParseCache) Len() int {
	n := 0
	for _, cache := range pc.shards {
		n += cache.Len()
	}
	return n
}

// Close stops the cache
func (pc *ParseCache) Close() {
	pc.cancel()
	for _, cache := range pc.shards {
		cache.Stop()
	}
}

// Stats returns cache statistics
func (pc *ParseCache) Stats() ParseCacheStats {
	stats := ParseCacheStats{
		Hits:             pc.hits.Load(),
		Misses:           pc.misses.Load(),
		SingleflightHits: pc.sfHits.Load(),
		Shards:           len(pc.shards),
		Items:            pc.Len(),
	}
	for _, cache := range pc.shards {
		stats.Evictions += cache.Metrics().Evictions
	}
	return stats
}

// ParseCacheStats holds query cache statistics
type ParseCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Evictions        uint64 `json:"evictions"`
	Shards           int    `json:"shards"`
	Items            int    `json:"items"`
}

// logStats logs cache statistics periodically
func (pc *ParseCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pc.Stats()
			if stats.Hits > 0 || stats.Misses > 0 {
				hitRate := float64(stats.Hits) / float64(stats.Hits+stats.Misses) * 100
				pc.logger.Info("Parse cache stats",
					zap.Uint64("hits", stats.Hits),
					zap.Uint64("misses", stats.Misses),
					zap.Uint64("singleflight_hits", stats.SingleflightHits),
					zap.Uint64("evictions", stats.Evictions),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", stats.Items))
			}
		}
	}
}
