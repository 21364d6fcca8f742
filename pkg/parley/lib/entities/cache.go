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

package entities

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

// DefaultCacheTTL bounds how long relative dates such as "tomorrow" may be
// served from the cache.
const DefaultCacheTTL = time.Minute

// DefaultCacheCapacity is the default number of cached texts.
const DefaultCacheCapacity = 4096

// CachedParser wraps a parser with an LRU cache of its results.
type CachedParser struct {
	parser  Parser
	cache   *ttlcache.Cache[string, []nlu.EntitySpan]
	sfGroup *singleflight.Group
	logger  *zap.Logger
	onHit   func()
	onMiss  func()

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// CacheOption configures a CachedParser.
type CacheOption func(*CachedParser)

// WithCacheMetrics reports every cache hit and miss to the given callbacks.
func WithCacheMetrics(onHit, onMiss func()) CacheOption {
	return func(c *CachedParser) {
		c.onHit = onHit
		c.onMiss = onMiss
	}
}

// NewCachedParser wraps parser with a cache of the given capacity and TTL.
func NewCachedParser(parser Parser, capacity uint64, ttl time.Duration, logger *zap.Logger, opts ...CacheOption) *CachedParser {
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []nlu.EntitySpan](ttl),
		ttlcache.WithCapacity[string, []nlu.EntitySpan](capacity),
	)
	go cache.Start()

	c := &CachedParser{
		parser:  parser,
		cache:   cache,
		sfGroup: &singleflight.Group{},
		logger:  logger,
		onHit:   func() {},
		onMiss:  func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse extracts builtin entities with caching support. Concurrent callers
// of the same text share one parse that outlives any single caller's
// cancellation.
func (c *CachedParser) Parse(ctx context.Context, text string, lang tokenizer.Language, kinds []string) ([]nlu.EntitySpan, error) {
	key := c.cacheKey(text, lang, kinds)

	// Check cache first
	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		c.onHit()
		c.logger.Debug("Builtin entity cache hit",
			zap.String("language", lang.String()),
			zap.Int("num_entities", len(item.Value())))
		return slices.Clone(item.Value()), nil
	}

	// Use singleflight to deduplicate concurrent identical requests
	flightCtx := context.WithoutCancel(ctx)
	ch := c.sfGroup.DoChan(key, func() (any, error) {
		// a flight that finished between the lookup above and DoChan has filled the cache
		if item := c.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		c.misses.Add(1)
		c.onMiss()

		start := time.Now()
		spans, err := c.parser.Parse(flightCtx, text, lang, kinds)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, spans, ttlcache.DefaultTTL)

		c.logger.Debug("Builtin entities parsed and cached",
			zap.String("language", lang.String()),
			zap.Int("num_entities", len(spans)),
			zap.Duration("duration", time.Since(start)))
		return spans, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.sfHits.Add(1)
			c.logger.Debug("Singleflight hit for builtin entity request")
		}
		return slices.Clone(res.Val.([]nlu.EntitySpan)), nil
	}
}

// cacheKey hashes language, requested kinds and text
func (c *CachedParser) cacheKey(text string, lang tokenizer.Language, kinds []string) string {
	h := xxhash.New()

	_, _ = h.WriteString(string(lang))
	_, _ = h.WriteString("|")

	sorted := slices.Clone(kinds)
	slices.Sort(sorted)
	for _, k := range sorted {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString(",")
	}
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(text)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Close stops the cache
func (c *CachedParser) Close() {
	c.cache.Stop()
}

// Stats returns cache statistics for this parser
func (c *CachedParser) Stats() CacheStats {
	return CacheStats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
		Items:            c.cache.Len(),
	}
}

// CacheStats holds cache statistics for a builtin entity parser
type CacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Items            int    `json:"items"`
}
