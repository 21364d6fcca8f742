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
	"fmt"
	"time"

	"github.com/antflydb/parley/pkg/parley/lib/entities"
	"github.com/antflydb/parley/pkg/parley/lib/resolution"
)

// Defaults of EngineConfig.
const (
	DefaultTopK          = 3
	DefaultCacheCapacity = 10000
	DefaultCacheShards   = 16
)

// CacheConfig sizes a cache. A zero TTL keeps entries until they are evicted.
type CacheConfig struct {
	Disabled bool          `mapstructure:"disabled"`
	Capacity uint64        `mapstructure:"capacity"`
	Shards   int           `mapstructure:"shards"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// EngineConfig tunes an Engine.
type EngineConfig struct {
	// Threshold is the probability a probabilistic intent needs to be
	// returned. Nil uses the default; zero accepts every intent.
	Threshold *float64 `mapstructure:"threshold"`
	// TopK is the number of intent candidates whose slots are filled
	TopK int `mapstructure:"top_k"`
	// FuzzyThreshold is the gazetteer threshold of models that carry none
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
	// Cache is the query cache
	Cache CacheConfig `mapstructure:"cache"`
	// BuiltinCache caches builtin entity parses
	BuiltinCache CacheConfig `mapstructure:"builtin_cache"`
}

// DefaultEngineConfig returns the configuration used for zero fields.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Threshold: Float64(resolution.DefaultThreshold),
		TopK:      DefaultTopK,
		Cache: CacheConfig{
			Capacity: DefaultCacheCapacity,
			Shards:   DefaultCacheShards,
		},
		BuiltinCache: CacheConfig{
			Capacity: entities.DefaultCacheCapacity,
			TTL:      entities.DefaultCacheTTL,
		},
	}
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// withDefaults fills zero fields from DefaultEngineConfig.
func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.Threshold == nil {
		c.Threshold = def.Threshold
	}
	if c.TopK == 0 {
		c.TopK = def.TopK
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = def.Cache.Capacity
	}
	if c.Cache.Shards == 0 {
		c.Cache.Shards = def.Cache.Shards
	}
	if c.BuiltinCache.Capacity == 0 {
		c.BuiltinCache.Capacity = def.BuiltinCache.Capacity
	}
	if c.BuiltinCache.TTL == 0 {
		c.BuiltinCache.TTL = def.BuiltinCache.TTL
	}
	return c
}

// Validate rejects out of range values.
func (c EngineConfig) Validate() error {
	if c.Threshold != nil && (*c.Threshold < 0 || *c.Threshold > 1) {
		return fmt.Errorf("threshold must be in [0, 1], got %g", *c.Threshold)
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be in [0, 1], got %g", c.FuzzyThreshold)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", c.TopK)
	}
	if c.Cache.Shards < 0 {
		return fmt.Errorf("cache.shards must not be negative, got %d", c.Cache.Shards)
	}
	if c.Cache.TTL < 0 || c.BuiltinCache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}

// Config is the configuration of a parley node.
type Config struct {
	ApiUrl   string `mapstructure:"api_url"`
	ModelDir string `mapstructure:"model_dir"`
	// MaxConcurrentRequests bounds the parses running at once; 0 is unbounded
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
	// MaxQueueSize bounds the requests waiting for a slot; 0 is unbounded
	MaxQueueSize int `mapstructure:"max_queue_size"`
	// RequestTimeout bounds the wait for a slot, e.g. "30s"
	RequestTimeout string       `mapstructure:"request_timeout"`
	Engine         EngineConfig `mapstructure:"engine"`
}
