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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antflydb/parley/pkg/parley/lib/entities"
	"github.com/antflydb/parley/pkg/parley/lib/model"
	"github.com/antflydb/parley/pkg/parley/lib/modeltest"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

func newTestEngine(t *testing.T, cfg EngineConfig) *Engine {
	t.Helper()
	e, err := NewEngine(modeltest.Lights(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func slotByName(t *testing.T, slots []nlu.Slot, name string) nlu.Slot {
	t.Helper()
	for _, s := range slots {
		if s.Name == name {
			return s
		}
	}
	require.Failf(t, "slot not found", "no slot %q in %+v", name, slots)
	return nlu.Slot{}
}

func TestEngine_Parse(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	t.Run("intent with custom entity slot", func(t *testing.T) {
		text := "turn on the lights in the kitchen"
		result, err := e.Parse(ctx, text, ParseOptions{})
		require.NoError(t, err)

		assert.Equal(t, text, result.Input)
		assert.Equal(t, modeltest.TurnOnLight, result.Intent)
		assert.InDelta(t, 0.9495, result.Confidence, 1e-3)
		assert.Equal(t, nlu.SourceProbabilistic, result.Source)
		require.Len(t, result.Slots, 1)
		room := result.Slots[0]
		assert.Equal(t, "room", room.Name)
		assert.Equal(t, modeltest.Room, room.Entity)
		assert.Equal(t, "kitchen", room.RawValue)
		assert.Equal(t, "kitchen", room.Value)
		assert.Equal(t, nlu.Range{Start: 26, End: 33}, room.Range)
	})

	t.Run("typo resolved by fuzzy match", func(t *testing.T) {
		result, err := e.Parse(ctx, "kptchen lights on", ParseOptions{})
		require.NoError(t, err)

		assert.Equal(t, modeltest.TurnOnLight, result.Intent)
		assert.InDelta(t, 0.939, result.Confidence, 1e-3)
		require.Len(t, result.Slots, 1)
		assert.Equal(t, "kptchen", result.Slots[0].RawValue)
		assert.Equal(t, "kitchen", result.Slots[0].Value)

		result, err = e.Parse(ctx, "kibchan lights on", ParseOptions{})
		require.NoError(t, err)

		assert.Equal(t, modeltest.TurnOnLight, result.Intent)
		assert.InDelta(t, 0.939, result.Confidence, 1e-3)
		require.Len(t, result.Slots, 1)
		assert.Equal(t, "kibchan", result.Slots[0].RawValue)
		assert.Equal(t, "kitchen", result.Slots[0].Value)
	})

	t.Run("nonsense yields no intent", func(t *testing.T) {
		result, err := e.Parse(ctx, "what is the weather like", ParseOptions{})
		require.NoError(t, err)

		assert.False(t, result.Matched())
		assert.Equal(t, nlu.NoIntent, result.Intent)
		assert.Empty(t, result.Slots)
		assert.Equal(t, nlu.SourceNone, result.Source)
		assert.InDelta(t, 0.475, result.Confidence, 1e-3)
		for _, alt := range result.Alternatives {
			assert.NotEqual(t, nlu.NoIntent, alt.Intent)
		}
	})

	t.Run("empty utterance", func(t *testing.T) {
		result, err := e.Parse(ctx, "", ParseOptions{})
		require.NoError(t, err)
		assert.False(t, result.Matched())
		assert.Empty(t, result.Slots)
	})

	t.Run("builtin and custom slots", func(t *testing.T) {
		result, err := e.Parse(ctx, "set the kitchen brightness to 50%", ParseOptions{})
		require.NoError(t, err)

		assert.Equal(t, modeltest.SetBrightness, result.Intent)
		assert.InDelta(t, 0.948, result.Confidence, 1e-3)
		require.Len(t, result.Slots, 2)
		assert.Equal(t, "kitchen", slotByName(t, result.Slots, "room").Value)
		level := slotByName(t, result.Slots, "level")
		assert.Equal(t, entities.Percentage, level.Entity)
		assert.True(t, level.Kind.IsBuiltin())
		assert.Equal(t, "50%", level.RawValue)
		assert.Equal(t, "50%", level.Value)
	})

	t.Run("top candidates are slot filled", func(t *testing.T) {
		result, err := e.Parse(ctx, "set the kitchen brightness to 50%", ParseOptions{})
		require.NoError(t, err)

		require.NotEmpty(t, result.Alternatives)
		alt := result.Alternatives[0]
		assert.Equal(t, modeltest.TurnOnLight, alt.Intent)
		require.Len(t, alt.Slots, 1)
		assert.Equal(t, "kitchen", alt.Slots[0].Value)
	})

	t.Run("deterministic pattern wins", func(t *testing.T) {
		result, err := e.Parse(ctx, "Switch the kitchen lights off", ParseOptions{})
		require.NoError(t, err)

		assert.Equal(t, modeltest.TurnOffLight, result.Intent)
		assert.Equal(t, nlu.SourceDeterministic, result.Source)
		assert.InDelta(t, 1.0, result.Confidence, 1e-9)
		require.Len(t, result.Slots, 1)
		assert.Equal(t, "kitchen", result.Slots[0].Value)
	})

	t.Run("deterministic pattern honors whitelist", func(t *testing.T) {
		result, err := e.Parse(ctx, "switch the kitchen lights off", ParseOptions{
			Intents: []string{modeltest.TurnOnLight},
		})
		require.NoError(t, err)
		assert.NotEqual(t, nlu.SourceDeterministic, result.Source)
	})

	t.Run("whitelist renormalizes", func(t *testing.T) {
		result, err := e.Parse(ctx, "turn on the lights in the kitchen", ParseOptions{
			Intents: []string{modeltest.TurnOffLight},
		})
		require.NoError(t, err)

		assert.Equal(t, modeltest.TurnOffLight, result.Intent)
		assert.InDelta(t, 0.9526, result.Confidence, 1e-3)
		require.Len(t, result.Slots, 1)
		assert.Equal(t, "kitchen", result.Slots[0].Value)
	})

	t.Run("entity scope excludes custom entity", func(t *testing.T) {
		result, err := e.Parse(ctx, "turn on the lights in the kitchen", ParseOptions{
			EntityScope: []string{entities.Percentage},
		})
		require.NoError(t, err)

		assert.Equal(t, modeltest.TurnOnLight, result.Intent)
		assert.Empty(t, result.Slots)
	})

	t.Run("explicit model language", func(t *testing.T) {
		result, err := e.Parse(ctx, "turn on the lights in the kitchen", ParseOptions{Language: "EN"})
		require.NoError(t, err)
		assert.Equal(t, modeltest.TurnOnLight, result.Intent)
	})
}

func TestEngine_ParseErrors(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		text string
		opts ParseOptions
		want error
	}{
		{"invalid utf8", context.Background(), "turn \xff on", ParseOptions{}, ErrMalformedInput},
		{"unsupported language", context.Background(), "hello", ParseOptions{Language: "xx"}, ErrMalformedInput},
		{"language mismatch", context.Background(), "bonjour", ParseOptions{Language: tokenizer.Language("fr")}, ErrMalformedInput},
		{"unknown whitelisted intent", context.Background(), "hello", ParseOptions{Intents: []string{"orderPizza"}}, ErrUnknownIntent},
		{"canceled context", canceled, "turn on the lights", ParseOptions{}, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Parse(tt.ctx, tt.text, tt.opts)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewEngine_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewEngine(nil, EngineConfig{}, logger)
	require.ErrorIs(t, err, ErrEmptyModel)

	m := modeltest.Lights()
	m.Classifier = nil
	_, err = NewEngine(m, EngineConfig{}, logger)
	require.ErrorIs(t, err, ErrEmptyModel)

	m = modeltest.Lights()
	m.Version = "2.0"
	_, err = NewEngine(m, EngineConfig{}, logger)
	require.ErrorIs(t, err, ErrWrongModelVersion)

	_, err = NewEngine(modeltest.Lights(), EngineConfig{Threshold: Float64(1.5)}, logger)
	require.Error(t, err)

	m = modeltest.Lights()
	m.Patterns.Intents[modeltest.TurnOffLight] = []string{"switch [room"}
	_, err = NewEngine(m, EngineConfig{}, logger)
	require.ErrorIs(t, err, model.ErrInvalidModel)
}

func TestEngine_Threshold(t *testing.T) {
	e := newTestEngine(t, EngineConfig{Threshold: Float64(0.96)})

	result, err := e.Parse(context.Background(), "turn on the lights in the kitchen", ParseOptions{})
	require.NoError(t, err)

	assert.False(t, result.Matched())
	assert.Empty(t, result.Slots)
	require.NotEmpty(t, result.Alternatives)
	assert.Equal(t, modeltest.TurnOnLight, result.Alternatives[0].Intent)
}

func TestEngine_ZeroThresholdAcceptsEveryIntent(t *testing.T) {
	ctx := context.Background()
	const text = "turn 50%"

	result, err := newTestEngine(t, EngineConfig{}).Parse(ctx, text, ParseOptions{})
	require.NoError(t, err)
	assert.False(t, result.Matched())

	e := newTestEngine(t, EngineConfig{Threshold: Float64(0)})
	result, err = e.Parse(ctx, text, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, modeltest.SetBrightness, result.Intent)
	assert.InDelta(t, 0.387, result.Confidence, 1e-3)
	assert.Equal(t, nlu.SourceProbabilistic, result.Source)
}

func TestEngine_GetIntents(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})

	intents, err := e.GetIntents(context.Background(), "turn on the lights in the kitchen", ParseOptions{})
	require.NoError(t, err)
	require.Len(t, intents, 4)

	assert.Equal(t, modeltest.TurnOnLight, intents[0].Intent)
	var total float64
	var sawNone bool
	for i, c := range intents {
		total += c.Probability
		if c.Intent == nlu.NoIntent {
			sawNone = true
		}
		if i > 0 {
			assert.LessOrEqual(t, c.Probability, intents[i-1].Probability)
		}
	}
	assert.True(t, sawNone)
	assert.InDelta(t, 1.0, total, 1e-9)

	filtered, err := e.GetIntents(context.Background(), "turn on the lights in the kitchen", ParseOptions{
		Intents: []string{modeltest.SetBrightness},
	})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestEngine_GetSlots(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()

	found, err := e.GetSlots(ctx, "turn on the lights in the kitchen", modeltest.TurnOffLight, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "room", found[0].Name)
	assert.Equal(t, "kitchen", found[0].Value)

	found, err = e.GetSlots(ctx, "dim the bedroom to 20%", modeltest.SetBrightness, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "bedroom", slotByName(t, found, "room").Value)
	assert.Equal(t, "20%", slotByName(t, found, "level").Value)

	found, err = e.GetSlots(ctx, "dim the bedroom to 20%", modeltest.SetBrightness, ParseOptions{
		EntityScope: []string{modeltest.Room},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "room", found[0].Name)

	_, err = e.GetSlots(ctx, "turn on the lights", "orderPizza", ParseOptions{})
	require.ErrorIs(t, err, ErrUnknownIntent)
}

func TestEngine_Cache(t *testing.T) {
	e := newTestEngine(t, EngineConfig{})
	ctx := context.Background()
	text := "turn on the lights in the kitchen"

	first, err := e.Parse(ctx, text, ParseOptions{})
	require.NoError(t, err)
	second, err := e.Parse(ctx, text, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats, ok := e.CacheStats()
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Items)

	// results handed out are copies
	first.Slots[0].Value = "garage"
	third, err := e.Parse(ctx, text, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "kitchen", third.Slots[0].Value)

	// a different scope is a different entry
	_, err = e.Parse(ctx, text, ParseOptions{Intents: []string{modeltest.TurnOnLight}})
	require.NoError(t, err)
	stats, _ = e.CacheStats()
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestEngine_CacheDisabled(t *testing.T) {
	cfg := EngineConfig{}
	cfg.Cache.Disabled = true
	cfg.BuiltinCache.Disabled = true
	e := newTestEngine(t, cfg)

	_, ok := e.CacheStats()
	assert.False(t, ok)

	result, err := e.Parse(context.Background(), "set the kitchen brightness to 50%", ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, modeltest.SetBrightness, result.Intent)
}

func TestEngine_BuiltinCacheMetrics(t *testing.T) {
	cfg := EngineConfig{}
	cfg.Cache.Disabled = true
	e := newTestEngine(t, cfg)

	hits := testutil.ToFloat64(cacheHits.WithLabelValues("builtin"))
	misses := testutil.ToFloat64(cacheMisses.WithLabelValues("builtin"))

	const text = "set the kitchen brightness to 50%"
	for range 2 {
		_, err := e.Parse(context.Background(), text, ParseOptions{})
		require.NoError(t, err)
	}
	assert.Greater(t, testutil.ToFloat64(cacheMisses.WithLabelValues("builtin")), misses)
	assert.Greater(t, testutil.ToFloat64(cacheHits.WithLabelValues("builtin")), hits)
}

func TestEngine_TopKOne(t *testing.T) {
	e := newTestEngine(t, EngineConfig{TopK: 1})

	result, err := e.Parse(context.Background(), "set the kitchen brightness to 50%", ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Slots, 2)
	for _, alt := range result.Alternatives {
		assert.Empty(t, alt.Slots)
	}
}

type failingParser struct{ err error }

func (p failingParser) Parse(context.Context, string, tokenizer.Language, []string) ([]nlu.EntitySpan, error) {
	return nil, p.err
}

func TestEngine_BuiltinParserFailure(t *testing.T) {
	ctx := context.Background()

	e, err := NewEngine(modeltest.Lights(), EngineConfig{}, zaptest.NewLogger(t),
		WithBuiltinParser(failingParser{err: assert.AnError}))
	require.NoError(t, err)
	defer e.Close()

	// builtin failures drop builtin entities, the rest of the parse goes on
	result, err := e.Parse(ctx, "turn on the lights in the kitchen", ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, modeltest.TurnOnLight, result.Intent)

	e, err = NewEngine(modeltest.Lights(), EngineConfig{}, zaptest.NewLogger(t),
		WithBuiltinParser(failingParser{err: context.DeadlineExceeded}))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Parse(ctx, "set the kitchen brightness to 50%", ParseOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
