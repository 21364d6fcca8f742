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

package resolution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
)

type mapResolver map[string]string

func (m mapResolver) ResolveValue(_ context.Context, entity, raw string) (string, bool, error) {
	if entity == "broken" {
		return "", false, errors.New("resolver down")
	}
	v, ok := m[entity+"/"+raw]
	return v, ok, nil
}

func probResult(intent string, conf, none float64) *nlu.ParseResult {
	return &nlu.ParseResult{
		Intent:     intent,
		Confidence: conf,
		Source:     nlu.SourceProbabilistic,
		Alternatives: []nlu.IntentClassification{
			{Intent: "other", Probability: 1 - conf - none},
			{Intent: nlu.NoIntent, Probability: none},
		},
	}
}

func TestRankerResolve(t *testing.T) {
	ctx := context.Background()
	r := NewRanker(DefaultThreshold, mapResolver{"room/kitchen": "kitchen"}, zaptest.NewLogger(t))

	t.Run("ProbabilisticAboveThreshold", func(t *testing.T) {
		got, err := r.Resolve(ctx, "turn on", probResult("turnOn", 0.8, 0.1), nil)
		require.NoError(t, err)
		assert.Equal(t, "turnOn", got.Intent)
		assert.Equal(t, "turn on", got.Input)
		assert.InDelta(t, 0.8, got.Confidence, 1e-12)
		assert.Equal(t, nlu.SourceProbabilistic, got.Source)
	})

	t.Run("ProbabilisticAtThreshold", func(t *testing.T) {
		got, err := r.Resolve(ctx, "x", probResult("turnOn", 0.5, 0.2), nil)
		require.NoError(t, err)
		assert.Equal(t, "turnOn", got.Intent)
	})

	t.Run("BelowThresholdReportsNone", func(t *testing.T) {
		got, err := r.Resolve(ctx, "x", probResult("turnOn", 0.45, 0.35), nil)
		require.NoError(t, err)
		assert.False(t, got.Matched())
		assert.InDelta(t, 0.35, got.Confidence, 1e-12)
		assert.Equal(t, nlu.SourceNone, got.Source)
		require.NotEmpty(t, got.Alternatives)
		assert.Equal(t, "turnOn", got.Alternatives[0].Intent)
	})

	t.Run("ZeroThresholdAcceptsAnyIntent", func(t *testing.T) {
		lenient := NewRanker(0, nil, zaptest.NewLogger(t))
		got, err := lenient.Resolve(ctx, "x", probResult("turnOn", 0.2, 0.1), nil)
		require.NoError(t, err)
		assert.Equal(t, "turnOn", got.Intent)
		assert.InDelta(t, 0.2, got.Confidence, 1e-12)
	})

	t.Run("NoneWins", func(t *testing.T) {
		prob := &nlu.ParseResult{Intent: nlu.NoIntent, Confidence: 0.7}
		got, err := r.Resolve(ctx, "x", prob, nil)
		require.NoError(t, err)
		assert.False(t, got.Matched())
		assert.InDelta(t, 0.7, got.Confidence, 1e-12)
	})

	t.Run("DeterministicWinsTie", func(t *testing.T) {
		det := &nlu.ParseResult{Intent: "turnOff", Confidence: 1}
		got, err := r.Resolve(ctx, "x", &nlu.ParseResult{Intent: "turnOn", Confidence: 1}, det)
		require.NoError(t, err)
		assert.Equal(t, "turnOff", got.Intent)
		assert.Equal(t, nlu.SourceDeterministic, got.Source)
	})

	t.Run("DeterministicBelowProbabilistic", func(t *testing.T) {
		det := &nlu.ParseResult{Intent: "turnOff", Confidence: 0.6}
		got, err := r.Resolve(ctx, "x", probResult("turnOn", 0.9, 0.05), det)
		require.NoError(t, err)
		assert.Equal(t, "turnOn", got.Intent)
	})

	t.Run("DeterministicOnly", func(t *testing.T) {
		det := &nlu.ParseResult{Intent: "turnOff", Confidence: 1}
		got, err := r.Resolve(ctx, "x", nil, det)
		require.NoError(t, err)
		assert.Equal(t, "turnOff", got.Intent)
	})

	t.Run("NothingMatched", func(t *testing.T) {
		got, err := r.Resolve(ctx, "x", nil, nil)
		require.NoError(t, err)
		assert.False(t, got.Matched())
		assert.InDelta(t, 1.0, got.Confidence, 1e-12)
	})

	t.Run("CanonicalizesSlots", func(t *testing.T) {
		prob := probResult("turnOn", 0.9, 0.05)
		prob.Slots = []nlu.Slot{
			{Name: "room", Entity: "room", RawValue: "kitchen"},
			{Name: "other", Entity: "room", RawValue: "attic"},
			{Name: "level", Entity: "sys/number", RawValue: "two", Value: "2"},
		}
		got, err := r.Resolve(ctx, "x", prob, nil)
		require.NoError(t, err)
		require.Len(t, got.Slots, 2)
		assert.Equal(t, "kitchen", got.Slots[0].Value)
		assert.Equal(t, "level", got.Slots[1].Name)
		// input result left untouched
		assert.Empty(t, prob.Slots[0].Value)
	})

	t.Run("ResolverErrorPropagates", func(t *testing.T) {
		prob := probResult("turnOn", 0.9, 0.05)
		prob.Slots = []nlu.Slot{{Name: "x", Entity: "broken", RawValue: "y"}}
		_, err := r.Resolve(ctx, "x", prob, nil)
		require.Error(t, err)
	})
}

func TestNoneProbability(t *testing.T) {
	assert.InDelta(t, 1.0, NoneProbability(nil), 1e-12)
	assert.InDelta(t, 0.2, NoneProbability(probResult("a", 0.5, 0.2)), 1e-12)
	assert.InDelta(t, 0.0, NoneProbability(&nlu.ParseResult{Intent: "a", Confidence: 1}), 1e-12)
}

func TestQueryScope(t *testing.T) {
	q := Query{}
	assert.True(t, q.AllowsIntent("a"))
	assert.True(t, q.AllowsEntity("room"))

	q = Query{Intents: []string{"a"}, EntityScope: []string{"room"}}
	assert.True(t, q.AllowsIntent("a"))
	assert.False(t, q.AllowsIntent("b"))
	assert.True(t, q.AllowsEntity("room"))
	assert.False(t, q.AllowsEntity("color"))
}

func TestMatcherFunc(t *testing.T) {
	var m Matcher = MatcherFunc(func(_ context.Context, q Query) (*nlu.ParseResult, error) {
		return &nlu.ParseResult{Input: q.Text}, nil
	})
	got, err := m.Match(context.Background(), Query{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Input)
}
