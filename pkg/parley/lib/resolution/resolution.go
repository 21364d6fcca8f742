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

// Package resolution merges the results of the deterministic and the
// probabilistic matchers into the final answer of the engine.
package resolution

import (
	"context"

	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// DefaultThreshold is the probability a probabilistic intent needs to be
// returned instead of the "no intent" result.
const DefaultThreshold = 0.5

// Query is a tokenized utterance with its parsing scope.
type Query struct {
	Text     string
	Language tokenizer.Language
	Tokens   []tokenizer.Token
	// Intents restricts the candidate intents; empty means all
	Intents []string
	// EntityScope restricts the entities slots may carry; empty means all
	EntityScope []string
}

// AllowsIntent reports whether intent is in the query whitelist.
func (q Query) AllowsIntent(intent string) bool {
	if len(q.Intents) == 0 {
		return true
	}
	for _, i := range q.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// AllowsEntity reports whether entity is in the query entity scope.
func (q Query) AllowsEntity(entity string) bool {
	if len(q.EntityScope) == 0 {
		return true
	}
	for _, e := range q.EntityScope {
		if e == entity {
			return true
		}
	}
	return false
}

// Matcher is an intent matching strategy. A nil result means no match.
type Matcher interface {
	Match(ctx context.Context, q Query) (*nlu.ParseResult, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(ctx context.Context, q Query) (*nlu.ParseResult, error)

// Match implements Matcher.
func (f MatcherFunc) Match(ctx context.Context, q Query) (*nlu.ParseResult, error) {
	return f(ctx, q)
}

// SlotResolver canonicalizes the raw value of an entity.
type SlotResolver interface {
	ResolveValue(ctx context.Context, entity, raw string) (string, bool, error)
}

// Ranker picks between deterministic and probabilistic results.
type Ranker struct {
	// Threshold is the acceptance threshold of probabilistic results
	Threshold float64
	Resolver  SlotResolver
	Logger    *zap.Logger
}

// NewRanker returns a ranker with the given acceptance threshold. A zero
// threshold accepts every probabilistic intent.
func NewRanker(threshold float64, resolver SlotResolver, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{Threshold: threshold, Resolver: resolver, Logger: logger}
}

// Resolve returns the final result for input. A deterministic match wins
// when its confidence is at least the probabilistic one. A probabilistic
// intent is only returned at or above the threshold; otherwise the result is
// "no intent" carrying the probability of the none class. Slots without a
// canonical value are resolved, and dropped when they cannot be.
func (r *Ranker) Resolve(ctx context.Context, input string, prob, det *nlu.ParseResult) (nlu.ParseResult, error) {
	var chosen nlu.ParseResult
	switch {
	case det != nil && det.Matched() && (prob == nil || !prob.Matched() || det.Confidence >= prob.Confidence):
		chosen = det.Clone()
		chosen.Source = nlu.SourceDeterministic
	case prob != nil && prob.Matched() && prob.Confidence >= r.Threshold:
		chosen = prob.Clone()
		chosen.Source = nlu.SourceProbabilistic
	default:
		none := NoneProbability(prob)
		if prob != nil && prob.Matched() {
			r.Logger.Debug("Rejecting low confidence intent",
				zap.String("intent", prob.Intent),
				zap.Float64("confidence", prob.Confidence),
				zap.Float64("threshold", r.Threshold))
		}
		result := nlu.NoMatch(input, none)
		if prob != nil {
			result.Alternatives = alternatives(prob)
		}
		return result, nil
	}
	chosen.Input = input

	slots, err := r.canonicalize(ctx, chosen.Slots)
	if err != nil {
		return nlu.ParseResult{}, err
	}
	chosen.Slots = slots
	return chosen, nil
}

func (r *Ranker) canonicalize(ctx context.Context, slots []nlu.Slot) ([]nlu.Slot, error) {
	out := make([]nlu.Slot, 0, len(slots))
	for _, slot := range slots {
		if slot.Resolved() {
			out = append(out, slot)
			continue
		}
		if r.Resolver == nil {
			continue
		}
		value, ok, err := r.Resolver.ResolveValue(ctx, slot.Entity, slot.RawValue)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.Logger.Debug("Dropping slot without canonical value",
				zap.String("slot", slot.Name),
				zap.String("entity", slot.Entity),
				zap.String("raw_value", slot.RawValue))
			continue
		}
		slot.Value = value
		out = append(out, slot)
	}
	return out, nil
}

// NoneProbability returns the probability of the "no intent" class carried
// by a probabilistic result, 1 when there is none.
func NoneProbability(prob *nlu.ParseResult) float64 {
	if prob == nil {
		return 1
	}
	if !prob.Matched() {
		return prob.Confidence
	}
	for _, alt := range prob.Alternatives {
		if alt.Intent == nlu.NoIntent {
			return alt.Probability
		}
	}
	return 0
}

// alternatives lists every classification of prob, its top intent included.
func alternatives(prob *nlu.ParseResult) []nlu.IntentClassification {
	if !prob.Matched() {
		return prob.Clone().Alternatives
	}
	out := make([]nlu.IntentClassification, 0, len(prob.Alternatives)+1)
	out = append(out, nlu.IntentClassification{Intent: prob.Intent, Probability: prob.Confidence})
	for _, alt := range prob.Clone().Alternatives {
		if alt.Intent != nlu.NoIntent {
			out = append(out, alt)
		}
	}
	return out
}
