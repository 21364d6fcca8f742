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

package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley/lib/gazetteer"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// BuiltinParser extracts grammar-based entities from text.
type BuiltinParser interface {
	Parse(ctx context.Context, text string, lang tokenizer.Language, kinds []string) ([]nlu.EntitySpan, error)
}

// Entities describes the entities of a loaded model.
type Entities interface {
	Kind(entity string) (nlu.EntityKind, bool)
	Gazetteer(entity string) (*gazetteer.Gazetteer, bool)
	// Extensible reports whether values outside the gazetteer are accepted
	Extensible(entity string) bool
}

// Resolver maps tagged spans to canonical entity values.
type Resolver struct {
	Entities Entities
	Builtin  BuiltinParser
	Language tokenizer.Language
	Logger   *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Resolve turns a tagged span into a slot. It reports false when no
// confident value exists, in which case the slot must be dropped.
func (r *Resolver) Resolve(
	ctx context.Context,
	text string,
	tokens []tokenizer.Token,
	sr SlotRange,
	entity string,
) (nlu.Slot, bool, error) {
	kind, ok := r.Entities.Kind(entity)
	if !ok {
		return nlu.Slot{}, false, fmt.Errorf("%w: slot %q refers to unknown entity %q", nlu.ErrInternal, sr.Name, entity)
	}
	slot := nlu.Slot{
		Name:     sr.Name,
		Entity:   entity,
		Kind:     kind,
		RawValue: text[sr.Range.Start:sr.Range.End],
		Range:    sr.Range,
	}

	if kind.IsBuiltin() {
		return r.resolveBuiltin(ctx, slot)
	}

	g, ok := r.Entities.Gazetteer(entity)
	if !ok {
		return nlu.Slot{}, false, fmt.Errorf("%w: custom entity %q has no gazetteer", nlu.ErrInternal, entity)
	}
	if m, ok := matchWindow(g, tokens, sr); ok {
		slot.Value = m.Value
		slot.Score = m.Score
		slot.Range = m.Range
		slot.RawValue = text[m.Range.Start:m.Range.End]
		return slot, true, nil
	}
	if r.Entities.Extensible(entity) {
		slot.Value = slot.RawValue
		slot.Score = 1
		return slot, true, nil
	}
	r.logger().Debug("Dropping unresolved slot",
		zap.String("slot", sr.Name),
		zap.String("entity", entity),
		zap.String("raw_value", slot.RawValue))
	return nlu.Slot{}, false, nil
}

// matchWindow looks the span up in g, then widens the search by one token on
// each side and keeps the best match overlapping the span.
func matchWindow(g *gazetteer.Gazetteer, tokens []tokenizer.Token, sr SlotRange) (gazetteer.Match, bool) {
	if m, ok := g.MatchSpan(tokens[sr.TokenStart:sr.TokenEnd]); ok {
		m.TokenStart += sr.TokenStart
		m.TokenEnd += sr.TokenStart
		return m, true
	}
	lo, hi := max(0, sr.TokenStart-1), min(len(tokens), sr.TokenEnd+1)
	var (
		best  gazetteer.Match
		found bool
	)
	for _, m := range g.Match(tokens[lo:hi]) {
		if !m.Range.Overlaps(sr.Range) {
			continue
		}
		if !found || m.Score > best.Score {
			best, found = m, true
		}
	}
	if found {
		best.TokenStart += lo
		best.TokenEnd += lo
	}
	return best, found
}

func (r *Resolver) resolveBuiltin(ctx context.Context, slot nlu.Slot) (nlu.Slot, bool, error) {
	if r.Builtin == nil {
		return nlu.Slot{}, false, nil
	}
	spans, err := r.Builtin.Parse(ctx, slot.RawValue, r.Language, []string{slot.Entity})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nlu.Slot{}, false, err
		}
		r.logger().Debug("Builtin entity parser failed",
			zap.String("entity", slot.Entity),
			zap.Error(err))
		return nlu.Slot{}, false, nil
	}
	trimmed := strings.TrimSpace(slot.RawValue)
	for _, span := range spans {
		if span.Entity == slot.Entity && strings.TrimSpace(span.RawValue) == trimmed {
			slot.Value = span.Value
			slot.Score = 1
			return slot, true, nil
		}
	}
	r.logger().Debug("Dropping unresolved builtin slot",
		zap.String("slot", slot.Name),
		zap.String("entity", slot.Entity),
		zap.String("raw_value", slot.RawValue))
	return nlu.Slot{}, false, nil
}

// ResolveValue resolves raw text of an entity without token context. It is
// used to canonicalize slots produced by the deterministic matcher.
func (r *Resolver) ResolveValue(ctx context.Context, entity, raw string) (string, bool, error) {
	kind, ok := r.Entities.Kind(entity)
	if !ok {
		return "", false, fmt.Errorf("%w: unknown entity %q", nlu.ErrInternal, entity)
	}
	if kind.IsBuiltin() {
		slot, ok, err := r.resolveBuiltin(ctx, nlu.Slot{Entity: entity, RawValue: raw})
		return slot.Value, ok, err
	}
	g, ok := r.Entities.Gazetteer(entity)
	if !ok {
		return "", false, fmt.Errorf("%w: custom entity %q has no gazetteer", nlu.ErrInternal, entity)
	}
	if value, _, ok := g.Resolve(raw); ok {
		return value, true, nil
	}
	if r.Entities.Extensible(entity) {
		return raw, true, nil
	}
	return "", false, nil
}
