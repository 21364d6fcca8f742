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
	"sort"
	"time"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Option configures a RuleParser.
type Option func(*RuleParser)

// WithClock sets the clock relative dates are computed from.
func WithClock(now func() time.Time) Option {
	return func(p *RuleParser) {
		p.now = now
	}
}

// RuleParser is a rule-based builtin entity parser. Number, ordinal,
// temperature, duration and date words are understood in English; other
// languages get digit, symbol and ISO 8601 forms only.
type RuleParser struct {
	now func() time.Time
}

// NewRuleParser returns a parser using the wall clock unless overridden.
func NewRuleParser(opts ...Option) *RuleParser {
	p := &RuleParser{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// candidate is an entity found at a token range [start, end).
type candidate struct {
	kind       string
	start, end int
	value      string
}

// matcher tries to read an entity starting at token i.
type matcher func(s *scan, i int) (end int, value string, ok bool)

var matchers = map[string]matcher{
	Number:      matchNumber,
	Ordinal:     matchOrdinal,
	Percentage:  matchPercentage,
	Temperature: matchTemperature,
	Duration:    matchDuration,
	Date:        matchDate,
}

// Parse implements Parser. Overlapping candidates are resolved by keeping the
// longest span, then the kind listed first in Kinds, then the earliest.
func (p *RuleParser) Parse(ctx context.Context, text string, lang tokenizer.Language, kinds []string) ([]nlu.EntitySpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateKinds(kinds); err != nil {
		return nil, err
	}
	tokens, err := tokenizer.Tokenize(text, lang)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		kinds = Kinds
	}
	s := newScan(text, tokens, lang, p.now())

	var candidates []candidate
	for i := range tokens {
		for _, kind := range kinds {
			if end, value, ok := matchers[kind](s, i); ok {
				candidates = append(candidates, candidate{kind: kind, start: i, end: end, value: value})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if la, lb := a.end-a.start, b.end-b.start; la != lb {
			return la > lb
		}
		if pa, pb := priority(a.kind), priority(b.kind); pa != pb {
			return pa < pb
		}
		return a.start < b.start
	})
	taken := make([]bool, len(tokens))
	spans := make([]nlu.EntitySpan, 0, len(candidates))
	for _, c := range candidates {
		if anyTaken(taken, c.start, c.end) {
			continue
		}
		for i := c.start; i < c.end; i++ {
			taken[i] = true
		}
		r := nlu.Range{Start: tokens[c.start].Start, End: tokens[c.end-1].End}
		spans = append(spans, nlu.EntitySpan{
			Entity:   c.kind,
			RawValue: text[r.Start:r.End],
			Value:    c.value,
			Range:    r,
			Score:    1,
		})
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Range.Start < spans[j].Range.Start
	})
	return spans, nil
}

func anyTaken(taken []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if taken[i] {
			return true
		}
	}
	return false
}

// scan is the per-call view of a tokenized text.
type scan struct {
	text    string
	tokens  []tokenizer.Token
	words   []string
	english bool
	now     time.Time
}

func newScan(text string, tokens []tokenizer.Token, lang tokenizer.Language, now time.Time) *scan {
	return &scan{
		text:    text,
		tokens:  tokens,
		words:   tokenizer.Normalized(tokens),
		english: lang == tokenizer.LanguageEN,
		now:     now,
	}
}

// word returns the normalized token at i or "" past the end.
func (s *scan) word(i int) string {
	if i < 0 || i >= len(s.words) {
		return ""
	}
	return s.words[i]
}

// adjacent reports whether tokens i and i+1 touch without a separator.
func (s *scan) adjacent(i int) bool {
	return i+1 < len(s.tokens) && s.tokens[i].End == s.tokens[i+1].Start
}
