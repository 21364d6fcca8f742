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

// Package patterns implements the deterministic matcher: utterance templates
// with slot placeholders, compiled to anchored regular expressions over the
// normalized utterance.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/resolution"
	"github.com/antflydb/parley/pkg/parley/lib/slots"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Confidence is the confidence of every deterministic match.
const Confidence = 1.0

// ErrInvalidPattern is returned for templates that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid pattern")

// placeholder syntax: [slot] or [slot:entity]
var placeholderRe = regexp.MustCompile(`\[([^\[\]:\s]+)(?::([^\[\]\s]+))?\]`)

// File is the YAML document holding the templates of a model.
//
//	language: en
//	intents:
//	  turnOffLight:
//	    - "switch the [room] lights off"
type File struct {
	Language string              `yaml:"language" json:"language"`
	Intents  map[string][]string `yaml:"intents" json:"intents"`
}

// Parse decodes a pattern file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pattern YAML: %w", err)
	}
	return &f, nil
}

// LoadFile reads and decodes a pattern file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	return Parse(data)
}

// Len returns the number of templates in the file.
func (f *File) Len() int {
	n := 0
	for _, templates := range f.Intents {
		n += len(templates)
	}
	return n
}

// SlotEntities returns the entity a slot of an intent carries.
type SlotEntities func(intent, slot string) (string, bool)

// SlotResolver turns a span of the utterance into a slot.
type SlotResolver interface {
	Resolve(ctx context.Context, text string, tokens []tokenizer.Token, sr slots.SlotRange, entity string) (nlu.Slot, bool, error)
}

// Placeholder is a slot of a template.
type Placeholder struct {
	Slot   string `json:"slot"`
	Entity string `json:"entity"`
}

// Pattern is a compiled template.
type Pattern struct {
	Intent   string        `json:"intent"`
	Template string        `json:"template"`
	Slots    []Placeholder `json:"slots,omitempty"`

	re *regexp.Regexp
}

// Compile turns a template into a pattern. Literal text is normalized the way
// utterances are, punctuation is ignored and two placeholders must be
// separated by at least one word.
func Compile(intent, template string, lang tokenizer.Language, entities SlotEntities) (*Pattern, error) {
	if strings.ContainsAny(placeholderRe.ReplaceAllString(template, " "), "[]") {
		return nil, fmt.Errorf("%w: %q: malformed placeholder", ErrInvalidPattern, template)
	}
	p := &Pattern{Intent: intent, Template: template}
	var parts []string
	lastWasSlot := false

	literal := func(text string) error {
		ws, err := words(text, lang)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidPattern, template, err)
		}
		if len(ws) == 0 {
			return nil
		}
		for _, w := range ws {
			parts = append(parts, regexp.QuoteMeta(w))
		}
		lastWasSlot = false
		return nil
	}

	offset := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(template, -1) {
		if err := literal(template[offset:loc[0]]); err != nil {
			return nil, err
		}
		if lastWasSlot {
			return nil, fmt.Errorf("%w: %q: adjacent placeholders", ErrInvalidPattern, template)
		}
		ph := Placeholder{Slot: template[loc[2]:loc[3]]}
		if loc[4] >= 0 {
			ph.Entity = template[loc[4]:loc[5]]
		} else if entities != nil {
			ph.Entity, _ = entities(intent, ph.Slot)
		}
		if ph.Entity == "" {
			return nil, fmt.Errorf("%w: %q: slot %q has no entity", ErrInvalidPattern, template, ph.Slot)
		}
		p.Slots = append(p.Slots, ph)
		parts = append(parts, `(.+?)`)
		lastWasSlot = true
		offset = loc[1]
	}
	if err := literal(template[offset:]); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q: empty template", ErrInvalidPattern, template)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, " ") + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, template, err)
	}
	p.re = re
	return p, nil
}

// words returns the normalized non-punctuation tokens of text.
func words(text string, lang tokenizer.Language) ([]string, error) {
	tokens, err := tokenizer.Tokenize(text, lang)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !t.IsPunctuation() {
			out = append(out, t.Normalized)
		}
	}
	return out, nil
}

// utterance is the normalized form of a query that patterns run against.
type utterance struct {
	text string
	// startAt and endAt map offsets in text to token indexes of the query
	startAt map[int]int
	endAt   map[int]int
}

func newUtterance(tokens []tokenizer.Token) utterance {
	u := utterance{startAt: make(map[int]int, len(tokens)), endAt: make(map[int]int, len(tokens))}
	var b strings.Builder
	for i, t := range tokens {
		if t.IsPunctuation() {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		u.startAt[b.Len()] = i
		b.WriteString(t.Normalized)
		u.endAt[b.Len()] = i + 1
	}
	u.text = b.String()
	return u
}

// match returns the token span of every placeholder.
func (p *Pattern) match(u utterance, tokens []tokenizer.Token) ([]slots.SlotRange, bool) {
	loc := p.re.FindStringSubmatchIndex(u.text)
	if loc == nil {
		return nil, false
	}
	ranges := make([]slots.SlotRange, len(p.Slots))
	for i, ph := range p.Slots {
		start, okStart := u.startAt[loc[2*i+2]]
		end, okEnd := u.endAt[loc[2*i+3]]
		if !okStart || !okEnd || end <= start {
			return nil, false
		}
		ranges[i] = slots.SlotRange{
			Name:       ph.Slot,
			TokenStart: start,
			TokenEnd:   end,
			Range:      nlu.Range{Start: tokens[start].Start, End: tokens[end-1].End},
		}
	}
	return ranges, true
}

// Matcher runs the patterns of a model against queries.
type Matcher struct {
	patterns []*Pattern
	resolver SlotResolver
	logger   *zap.Logger
}

// New compiles every template of f. Intents are visited in name order and
// templates in file order, which is the order patterns are tried in.
func New(f *File, lang tokenizer.Language, entities SlotEntities, resolver SlotResolver, logger *zap.Logger) (*Matcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: no slot resolver", ErrInvalidPattern)
	}
	m := &Matcher{resolver: resolver, logger: logger}
	if f == nil {
		return m, nil
	}
	if f.Language != "" {
		fileLang, err := tokenizer.ParseLanguage(f.Language)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
		}
		if fileLang != lang {
			return nil, fmt.Errorf("%w: patterns are %s, model is %s", ErrInvalidPattern, fileLang, lang)
		}
	}
	intents := make([]string, 0, len(f.Intents))
	for intent := range f.Intents {
		intents = append(intents, intent)
	}
	slices.Sort(intents)
	for _, intent := range intents {
		for _, template := range f.Intents[intent] {
			p, err := Compile(intent, template, lang, entities)
			if err != nil {
				return nil, err
			}
			m.patterns = append(m.patterns, p)
		}
	}
	return m, nil
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// Patterns returns the compiled patterns in matching order.
func (m *Matcher) Patterns() []*Pattern {
	return slices.Clone(m.patterns)
}

// Match returns the first pattern whose slots all resolve, or nil.
func (m *Matcher) Match(ctx context.Context, q resolution.Query) (*nlu.ParseResult, error) {
	if len(m.patterns) == 0 {
		return nil, nil
	}
	u := newUtterance(q.Tokens)
	for _, p := range m.patterns {
		if !q.AllowsIntent(p.Intent) {
			continue
		}
		ranges, ok := p.match(u, q.Tokens)
		if !ok {
			continue
		}
		result, ok, err := m.fill(ctx, q, p, ranges)
		if err != nil {
			return nil, err
		}
		if ok {
			m.logger.Debug("Deterministic match",
				zap.String("intent", p.Intent),
				zap.String("template", p.Template))
			return result, nil
		}
	}
	return nil, nil
}

func (m *Matcher) fill(ctx context.Context, q resolution.Query, p *Pattern, ranges []slots.SlotRange) (*nlu.ParseResult, bool, error) {
	filled := make([]nlu.Slot, 0, len(ranges))
	for i, sr := range ranges {
		entity := p.Slots[i].Entity
		if !q.AllowsEntity(entity) {
			return nil, false, nil
		}
		slot, ok, err := m.resolver.Resolve(ctx, q.Text, q.Tokens, sr, entity)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		filled = append(filled, slot)
	}
	return &nlu.ParseResult{
		Input:      q.Text,
		Intent:     p.Intent,
		Confidence: Confidence,
		Slots:      filled,
		Source:     nlu.SourceDeterministic,
	}, true, nil
}
