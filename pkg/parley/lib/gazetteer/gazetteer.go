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

// Package gazetteer indexes the known values of a custom entity and finds
// approximate occurrences of them in tokenized utterances.
package gazetteer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// DefaultThreshold is the similarity a fuzzy candidate needs to be accepted.
const DefaultThreshold = 0.7

// ErrInvalidEntry is returned when a gazetteer is built from unusable entries.
var ErrInvalidEntry = errors.New("invalid gazetteer entry")

// Entry is a canonical entity value with its synonyms.
type Entry struct {
	Value    string   `json:"value"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// Match is an accepted occurrence of a gazetteer value.
type Match struct {
	Entity string `json:"entity"`
	// TokenStart and TokenEnd delimit the matched tokens, end exclusive
	TokenStart int       `json:"token_start"`
	TokenEnd   int       `json:"token_end"`
	Range      nlu.Range `json:"range"`
	// Value is the canonical value of the matched entry
	Value string `json:"value"`
	// Variant is the normalized value or synonym that matched
	Variant string  `json:"variant"`
	Score   float64 `json:"score"`
}

// EntitySpan converts the match into a span of text.
func (m Match) EntitySpan(text string) nlu.EntitySpan {
	return nlu.EntitySpan{
		Entity:   m.Entity,
		RawValue: text[m.Range.Start:m.Range.End],
		Value:    m.Value,
		Range:    m.Range,
		Score:    m.Score,
	}
}

// Option configures a Gazetteer.
type Option func(*Gazetteer)

// WithThreshold sets the minimum similarity of accepted matches.
func WithThreshold(threshold float64) Option {
	return func(g *Gazetteer) {
		g.threshold = threshold
	}
}

// WithSimilarity sets the similarity measure used for fuzzy matches.
func WithSimilarity(s Similarity) Option {
	return func(g *Gazetteer) {
		g.similarity = s
	}
}

// WithLanguage sets the language used to normalize entry values.
func WithLanguage(lang tokenizer.Language) Option {
	return func(g *Gazetteer) {
		g.lang = lang
	}
}

type variant struct {
	text  string
	entry int
	runes int
}

// Gazetteer is an immutable index over the values of one custom entity.
// It is safe for concurrent use.
type Gazetteer struct {
	name       string
	lang       tokenizer.Language
	threshold  float64
	similarity Similarity

	entries  []Entry
	variants []variant
	exact    map[string]int
	trigrams map[string][]int
	// byLength buckets variants by rune count; lengths lists the keys in order
	byLength map[int][]int
	lengths  []int
	maxWords int
}

// New builds the index for the given entries. When two entries share a
// normalized variant, the first one wins.
func New(name string, entries []Entry, opts ...Option) (*Gazetteer, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: gazetteer name is empty", ErrInvalidEntry)
	}
	g := &Gazetteer{
		name:       name,
		lang:       tokenizer.LanguageEN,
		threshold:  DefaultThreshold,
		similarity: LevenshteinRatio{},
		exact:      make(map[string]int),
		trigrams:   make(map[string][]int),
		byLength:   make(map[int][]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.threshold <= 0 || g.threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v of %q is outside (0, 1]", ErrInvalidEntry, g.threshold, name)
	}
	if g.similarity == nil {
		g.similarity = LevenshteinRatio{}
	}

	g.entries = make([]Entry, 0, len(entries))
	for _, e := range entries {
		canonical, err := tokenizer.NormalizeText(e.Value, g.lang)
		if err != nil {
			return nil, fmt.Errorf("gazetteer %q: %w", name, err)
		}
		if canonical == "" {
			return nil, fmt.Errorf("%w: %q has an empty value", ErrInvalidEntry, name)
		}
		entryIdx := len(g.entries)
		g.entries = append(g.entries, Entry{
			Value:    e.Value,
			Synonyms: append([]string(nil), e.Synonyms...),
		})
		g.addVariant(canonical, entryIdx)
		for _, syn := range e.Synonyms {
			normalized, err := tokenizer.NormalizeText(syn, g.lang)
			if err != nil {
				return nil, fmt.Errorf("gazetteer %q: %w", name, err)
			}
			if normalized != "" {
				g.addVariant(normalized, entryIdx)
			}
		}
	}
	for n := range g.byLength {
		g.lengths = append(g.lengths, n)
	}
	sort.Ints(g.lengths)
	return g, nil
}

func (g *Gazetteer) addVariant(text string, entry int) {
	if _, dup := g.exact[text]; dup {
		return
	}
	idx := len(g.variants)
	v := variant{text: text, entry: entry, runes: utf8.RuneCountInString(text)}
	g.variants = append(g.variants, v)
	g.exact[text] = idx
	g.maxWords = max(g.maxWords, strings.Count(text, " ")+1)
	g.byLength[v.runes] = append(g.byLength[v.runes], idx)
	for _, tg := range trigrams(text) {
		g.trigrams[tg] = append(g.trigrams[tg], idx)
	}
}

// trigrams returns the distinct rune trigrams of s.
func trigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	seen := make(map[string]struct{}, len(runes)-2)
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		tg := string(runes[i : i+3])
		if _, ok := seen[tg]; ok {
			continue
		}
		seen[tg] = struct{}{}
		out = append(out, tg)
	}
	return out
}

// Name returns the entity name.
func (g *Gazetteer) Name() string {
	return g.name
}

// Threshold returns the configured acceptance threshold.
func (g *Gazetteer) Threshold() float64 {
	return g.threshold
}

// Len returns the number of canonical entries.
func (g *Gazetteer) Len() int {
	return len(g.entries)
}

// Entries returns a copy of the indexed entries.
func (g *Gazetteer) Entries() []Entry {
	out := make([]Entry, len(g.entries))
	for i, e := range g.entries {
		out[i] = Entry{Value: e.Value, Synonyms: append([]string(nil), e.Synonyms...)}
	}
	return out
}

// Contains reports whether the normalized ngram is exactly a value or synonym.
func (g *Gazetteer) Contains(ngram string) bool {
	_, ok := g.exact[ngram]
	return ok
}

// MaxWords returns the token length of the longest indexed variant.
func (g *Gazetteer) MaxWords() int {
	return g.maxWords
}

// lookup returns the best variant for query whose score reaches threshold.
// Ties are broken by canonical value then by index order.
//
// Every length bucket the similarity allows is searched. For edit-bounded
// similarities a bucket is narrowed to the variants sharing a trigram with
// query whenever the q-gram lemma guarantees that any variant of that length
// within the allowed distance keeps at least one of the query's trigrams.
func (g *Gazetteer) lookup(query string, threshold float64) (int, float64, bool) {
	if idx, ok := g.exact[query]; ok {
		return idx, 1, true
	}
	queryRunes := utf8.RuneCountInString(query)
	bounded, _ := g.similarity.(EditBounded)

	best, bestScore := -1, 0.0
	consider := func(idx int) {
		score := g.similarity.Score(query, g.variants[idx].text)
		if score < threshold {
			return
		}
		if best < 0 || score > bestScore || (score == bestScore && g.less(idx, best)) {
			best, bestScore = idx, score
		}
	}

	var shared map[int]struct{}
	for _, n := range g.lengths {
		if !g.similarity.LengthBound(queryRunes, n, threshold) {
			continue
		}
		bucket := g.byLength[n]
		if bounded != nil && queryRunes-2-3*bounded.MaxDistance(queryRunes, n, threshold) > 0 {
			if shared == nil {
				shared = g.sharedTrigrams(query)
			}
			for _, idx := range bucket {
				if _, ok := shared[idx]; ok {
					consider(idx)
				}
			}
			continue
		}
		for _, idx := range bucket {
			consider(idx)
		}
	}
	return best, bestScore, best >= 0
}

// sharedTrigrams returns the variants having at least one trigram of query.
func (g *Gazetteer) sharedTrigrams(query string) map[int]struct{} {
	out := make(map[int]struct{})
	for _, tg := range trigrams(query) {
		for _, idx := range g.trigrams[tg] {
			out[idx] = struct{}{}
		}
	}
	return out
}

// less orders variants by canonical value, then by insertion order.
func (g *Gazetteer) less(a, b int) bool {
	va, vb := g.entries[g.variants[a].entry].Value, g.entries[g.variants[b].entry].Value
	if va != vb {
		return va < vb
	}
	return a < b
}

// Match finds the non-overlapping occurrences of gazetteer values in tokens.
func (g *Gazetteer) Match(tokens []tokenizer.Token) []Match {
	return g.MatchWithThreshold(tokens, g.threshold)
}

// MatchWithThreshold is Match with an explicit acceptance threshold.
// Overlapping candidates are resolved by preferring the higher score, then
// the longer span, then the earliest start, then the smaller canonical value.
func (g *Gazetteer) MatchWithThreshold(tokens []tokenizer.Token, threshold float64) []Match {
	if len(tokens) == 0 || len(g.variants) == 0 {
		return nil
	}

	var candidates []Match
	for start := range tokens {
		if tokens[start].IsPunctuation() {
			continue
		}
		for end := start + 1; end <= len(tokens) && end-start <= g.maxWords; end++ {
			if tokens[end-1].IsPunctuation() {
				continue
			}
			idx, score, ok := g.lookup(joinNormalized(tokens[start:end]), threshold)
			if !ok {
				continue
			}
			candidates = append(candidates, g.newMatch(idx, score, tokens, start, end))
		}
	}
	return resolveOverlaps(candidates, len(tokens))
}

// MatchSpan returns the best value matching the whole token span.
func (g *Gazetteer) MatchSpan(tokens []tokenizer.Token) (Match, bool) {
	if len(tokens) == 0 {
		return Match{}, false
	}
	idx, score, ok := g.lookup(joinNormalized(tokens), g.threshold)
	if !ok {
		return Match{}, false
	}
	return g.newMatch(idx, score, tokens, 0, len(tokens)), true
}

// Resolve returns the canonical value for raw text.
func (g *Gazetteer) Resolve(raw string) (string, float64, bool) {
	query, err := tokenizer.NormalizeText(raw, g.lang)
	if err != nil || query == "" {
		return "", 0, false
	}
	idx, score, ok := g.lookup(query, g.threshold)
	if !ok {
		return "", 0, false
	}
	return g.entries[g.variants[idx].entry].Value, score, true
}

func (g *Gazetteer) newMatch(idx int, score float64, tokens []tokenizer.Token, start, end int) Match {
	v := g.variants[idx]
	return Match{
		Entity:     g.name,
		TokenStart: start,
		TokenEnd:   end,
		Range:      nlu.Range{Start: tokens[start].Start, End: tokens[end-1].End},
		Value:      g.entries[v.entry].Value,
		Variant:    v.text,
		Score:      score,
	}
}

func joinNormalized(tokens []tokenizer.Token) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Normalized)
	}
	return sb.String()
}

// resolveOverlaps greedily keeps the best candidates that do not share a token.
func resolveOverlaps(candidates []Match, numTokens int) []Match {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		la, lb := a.TokenEnd-a.TokenStart, b.TokenEnd-b.TokenStart
		if la != lb {
			return la > lb
		}
		if a.TokenStart != b.TokenStart {
			return a.TokenStart < b.TokenStart
		}
		return a.Value < b.Value
	})

	taken := make([]bool, numTokens)
	var out []Match
	for _, c := range candidates {
		free := true
		for i := c.TokenStart; i < c.TokenEnd; i++ {
			if taken[i] {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for i := c.TokenStart; i < c.TokenEnd; i++ {
			taken[i] = true
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TokenStart < out[j].TokenStart
	})
	return out
}
