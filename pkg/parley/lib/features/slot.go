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

package features

import (
	"fmt"
	"sort"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Slot feature template names.
const (
	TemplateNgram1       = "ngram_1"
	TemplateNgram2       = "ngram_2"
	TemplateShape        = "shape"
	TemplatePrefix       = "prefix"
	TemplateSuffix       = "suffix"
	TemplateLength       = "length"
	TemplateIsDigit      = "is_digit"
	TemplateIsFirst      = "is_first"
	TemplateIsLast       = "is_last"
	TemplateEntityMatch  = "entity_match"
	TemplateBuiltinMatch = "builtin_entity_match"
	TemplateGazetteerHit = "in_gazetteer"
	TemplateNgramMatch   = "ngram_match"
)

// BiasFeature is present on every token.
const BiasFeature = "bias"

const (
	defaultAffixSize = 3
	maxLengthBucket  = 8
)

// Template is a slot feature family evaluated at each offset of a window
// around the current token.
type Template struct {
	Name    string `json:"name"`
	Offsets []int  `json:"offsets"`
	// Size is the affix length for prefix and suffix templates
	Size int `json:"size,omitempty"`
	// Ngram is the normalized n-gram of ngram_match templates
	Ngram string `json:"ngram,omitempty"`
}

// DefaultTemplates is a ±2 window over the standard feature families.
func DefaultTemplates() []Template {
	return []Template{
		{Name: TemplateNgram1, Offsets: []int{-2, -1, 0, 1, 2}},
		{Name: TemplateNgram2, Offsets: []int{-2, -1, 0, 1}},
		{Name: TemplateShape, Offsets: []int{-1, 0, 1}},
		{Name: TemplatePrefix, Offsets: []int{0}, Size: 3},
		{Name: TemplateSuffix, Offsets: []int{0}, Size: 3},
		{Name: TemplateLength, Offsets: []int{0}},
		{Name: TemplateIsDigit, Offsets: []int{0}},
		{Name: TemplateIsFirst, Offsets: []int{0}},
		{Name: TemplateIsLast, Offsets: []int{0}},
		{Name: TemplateEntityMatch, Offsets: []int{-1, 0, 1}},
		{Name: TemplateBuiltinMatch, Offsets: []int{-1, 0, 1}},
	}
}

// ValidateTemplates rejects unknown template names.
func ValidateTemplates(templates []Template) error {
	for _, t := range templates {
		switch t.Name {
		case TemplateNgram1, TemplateNgram2, TemplateShape, TemplatePrefix, TemplateSuffix,
			TemplateLength, TemplateIsDigit, TemplateIsFirst, TemplateIsLast,
			TemplateEntityMatch, TemplateBuiltinMatch, TemplateGazetteerHit:
		case TemplateNgramMatch:
			if t.Ngram == "" {
				return fmt.Errorf("slot feature template %q needs an ngram", t.Name)
			}
		default:
			return fmt.Errorf("unknown slot feature template %q", t.Name)
		}
	}
	return nil
}

// SlotInput is everything slot features are computed from.
type SlotInput struct {
	Tokens  []tokenizer.Token
	Builtin []nlu.EntitySpan
	Custom  []nlu.EntitySpan
	// Gazetteers feeds the in_gazetteer template, keyed by entity name
	Gazetteers map[string]Container
}

// Sequence precomputes the per-token data needed to evaluate templates. It is
// not safe for concurrent use.
type Sequence struct {
	in          SlotInput
	customHits  []map[string]Position
	builtinHits []map[string]Position
	gazHits     map[string][]float64
	gazNames    []string
	ngramHits   map[string][]float64
}

// NewSequence prepares in for slot feature extraction.
func NewSequence(in SlotInput) *Sequence {
	s := &Sequence{
		in:          in,
		customHits:  EntityHits(in.Tokens, in.Custom),
		builtinHits: EntityHits(in.Tokens, in.Builtin),
		gazHits:     make(map[string][]float64, len(in.Gazetteers)),
		ngramHits:   make(map[string][]float64),
	}
	for name, c := range in.Gazetteers {
		s.gazHits[name] = GazetteerHits(in.Tokens, c)
		s.gazNames = append(s.gazNames, name)
	}
	sort.Strings(s.gazNames)
	return s
}

// Len returns the number of tokens.
func (s *Sequence) Len() int {
	return len(s.in.Tokens)
}

// SlotFeatures returns the windowed feature vector of the token at index.
func SlotFeatures(in SlotInput, index int, templates []Template) Vector {
	return NewSequence(in).At(index, templates)
}

// SlotFeatureSequence returns one feature vector per token.
func SlotFeatureSequence(in SlotInput, templates []Template) []Vector {
	seq := NewSequence(in)
	out := make([]Vector, seq.Len())
	for i := range out {
		out[i] = seq.At(i, templates)
	}
	return out
}

// At evaluates templates around the token at index.
func (s *Sequence) At(index int, templates []Template) Vector {
	vec := Vector{BiasFeature: 1}
	for _, tpl := range templates {
		for _, off := range tpl.Offsets {
			pos := index + off
			if pos < 0 || pos >= s.Len() {
				continue
			}
			s.eval(vec, tpl, off, pos)
		}
	}
	return vec
}

func (s *Sequence) eval(vec Vector, tpl Template, off, pos int) {
	tok := s.in.Tokens[pos]
	switch tpl.Name {
	case TemplateNgram1:
		vec.Set(valued(tpl.Name, off, tok.Normalized), 1)
	case TemplateNgram2:
		if pos+1 < s.Len() {
			vec.Set(valued(tpl.Name, off, tok.Normalized+" "+s.in.Tokens[pos+1].Normalized), 1)
		}
	case TemplateShape:
		vec.Set(valued(tpl.Name, off, Shape(tok.Value)), 1)
	case TemplatePrefix:
		size := affixSize(tpl)
		vec.Set(valued(tpl.Name+"_"+strconv.Itoa(size), off, prefix(tok.Normalized, size)), 1)
	case TemplateSuffix:
		size := affixSize(tpl)
		vec.Set(valued(tpl.Name+"_"+strconv.Itoa(size), off, suffix(tok.Normalized, size)), 1)
	case TemplateLength:
		length := min(utf8.RuneCountInString(tok.Value), maxLengthBucket)
		vec.Set(valued(tpl.Name, off, strconv.Itoa(length)), 1)
	case TemplateIsDigit:
		if isDigits(tok.Value) {
			vec.Set(flag(tpl.Name, off), 1)
		}
	case TemplateIsFirst:
		if pos == 0 {
			vec.Set(flag(tpl.Name, off), 1)
		}
	case TemplateIsLast:
		if pos == s.Len()-1 {
			vec.Set(flag(tpl.Name, off), 1)
		}
	case TemplateEntityMatch:
		for entity, p := range s.customHits[pos] {
			vec.Set(valued(tpl.Name+"_"+entity, off, string(p)), 1)
		}
	case TemplateBuiltinMatch:
		for entity, p := range s.builtinHits[pos] {
			vec.Set(valued(tpl.Name+"_"+entity, off, string(p)), 1)
		}
	case TemplateGazetteerHit:
		for _, name := range s.gazNames {
			if s.gazHits[name][pos] > 0 {
				vec.Set(flag(tpl.Name+"_"+name, off), 1)
			}
		}
	case TemplateNgramMatch:
		hits, ok := s.ngramHits[tpl.Ngram]
		if !ok {
			hits = NgramMatches(s.in.Tokens, tpl.Ngram)
			s.ngramHits[tpl.Ngram] = hits
		}
		if hits[pos] > 0 {
			vec.Set(flag(tpl.Name+"_"+tpl.Ngram, off), 1)
		}
	}
}

func valued(name string, off int, value string) string {
	return name + "[" + strconv.Itoa(off) + "]:" + value
}

func flag(name string, off int) string {
	return name + "[" + strconv.Itoa(off) + "]"
}

// SlotFeatureName formats a valued slot feature, e.g. "ngram_1[0]:kitchen".
func SlotFeatureName(template string, offset int, value string) string {
	return valued(template, offset, value)
}

func affixSize(tpl Template) int {
	if tpl.Size > 0 {
		return tpl.Size
	}
	return defaultAffixSize
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func suffix(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	return prefixSkip(s, count-n)
}

func prefixSkip(s string, skip int) string {
	i := 0
	for pos := range s {
		if i == skip {
			return s[pos:]
		}
		i++
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Shape classifies the surface form of a token.
func Shape(s string) string {
	var upper, lower, digit, other int
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		case unicode.IsDigit(r):
			digit++
		default:
			other++
		}
	}
	first, _ := utf8.DecodeRuneInString(s)
	switch {
	case s == "":
		return "empty"
	case digit > 0 && upper+lower+other == 0:
		return "digit"
	case upper+lower+digit == 0:
		return "punct"
	case upper > 0 && lower == 0 && digit == 0:
		return "upper"
	case lower > 0 && upper == 0 && digit == 0:
		return "lower"
	case upper == 1 && unicode.IsUpper(first) && digit == 0:
		return "title"
	default:
		return "mixed"
	}
}
