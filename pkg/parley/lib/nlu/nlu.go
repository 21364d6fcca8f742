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

// Package nlu holds the types shared by every stage of the parsing pipeline:
// entity kinds, slots, intent classifications and parse results.
package nlu

import (
	"errors"
	"fmt"

	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// NoIntent is the intent name of a result that matched no trained intent.
const NoIntent = ""

// NoneClass is the class name the classifier uses for the "no intent" outcome.
const NoneClass = "None"

var (
	// ErrMalformedInput is returned for invalid encodings and empty model references.
	ErrMalformedInput = tokenizer.ErrMalformedInput
	// ErrEmptyModel is returned when a nil or empty model is handed to the engine.
	ErrEmptyModel = fmt.Errorf("%w: empty model", tokenizer.ErrMalformedInput)
	// ErrUnknownIntent is returned when an intent is requested that the model does not carry.
	ErrUnknownIntent = errors.New("unknown intent")
	// ErrInternal signals an inconsistency inside a loaded model.
	ErrInternal = errors.New("internal error")
)

// KindType distinguishes custom entities from builtin ones.
type KindType string

const (
	KindCustom  KindType = "custom"
	KindBuiltin KindType = "builtin"
)

// EntityKind is the type of value a slot resolves to.
type EntityKind struct {
	Type KindType `json:"type"`
	Name string   `json:"name"`
}

// Custom returns the kind of a gazetteer-backed entity.
func Custom(name string) EntityKind {
	return EntityKind{Type: KindCustom, Name: name}
}

// Builtin returns the kind of a grammar-parsed entity such as "sys/date".
func Builtin(name string) EntityKind {
	return EntityKind{Type: KindBuiltin, Name: name}
}

// IsBuiltin reports whether the kind is resolved by the builtin entity parser.
func (k EntityKind) IsBuiltin() bool {
	return k.Type == KindBuiltin
}

func (k EntityKind) String() string {
	return string(k.Type) + ":" + k.Name
}

// Range is a half-open byte range into the utterance.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered.
func (r Range) Len() int {
	return r.End - r.Start
}

// Overlaps reports whether the two ranges share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Contains reports whether o lies within r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// EntitySpan is an entity found in an utterance, either by a gazetteer or by
// the builtin entity parser.
type EntitySpan struct {
	// Entity is the entity name, e.g. "room" or "sys/number"
	Entity string `json:"entity"`
	// RawValue is the covered text of the utterance
	RawValue string `json:"raw_value"`
	// Value is the canonical value
	Value string `json:"value"`
	Range Range  `json:"range"`
	// Score is the match confidence in [0, 1]
	Score float64 `json:"score"`
}

// Slot is a named, typed span of an utterance carrying an intent parameter.
type Slot struct {
	Name     string     `json:"slot_name"`
	Entity   string     `json:"entity"`
	Kind     EntityKind `json:"kind"`
	RawValue string     `json:"raw_value"`
	// Value is the canonical entity value; empty while unresolved
	Value string  `json:"value"`
	Range Range   `json:"range"`
	Score float64 `json:"score,omitempty"`
}

// Resolved reports whether the slot carries a canonical value.
func (s Slot) Resolved() bool {
	return s.Value != ""
}

// IntentClassification is the probability of a single intent. Slots are
// only filled for the candidates the engine slot-tagged.
type IntentClassification struct {
	Intent      string  `json:"intent"`
	Probability float64 `json:"probability"`
	Slots       []Slot  `json:"slots,omitempty"`
}

// Source identifies which matcher produced a parse result.
type Source string

const (
	SourceProbabilistic Source = "probabilistic"
	SourceDeterministic Source = "deterministic"
	SourceNone          Source = "none"
)

// ParseResult is the answer of the engine for one utterance.
type ParseResult struct {
	Input      string  `json:"input"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Slots      []Slot  `json:"slots"`
	// Alternatives holds the remaining intent classifications in descending order
	Alternatives []IntentClassification `json:"alternatives,omitempty"`
	Source       Source                 `json:"source"`
}

// Matched reports whether the result carries a trained intent.
func (r ParseResult) Matched() bool {
	return r.Intent != NoIntent
}

// NoMatch builds the explicit "no intent" result.
func NoMatch(input string, confidence float64) ParseResult {
	return ParseResult{
		Input:      input,
		Intent:     NoIntent,
		Confidence: confidence,
		Slots:      []Slot{},
		Source:     SourceNone,
	}
}

// Clone returns a deep copy so cached results are never shared mutably.
func (r ParseResult) Clone() ParseResult {
	out := r
	out.Slots = append([]Slot(nil), r.Slots...)
	if out.Slots == nil {
		out.Slots = []Slot{}
	}
	if r.Alternatives != nil {
		out.Alternatives = make([]IntentClassification, len(r.Alternatives))
		for i, alt := range r.Alternatives {
			alt.Slots = append([]Slot(nil), alt.Slots...)
			out.Alternatives[i] = alt
		}
	}
	return out
}
