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

// Package model holds the trained artifacts of an engine: the intent
// classifier, one slot filler per intent, the custom entity gazetteers and the
// deterministic patterns. A model is read-only once validated.
package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/antflydb/parley/pkg/parley/lib/crf"
	"github.com/antflydb/parley/pkg/parley/lib/entities"
	"github.com/antflydb/parley/pkg/parley/lib/features"
	"github.com/antflydb/parley/pkg/parley/lib/gazetteer"
	"github.com/antflydb/parley/pkg/parley/lib/intent"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/patterns"
	"github.com/antflydb/parley/pkg/parley/lib/slots"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// FormatVersion is the major model format version this engine reads.
const FormatVersion = "1"

var (
	// ErrInvalidModel is returned for models with inconsistent artifacts.
	ErrInvalidModel = errors.New("invalid model")
	// ErrWrongModelVersion is returned for models of another format version.
	ErrWrongModelVersion = errors.New("wrong model version")
)

// IntentModel holds the slot artifacts of one intent.
type IntentModel struct {
	// Slots maps slot names to entity names
	Slots map[string]string `json:"slots,omitempty"`
	// CRF is nil for intents without slots
	CRF       *crf.Model          `json:"crf,omitempty"`
	Scheme    slots.TaggingScheme `json:"tagging_scheme"`
	Templates []features.Template `json:"templates,omitempty"`
}

// CustomEntity is a user-defined entity backed by a gazetteer.
type CustomEntity struct {
	Values []gazetteer.Entry `json:"values"`
	// AutomaticallyExtensible entities accept values outside the gazetteer
	AutomaticallyExtensible bool `json:"automatically_extensible,omitempty"`
	// MatchingThreshold overrides the model-wide fuzzy threshold
	MatchingThreshold float64 `json:"matching_threshold,omitempty"`
	// Similarity names the fuzzy metric, see gazetteer.SimilarityByName
	Similarity string `json:"similarity,omitempty"`

	gazetteer *gazetteer.Gazetteer
}

// Model is a complete trained engine.
type Model struct {
	Version    string                   `json:"version"`
	Language   tokenizer.Language       `json:"language"`
	Classifier *intent.Classifier       `json:"classifier"`
	Intents    map[string]*IntentModel  `json:"intents,omitempty"`
	Entities   map[string]*CustomEntity `json:"entities,omitempty"`
	// Builtins lists the builtin entity kinds the model uses
	Builtins []string       `json:"builtins,omitempty"`
	Patterns *patterns.File `json:"patterns,omitempty"`
	// MatchingThreshold is the default fuzzy threshold of custom entities
	MatchingThreshold float64 `json:"matching_threshold,omitempty"`

	once sync.Once
	err  error
}

// Validate checks the model and builds its gazetteers. It runs once; the
// model must not be modified afterwards.
func (m *Model) Validate() error {
	m.once.Do(func() {
		m.err = m.validate()
	})
	return m.err
}

func (m *Model) validate() error {
	if err := checkVersion(m.Version); err != nil {
		return err
	}
	if m.Classifier == nil {
		return fmt.Errorf("%w: no intent classifier", nlu.ErrEmptyModel)
	}
	lang, err := tokenizer.ParseLanguage(string(m.Language))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	m.Language = lang
	if err := m.Classifier.Init(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if err := entities.ValidateKinds(m.Builtins); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	threshold := m.MatchingThreshold
	if threshold <= 0 {
		threshold = gazetteer.DefaultThreshold
	}
	for _, name := range sortedKeys(m.Entities) {
		if err := m.buildEntity(name, threshold); err != nil {
			return err
		}
	}

	known := m.Classifier.Intents()
	for _, name := range sortedKeys(m.Intents) {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: intent %q is not classified", ErrInvalidModel, name)
		}
		if err := m.validateIntent(name, m.Intents[name]); err != nil {
			return err
		}
	}
	return nil
}

func checkVersion(version string) error {
	major, _, _ := strings.Cut(version, ".")
	if major != FormatVersion {
		return fmt.Errorf("%w: %q, want %s.x", ErrWrongModelVersion, version, FormatVersion)
	}
	return nil
}

func (m *Model) buildEntity(name string, threshold float64) error {
	e := m.Entities[name]
	if e == nil {
		return fmt.Errorf("%w: entity %q is empty", ErrInvalidModel, name)
	}
	if entities.IsBuiltin(name) {
		return fmt.Errorf("%w: custom entity %q uses the builtin namespace", ErrInvalidModel, name)
	}
	opts := []gazetteer.Option{gazetteer.WithLanguage(m.Language)}
	if e.MatchingThreshold > 0 {
		threshold = e.MatchingThreshold
	}
	opts = append(opts, gazetteer.WithThreshold(threshold))
	if e.Similarity != "" {
		sim, ok := gazetteer.SimilarityByName(e.Similarity)
		if !ok {
			return fmt.Errorf("%w: entity %q: unknown similarity %q", ErrInvalidModel, name, e.Similarity)
		}
		opts = append(opts, gazetteer.WithSimilarity(sim))
	}
	g, err := gazetteer.New(name, e.Values, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	e.gazetteer = g
	return nil
}

func (m *Model) validateIntent(name string, im *IntentModel) error {
	if im == nil {
		return fmt.Errorf("%w: intent %q is empty", ErrInvalidModel, name)
	}
	for _, slot := range sortedKeys(im.Slots) {
		if _, ok := m.Kind(im.Slots[slot]); !ok {
			return fmt.Errorf("%w: intent %q slot %q uses unknown entity %q", ErrInvalidModel, name, slot, im.Slots[slot])
		}
	}
	if im.CRF == nil {
		return nil
	}
	if err := im.CRF.Init(); err != nil {
		return fmt.Errorf("%w: intent %q: %w", ErrInvalidModel, name, err)
	}
	if len(im.Templates) == 0 {
		im.Templates = features.DefaultTemplates()
	}
	return nil
}

// Kind resolves an entity name. Builtin kinds must be declared by the model.
func (m *Model) Kind(entity string) (nlu.EntityKind, bool) {
	if _, ok := m.Entities[entity]; ok {
		return nlu.Custom(entity), true
	}
	if slices.Contains(m.Builtins, entity) {
		return nlu.Builtin(entity), true
	}
	return nlu.EntityKind{}, false
}

// Gazetteer returns the gazetteer of a custom entity.
func (m *Model) Gazetteer(entity string) (*gazetteer.Gazetteer, bool) {
	e, ok := m.Entities[entity]
	if !ok || e.gazetteer == nil {
		return nil, false
	}
	return e.gazetteer, true
}

// Extensible reports whether a custom entity keeps unknown values.
func (m *Model) Extensible(entity string) bool {
	e, ok := m.Entities[entity]
	return ok && e.AutomaticallyExtensible
}

// SlotEntity returns the entity of a slot of an intent.
func (m *Model) SlotEntity(intentName, slot string) (string, bool) {
	im, ok := m.Intents[intentName]
	if !ok {
		return "", false
	}
	entity, ok := im.Slots[slot]
	return entity, ok
}

// IntentNames returns the classified intents, the none class excluded.
func (m *Model) IntentNames() []string {
	return m.Classifier.Intents()
}

// CustomEntities returns the custom entity names in sorted order.
func (m *Model) CustomEntities() []string {
	return sortedKeys(m.Entities)
}

// Gazetteers returns the gazetteers of every custom entity, sorted by name.
func (m *Model) Gazetteers() []*gazetteer.Gazetteer {
	out := make([]*gazetteer.Gazetteer, 0, len(m.Entities))
	for _, name := range sortedKeys(m.Entities) {
		if g, ok := m.Gazetteer(name); ok {
			out = append(out, g)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
