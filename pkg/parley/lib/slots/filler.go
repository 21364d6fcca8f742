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

// Package slots fills the slots of an intent: CRF tagging of the tokens,
// merging of tags into spans and resolution of spans into entity values.
package slots

import (
	"context"
	"fmt"
	"sort"

	"github.com/antflydb/parley/pkg/parley/lib/crf"
	"github.com/antflydb/parley/pkg/parley/lib/features"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Input is a tokenized utterance with the entities found in it.
type Input struct {
	Text   string
	Tokens []tokenizer.Token
	// Builtin and Custom are the entity spans found in the whole utterance
	Builtin []nlu.EntitySpan
	Custom  []nlu.EntitySpan
}

// Filler tags and resolves the slots of one intent.
type Filler struct {
	Intent    string
	CRF       *crf.Model
	Scheme    TaggingScheme
	Templates []features.Template
	// SlotEntities maps slot names to entity names
	SlotEntities map[string]string
	Resolver     *Resolver

	entities map[string]struct{}
	gazNames []string
}

// Init validates the filler against its CRF labels. It must be called once
// before Fill.
func (f *Filler) Init() error {
	if f.CRF == nil {
		return fmt.Errorf("%w: intent %q has no slot model", nlu.ErrInternal, f.Intent)
	}
	if f.Resolver == nil {
		return fmt.Errorf("%w: intent %q has no slot resolver", nlu.ErrInternal, f.Intent)
	}
	if err := ValidateTags(f.Scheme, f.CRF.Labels); err != nil {
		return fmt.Errorf("intent %q: %w", f.Intent, err)
	}
	for _, label := range f.CRF.Labels {
		if name := SlotName(label); name != "" {
			if _, ok := f.SlotEntities[name]; !ok {
				return fmt.Errorf("%w: intent %q tags slot %q without entity", nlu.ErrInternal, f.Intent, name)
			}
		}
	}
	if err := features.ValidateTemplates(f.Templates); err != nil {
		return fmt.Errorf("intent %q: %w", f.Intent, err)
	}
	f.entities = make(map[string]struct{}, len(f.SlotEntities))
	for _, entity := range f.SlotEntities {
		f.entities[entity] = struct{}{}
	}
	for _, tpl := range f.Templates {
		if tpl.Name == features.TemplateGazetteerHit {
			for entity := range f.entities {
				f.gazNames = append(f.gazNames, entity)
			}
			sort.Strings(f.gazNames)
			break
		}
	}
	return nil
}

// Entities returns the entity names used by the slots of the intent.
func (f *Filler) Entities() []string {
	out := make([]string, 0, len(f.entities))
	for e := range f.entities {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (f *Filler) keep(spans []nlu.EntitySpan) []nlu.EntitySpan {
	out := make([]nlu.EntitySpan, 0, len(spans))
	for _, s := range spans {
		if _, ok := f.entities[s.Entity]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Fill decodes and resolves the slots of in. Spans that cannot be resolved
// are dropped.
func (f *Filler) Fill(ctx context.Context, in Input) ([]nlu.Slot, error) {
	if len(in.Tokens) == 0 {
		return []nlu.Slot{}, nil
	}

	slotInput := features.SlotInput{
		Tokens:  in.Tokens,
		Builtin: f.keep(in.Builtin),
		Custom:  f.keep(in.Custom),
	}
	if len(f.gazNames) > 0 {
		slotInput.Gazetteers = make(map[string]features.Container, len(f.gazNames))
		for _, name := range f.gazNames {
			if g, ok := f.Resolver.Entities.Gazetteer(name); ok {
				slotInput.Gazetteers[name] = g
			}
		}
	}
	seq := features.SlotFeatureSequence(slotInput, f.Templates)
	decoding := f.CRF.Decode(seq)

	ranges, err := TagsToRanges(in.Tokens, decoding.Tags, f.Scheme)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return []nlu.Slot{}, nil
	}

	out := make([]nlu.Slot, 0, len(ranges))
	for _, sr := range ranges {
		entity, ok := f.SlotEntities[sr.Name]
		if !ok {
			return nil, fmt.Errorf("%w: intent %q has no entity for slot %q", nlu.ErrInternal, f.Intent, sr.Name)
		}
		slot, ok, err := f.Resolver.Resolve(ctx, in.Text, in.Tokens, sr, entity)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		confidence, err := f.CRF.SpanProbability(seq, sr.TokenStart, decoding.Labels[sr.TokenStart:sr.TokenEnd])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", nlu.ErrInternal, err)
		}
		slot.Score *= confidence
		out = append(out, slot)
	}
	return out, nil
}
