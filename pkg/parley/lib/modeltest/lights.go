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

// Package modeltest provides small hand-weighted models for tests.
package modeltest

import (
	"github.com/antflydb/parley/pkg/parley/lib/crf"
	"github.com/antflydb/parley/pkg/parley/lib/entities"
	"github.com/antflydb/parley/pkg/parley/lib/features"
	"github.com/antflydb/parley/pkg/parley/lib/gazetteer"
	"github.com/antflydb/parley/pkg/parley/lib/intent"
	"github.com/antflydb/parley/pkg/parley/lib/model"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/patterns"
	"github.com/antflydb/parley/pkg/parley/lib/slots"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Intents of the lights model.
const (
	TurnOnLight   = "turnOnLight"
	TurnOffLight  = "turnOffLight"
	SetBrightness = "setBrightness"
)

// Room is the custom entity of the lights model.
const Room = "room"

// Lights returns a fresh, unvalidated English model with three intents:
//
//	turnOnLight    "turn on the lights in the kitchen"
//	turnOffLight   "turn the lights off"
//	setBrightness  "set the kitchen brightness to 50%"
//
// and the room entity {kitchen, living room, bedroom (synonym: master
// bedroom)}. turnOffLight also has the pattern "switch the [room] lights off".
func Lights() *model.Model {
	vocab := map[string]int{
		features.NgramFeature("light"):               0,
		features.NgramFeature("on"):                  1,
		features.NgramFeature("turn"):                2,
		features.NgramFeature("off"):                 3,
		features.EntityFeature(Room):                 4,
		features.NgramFeature("brightness"):          5,
		features.BuiltinFeature(entities.Percentage): 6,
	}
	return &model.Model{
		Version:  model.FormatVersion + ".0",
		Language: tokenizer.LanguageEN,
		Classifier: &intent.Classifier{
			Classes: []string{TurnOnLight, TurnOffLight, SetBrightness, nlu.NoneClass},
			Weights: []map[int]float64{
				{0: 3, 1: 1.5, 2: 1.5, 4: 1},
				{0: 1.5, 2: 1.5, 3: 3, 4: 1},
				{5: 3, 6: 2},
				{},
			},
			Intercepts: []float64{0, 0, 0, 1},
			Vectorizer: features.Vectorizer{Vocabulary: vocab},
			Features:   features.DefaultIntentConfig(),
		},
		Intents: map[string]*model.IntentModel{
			TurnOnLight:  roomIntent(),
			TurnOffLight: roomIntent(),
			SetBrightness: {
				Slots:     map[string]string{"room": Room, "level": entities.Percentage},
				CRF:       brightnessCRF(),
				Scheme:    slots.BIO,
				Templates: templates(),
			},
		},
		Entities: map[string]*model.CustomEntity{
			Room: {
				Values: []gazetteer.Entry{
					{Value: "kitchen"},
					{Value: "living room"},
					{Value: "bedroom", Synonyms: []string{"master bedroom"}},
				},
			},
		},
		Builtins: []string{entities.Percentage},
		Patterns: &patterns.File{
			Language: "en",
			Intents: map[string][]string{
				TurnOffLight: {"switch the [room] lights off"},
			},
		},
	}
}

func templates() []features.Template {
	return []features.Template{
		{Name: features.TemplateEntityMatch, Offsets: []int{0}},
		{Name: features.TemplateBuiltinMatch, Offsets: []int{0}},
	}
}

func roomIntent() *model.IntentModel {
	return &model.IntentModel{
		Slots:     map[string]string{"room": Room},
		CRF:       roomCRF(),
		Scheme:    slots.BIO,
		Templates: templates(),
	}
}

// roomCRF tags tokens matched by the room gazetteer.
func roomCRF() *crf.Model {
	return &crf.Model{
		Labels: []string{"O", "B-room", "I-room"},
		Attributes: map[string]int{
			features.SlotFeatureName(features.TemplateEntityMatch+"_"+Room, 0, "B"): 0,
			features.SlotFeatureName(features.TemplateEntityMatch+"_"+Room, 0, "I"): 1,
			features.BiasFeature:                                                    2,
		},
		State: map[int]map[int]float64{
			0: {1: 5},
			1: {2: 5},
			2: {0: 1},
		},
		Transitions: [][]float64{
			{0, 0, -10},
			{0, 0, 0},
			{0, 0, 0},
		},
		Start: []float64{0, 0, -10},
	}
}

// brightnessCRF tags rooms and percentages.
func brightnessCRF() *crf.Model {
	const forbidden = -10
	level := features.TemplateBuiltinMatch + "_" + entities.Percentage
	return &crf.Model{
		Labels: []string{"O", "B-room", "I-room", "B-level", "I-level"},
		Attributes: map[string]int{
			features.SlotFeatureName(features.TemplateEntityMatch+"_"+Room, 0, "B"): 0,
			features.SlotFeatureName(features.TemplateEntityMatch+"_"+Room, 0, "I"): 1,
			features.SlotFeatureName(level, 0, "B"):                                 2,
			features.SlotFeatureName(level, 0, "I"):                                 3,
			features.BiasFeature:                                                    4,
		},
		State: map[int]map[int]float64{
			0: {1: 5},
			1: {2: 5},
			2: {3: 5},
			3: {4: 5},
			4: {0: 1},
		},
		// I-x may only follow B-x or I-x
		Transitions: [][]float64{
			{0, 0, forbidden, 0, forbidden},
			{0, 0, 0, 0, forbidden},
			{0, 0, 0, 0, forbidden},
			{0, 0, forbidden, 0, 0},
			{0, 0, forbidden, 0, 0},
		},
		Start: []float64{0, 0, forbidden, 0, forbidden},
	}
}
