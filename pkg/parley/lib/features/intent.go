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
	"strings"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// IntentConfig controls whole-utterance feature extraction.
type IntentConfig struct {
	// NgramLength is the longest word n-gram emitted
	NgramLength int `json:"ngram_length"`
	// UseStems emits n-grams over stems rather than normalized values
	UseStems bool `json:"use_stems"`
}

// DefaultIntentConfig emits unigrams and bigrams over stems.
func DefaultIntentConfig() IntentConfig {
	return IntentConfig{NgramLength: 2, UseStems: true}
}

// IntentFeatures builds the whole-utterance feature vector:
//
//	ngram:<w1 ... wn>  count of each word n-gram
//	entity:<name>      a custom entity matched somewhere
//	builtin:<name>     a builtin entity was found somewhere
func IntentFeatures(tokens []tokenizer.Token, builtin, custom []nlu.EntitySpan, cfg IntentConfig) Vector {
	vec := make(Vector)
	n := cfg.NgramLength
	if n <= 0 {
		n = 1
	}

	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.IsPunctuation() {
			continue
		}
		if cfg.UseStems {
			words = append(words, t.Stem)
		} else {
			words = append(words, t.Normalized)
		}
	}
	for _, ngram := range tokenizer.Ngrams(words, n) {
		vec.Add(NgramFeature(ngram.Text), 1)
	}

	for _, span := range custom {
		vec.Set(EntityFeature(span.Entity), 1)
	}
	for _, span := range builtin {
		vec.Set(BuiltinFeature(span.Entity), 1)
	}
	return vec
}

// NgramFeature returns the name of an n-gram intent feature.
func NgramFeature(words ...string) string {
	return "ngram:" + strings.Join(words, " ")
}

// EntityFeature returns the name of a custom entity presence feature.
func EntityFeature(entity string) string {
	return "entity:" + entity
}

// BuiltinFeature returns the name of a builtin entity presence feature.
func BuiltinFeature(entity string) string {
	return "builtin:" + entity
}
