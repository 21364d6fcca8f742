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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

func tokenize(t *testing.T, text string) []tokenizer.Token {
	t.Helper()
	tokens, err := tokenizer.Tokenize(text, tokenizer.LanguageEN)
	require.NoError(t, err)
	return tokens
}

func span(text, entity, raw, value string) nlu.EntitySpan {
	start := indexOf(text, raw)
	return nlu.EntitySpan{
		Entity:   entity,
		RawValue: raw,
		Value:    value,
		Range:    nlu.Range{Start: start, End: start + len(raw)},
		Score:    1,
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestIntentFeatures(t *testing.T) {
	text := "Turn on the lights, in the kitchen"
	tokens := tokenize(t, text)
	custom := []nlu.EntitySpan{span(text, "room", "kitchen", "kitchen")}

	vec := IntentFeatures(tokens, nil, custom, DefaultIntentConfig())

	assert.Equal(t, 1.0, vec["ngram:turn"])
	assert.Equal(t, 1.0, vec["ngram:light"])
	assert.Equal(t, 2.0, vec["ngram:the"])
	assert.Equal(t, 1.0, vec["ngram:turn on"])
	// punctuation is skipped when building n-grams
	assert.Equal(t, 1.0, vec["ngram:light in"])
	assert.NotContains(t, vec, "ngram:,")
	assert.Equal(t, 1.0, vec["entity:room"])
}

func TestIntentFeatures_Builtin(t *testing.T) {
	text := "set a timer for 5 minutes"
	tokens := tokenize(t, text)
	builtin := []nlu.EntitySpan{span(text, "sys/duration", "5 minutes", "PT5M")}

	vec := IntentFeatures(tokens, builtin, nil, IntentConfig{NgramLength: 1})
	assert.Equal(t, 1.0, vec["builtin:sys/duration"])
	assert.Equal(t, 1.0, vec["ngram:minutes"])
	assert.NotContains(t, vec, "ngram:for 5")
}

func TestIntentFeatures_Empty(t *testing.T) {
	vec := IntentFeatures(nil, nil, nil, DefaultIntentConfig())
	assert.Empty(t, vec)
}

func TestVectorizer_Transform(t *testing.T) {
	v := &Vectorizer{
		Vocabulary: map[string]int{"ngram:light": 2, "ngram:on": 0, "entity:room": 1},
	}
	sparse := v.Transform(Vector{"ngram:light": 1, "ngram:on": 2, "ngram:unknown": 5})
	assert.Equal(t, SparseVector{{Index: 0, Value: 2}, {Index: 2, Value: 1}}, sparse)
	assert.Equal(t, 3, v.Size())
	require.NoError(t, v.Validate())

	assert.InDelta(t, 2*0.5+1*3, sparse.Dot(map[int]float64{0: 0.5, 2: 3}), 1e-12)
}

func TestVectorizer_TfIdfNormalized(t *testing.T) {
	v := &Vectorizer{
		Vocabulary:  map[string]int{"a": 0, "b": 1},
		IDF:         []float64{2, 1},
		SublinearTF: true,
		Normalize:   true,
	}
	sparse := v.Transform(Vector{"a": 1, "b": math.E})
	require.Len(t, sparse, 2)
	// a: 1 * 2 = 2, b: (1 + 1) * 1 = 2, then unit norm
	assert.InDelta(t, 1/math.Sqrt2, sparse[0].Value, 1e-12)
	assert.InDelta(t, 1/math.Sqrt2, sparse[1].Value, 1e-12)
}

func TestVectorizer_Validate(t *testing.T) {
	v := &Vectorizer{Vocabulary: map[string]int{"a": 0, "b": 3}, IDF: []float64{1, 1}}
	assert.ErrorIs(t, v.Validate(), ErrInvalidVectorizer)

	v = &Vectorizer{Vocabulary: map[string]int{"a": -1}}
	assert.ErrorIs(t, v.Validate(), ErrInvalidVectorizer)
}

func TestVectorizer_Deterministic(t *testing.T) {
	vocab := map[string]int{}
	vec := Vector{}
	for i := range 200 {
		name := "f" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		vocab[name] = i
		vec[name] = float64(i%7) + 0.1
	}
	v := &Vectorizer{Vocabulary: vocab, Normalize: true}
	first := v.Transform(vec)
	for range 10 {
		assert.Equal(t, first, v.Transform(vec))
	}
}

func TestSlotFeatures(t *testing.T) {
	text := "lights in the kitchen"
	tokens := tokenize(t, text)
	in := SlotInput{
		Tokens: tokens,
		Custom: []nlu.EntitySpan{span(text, "room", "kitchen", "kitchen")},
	}

	vec := SlotFeatures(in, 3, DefaultTemplates())
	assert.Equal(t, 1.0, vec[BiasFeature])
	assert.Equal(t, 1.0, vec["ngram_1[0]:kitchen"])
	assert.Equal(t, 1.0, vec["ngram_1[-1]:the"])
	assert.Equal(t, 1.0, vec["ngram_1[-2]:in"])
	assert.NotContains(t, vec, "ngram_1[1]:")
	assert.Equal(t, 1.0, vec["ngram_2[-1]:the kitchen"])
	assert.Equal(t, 1.0, vec["shape[0]:lower"])
	assert.Equal(t, 1.0, vec["prefix_3[0]:kit"])
	assert.Equal(t, 1.0, vec["suffix_3[0]:hen"])
	assert.Equal(t, 1.0, vec["length[0]:7"])
	assert.Equal(t, 1.0, vec["is_last[0]"])
	assert.NotContains(t, vec, "is_first[0]")
	assert.Equal(t, 1.0, vec["entity_match_room[0]:B"])

	first := SlotFeatures(in, 0, DefaultTemplates())
	assert.Equal(t, 1.0, first["is_first[0]"])
	assert.NotContains(t, first, "entity_match_room[0]:B")
}

func TestSlotFeatureSequence(t *testing.T) {
	text := "play 42 songs from the living room"
	tokens := tokenize(t, text)
	in := SlotInput{
		Tokens:  tokens,
		Custom:  []nlu.EntitySpan{span(text, "room", "living room", "living room")},
		Builtin: []nlu.EntitySpan{span(text, "sys/number", "42", "42")},
	}
	seq := SlotFeatureSequence(in, DefaultTemplates())
	require.Len(t, seq, len(tokens))

	assert.Equal(t, 1.0, seq[1]["is_digit[0]"])
	assert.Equal(t, 1.0, seq[1]["shape[0]:digit"])
	assert.Equal(t, 1.0, seq[1]["builtin_entity_match_sys/number[0]:B"])
	assert.Equal(t, 1.0, seq[2]["builtin_entity_match_sys/number[-1]:B"])
	assert.Equal(t, 1.0, seq[5]["entity_match_room[0]:B"])
	assert.Equal(t, 1.0, seq[6]["entity_match_room[0]:I"])
	assert.Equal(t, 1.0, seq[6]["entity_match_room[-1]:B"])
}

type setContainer map[string]bool

func (s setContainer) Contains(ngram string) bool { return s[ngram] }
func (s setContainer) MaxWords() int              { return 2 }

func TestGazetteerHits(t *testing.T) {
	tokens := tokenize(t, "the Living Room and the garage")
	hits := GazetteerHits(tokens, setContainer{"living room": true, "garage": true})
	assert.Equal(t, []float64{0, 1, 1, 0, 0, 1}, hits)

	in := SlotInput{Tokens: tokens, Gazetteers: map[string]Container{"room": setContainer{"garage": true}}}
	vec := SlotFeatures(in, 5, []Template{{Name: TemplateGazetteerHit, Offsets: []int{0}}})
	assert.Equal(t, 1.0, vec["in_gazetteer_room[0]"])
}

func TestNgramMatches(t *testing.T) {
	tokens := tokenize(t, "turn the light on the light")
	assert.Equal(t, []float64{0, 1, 1, 0, 1, 1}, NgramMatches(tokens, "the light"))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, NgramMatches(tokens, "lamp"))
}

func TestSlotFeatures_NgramMatch(t *testing.T) {
	in := SlotInput{Tokens: tokenize(t, "turn the light on the light")}
	templates := []Template{{Name: TemplateNgramMatch, Ngram: "the light", Offsets: []int{-1, 0}}}

	seq := SlotFeatureSequence(in, templates)
	require.Len(t, seq, 6)
	assert.Equal(t, 1.0, seq[3]["ngram_match_the light[-1]"])
	assert.NotContains(t, seq[3], "ngram_match_the light[0]")
	assert.Equal(t, 1.0, seq[2]["ngram_match_the light[0]"])
	assert.Equal(t, 1.0, seq[2]["ngram_match_the light[-1]"])
	assert.Equal(t, Vector{BiasFeature: 1}, seq[0])
}

func TestShape(t *testing.T) {
	cases := map[string]string{
		"kitchen": "lower",
		"Kitchen": "title",
		"NASA":    "upper",
		"42":      "digit",
		",":       "punct",
		"iPhone":  "mixed",
		"R2D2":    "mixed",
	}
	for in, want := range cases {
		assert.Equal(t, want, Shape(in), in)
	}
}

func TestValidateTemplates(t *testing.T) {
	require.NoError(t, ValidateTemplates(DefaultTemplates()))
	assert.Error(t, ValidateTemplates([]Template{{Name: "word_cluster"}}))
	assert.Error(t, ValidateTemplates([]Template{{Name: TemplateNgramMatch, Offsets: []int{0}}}))
	assert.NoError(t, ValidateTemplates([]Template{{Name: TemplateNgramMatch, Ngram: "turn on", Offsets: []int{0}}}))
}
