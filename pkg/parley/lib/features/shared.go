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
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Container answers exact membership of a normalized n-gram.
type Container interface {
	Contains(ngram string) bool
	MaxWords() int
}

// GazetteerHits returns, per token, 1 when the token belongs to a normalized
// n-gram contained in c and 0 otherwise.
func GazetteerHits(tokens []tokenizer.Token, c Container) []float64 {
	out := make([]float64, len(tokens))
	for _, ngram := range tokenizer.Ngrams(tokenizer.Normalized(tokens), c.MaxWords()) {
		if !c.Contains(ngram.Text) {
			continue
		}
		for _, idx := range ngram.Indexes {
			out[idx] = 1
		}
	}
	return out
}

// NgramMatches returns, per token, 1 when the token belongs to an occurrence
// of the normalized n-gram and 0 otherwise.
func NgramMatches(tokens []tokenizer.Token, ngram string) []float64 {
	out := make([]float64, len(tokens))
	width := 1
	for _, r := range ngram {
		if r == ' ' {
			width++
		}
	}
	for _, candidate := range tokenizer.Ngrams(tokenizer.Normalized(tokens), width) {
		if candidate.Text != ngram {
			continue
		}
		for _, idx := range candidate.Indexes {
			out[idx] = 1
		}
	}
	return out
}

// Position is the place of a token inside an entity span.
type Position string

const (
	PositionBegin  Position = "B"
	PositionInside Position = "I"
)

// EntityHits maps each token to the entities overlapping it together with the
// token's position inside the span. When spans of the same entity overlap,
// the first one wins.
func EntityHits(tokens []tokenizer.Token, spans []nlu.EntitySpan) []map[string]Position {
	out := make([]map[string]Position, len(tokens))
	for _, span := range spans {
		first := true
		for i, t := range tokens {
			if !span.Range.Overlaps(nlu.Range{Start: t.Start, End: t.End}) {
				continue
			}
			if out[i] == nil {
				out[i] = make(map[string]Position, 1)
			}
			if _, taken := out[i][span.Entity]; !taken {
				if first {
					out[i][span.Entity] = PositionBegin
				} else {
					out[i][span.Entity] = PositionInside
				}
			}
			first = false
		}
	}
	return out
}
