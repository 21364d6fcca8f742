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

package gazetteer

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity scores two normalized strings in [0, 1], 1 meaning identical.
type Similarity interface {
	Score(a, b string) float64
	// LengthBound reports whether two strings of the given rune lengths can
	// still reach threshold. It lets the index skip hopeless candidates.
	LengthBound(la, lb int, threshold float64) bool
}

// EditBounded is implemented by similarities derived from an edit distance.
type EditBounded interface {
	// MaxDistance returns the largest edit distance two strings of the given
	// rune lengths may be apart and still reach threshold.
	MaxDistance(la, lb int, threshold float64) int
}

// LevenshteinRatio is 1 - distance/max(len(a), len(b)) over runes.
type LevenshteinRatio struct{}

func (LevenshteinRatio) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// LengthBound uses the fact that the edit distance is at least the length difference.
func (LevenshteinRatio) LengthBound(la, lb int, threshold float64) bool {
	longest := max(la, lb)
	if longest == 0 {
		return true
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1-float64(diff)/float64(longest) >= threshold
}

// MaxDistance rounds up by a hair so float error never narrows the bound.
func (LevenshteinRatio) MaxDistance(la, lb int, threshold float64) int {
	return int(math.Floor((1-threshold)*float64(max(la, lb)) + 1e-9))
}

// TokenJaccard is the Jaccard index of the space-separated word sets.
type TokenJaccard struct{}

func (TokenJaccard) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(wa)+len(wb))
	for _, w := range wa {
		set[w] |= 1
	}
	for _, w := range wb {
		set[w] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func (TokenJaccard) LengthBound(int, int, float64) bool {
	return true
}

// SimilarityByName returns the similarity registered under name.
func SimilarityByName(name string) (Similarity, bool) {
	switch strings.ToLower(name) {
	case "", "levenshtein", "levenshtein_ratio":
		return LevenshteinRatio{}, true
	case "jaccard", "token_jaccard":
		return TokenJaccard{}, true
	default:
		return nil, false
	}
}
