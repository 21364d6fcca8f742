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

// Package features turns tokenized utterances into sparse feature vectors for
// the intent classifier and the slot tagger.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidVectorizer is returned by Vectorizer.Validate.
var ErrInvalidVectorizer = errors.New("invalid vectorizer")

// Vector maps feature names to values. Absent features are zero.
type Vector map[string]float64

// Add increments the value of a feature.
func (v Vector) Add(name string, value float64) {
	v[name] += value
}

// Set assigns the value of a feature.
func (v Vector) Set(name string, value float64) {
	v[name] = value
}

// Names returns the feature names in lexical order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Feature is a single entry of a SparseVector.
type Feature struct {
	Index int
	Value float64
}

// SparseVector holds features sorted by ascending index.
type SparseVector []Feature

// Dot returns the inner product with a sparse weight map. Features are summed
// in index order so the result does not depend on map iteration.
func (s SparseVector) Dot(weights map[int]float64) float64 {
	var sum float64
	for _, f := range s {
		sum += f.Value * weights[f.Index]
	}
	return sum
}

// Indexes returns the indexes of the vector.
func (s SparseVector) Indexes() []int {
	out := make([]int, len(s))
	for i, f := range s {
		out[i] = f.Index
	}
	return out
}

// Vectorizer maps feature names to the indexes baked into a trained model.
// Names missing from the vocabulary are dropped.
type Vectorizer struct {
	Vocabulary map[string]int `json:"vocabulary"`
	// IDF holds one inverse document frequency per index; empty disables tf-idf
	IDF []float64 `json:"idf,omitempty"`
	// SublinearTF replaces a term frequency tf by 1 + ln(tf)
	SublinearTF bool `json:"sublinear_tf,omitempty"`
	// Normalize scales the output to unit L2 norm
	Normalize bool `json:"normalize,omitempty"`
}

// Size returns one more than the largest vocabulary index.
func (v *Vectorizer) Size() int {
	size := 0
	for _, idx := range v.Vocabulary {
		size = max(size, idx+1)
	}
	return size
}

// Validate checks that indexes are non-negative and covered by IDF.
func (v *Vectorizer) Validate() error {
	for name, idx := range v.Vocabulary {
		if idx < 0 {
			return fmt.Errorf("%w: feature %q has negative index %d", ErrInvalidVectorizer, name, idx)
		}
	}
	if len(v.IDF) > 0 && len(v.IDF) < v.Size() {
		return fmt.Errorf("%w: %d idf weights for %d features", ErrInvalidVectorizer, len(v.IDF), v.Size())
	}
	return nil
}

// Transform converts a named vector into the model's index space.
func (v *Vectorizer) Transform(vec Vector) SparseVector {
	type named struct {
		name  string
		index int
		value float64
	}
	known := make([]named, 0, len(vec))
	for name, value := range vec {
		idx, ok := v.Vocabulary[name]
		if !ok || value == 0 {
			continue
		}
		known = append(known, named{name: name, index: idx, value: value})
	}
	sort.Slice(known, func(i, j int) bool {
		if known[i].index != known[j].index {
			return known[i].index < known[j].index
		}
		return known[i].name < known[j].name
	})

	out := make(SparseVector, 0, len(known))
	for _, k := range known {
		value := k.value
		if v.SublinearTF && value > 0 {
			value = 1 + math.Log(value)
		}
		if k.index < len(v.IDF) {
			value *= v.IDF[k.index]
		}
		if n := len(out); n > 0 && out[n-1].Index == k.index {
			out[n-1].Value += value
			continue
		}
		out = append(out, Feature{Index: k.index, Value: value})
	}

	if v.Normalize {
		var norm float64
		for _, f := range out {
			norm += f.Value * f.Value
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for i := range out {
				out[i].Value /= norm
			}
		}
	}
	return out
}
