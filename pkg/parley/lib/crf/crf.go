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

// Package crf decodes linear-chain conditional random fields.
package crf

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/antflydb/parley/pkg/parley/lib/features"
)

// ErrInvalidModel is returned when CRF weights are inconsistent.
var ErrInvalidModel = errors.New("invalid crf model")

// Model holds the weights of a trained linear-chain CRF.
type Model struct {
	Labels []string `json:"labels"`
	// Attributes maps feature names to attribute indexes
	Attributes map[string]int `json:"attributes"`
	// State maps an attribute index to per-label weights
	State map[int]map[int]float64 `json:"state"`
	// Transitions[i][j] scores moving from label i to label j
	Transitions [][]float64 `json:"transitions"`
	// Start and End score the first and last label; empty means zero
	Start []float64 `json:"start,omitempty"`
	End   []float64 `json:"end,omitempty"`

	labelIndex map[string]int
}

// Init validates the model dimensions. It must be called once before decoding.
func (m *Model) Init() error {
	k := len(m.Labels)
	if k == 0 {
		return fmt.Errorf("%w: no labels", ErrInvalidModel)
	}
	m.labelIndex = make(map[string]int, k)
	for i, l := range m.Labels {
		if _, dup := m.labelIndex[l]; dup {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidModel, l)
		}
		m.labelIndex[l] = i
	}
	if len(m.Transitions) != k {
		return fmt.Errorf("%w: %d transition rows for %d labels", ErrInvalidModel, len(m.Transitions), k)
	}
	for i, row := range m.Transitions {
		if len(row) != k {
			return fmt.Errorf("%w: transition row %d has %d entries for %d labels", ErrInvalidModel, i, len(row), k)
		}
	}
	if len(m.Start) == 0 {
		m.Start = make([]float64, k)
	}
	if len(m.End) == 0 {
		m.End = make([]float64, k)
	}
	if len(m.Start) != k || len(m.End) != k {
		return fmt.Errorf("%w: start/end weights do not match %d labels", ErrInvalidModel, k)
	}
	for attr, row := range m.State {
		for label := range row {
			if label < 0 || label >= k {
				return fmt.Errorf("%w: attribute %d weights unknown label %d", ErrInvalidModel, attr, label)
			}
		}
	}
	return nil
}

// LabelIndex returns the index of a label.
func (m *Model) LabelIndex(label string) (int, bool) {
	i, ok := m.labelIndex[label]
	return i, ok
}

// Decoding is the best label sequence for an input.
type Decoding struct {
	Labels []int    `json:"labels"`
	Tags   []string `json:"tags"`
	Score  float64  `json:"score"`
}

type attribute struct {
	name  string
	index int
	value float64
}

// emissions returns the per-position label scores. Attributes are summed in
// index order so scores are bit-identical across runs.
func (m *Model) emissions(seq []features.Vector) [][]float64 {
	k := len(m.Labels)
	out := make([][]float64, len(seq))
	attrs := make([]attribute, 0, 64)
	for t, vec := range seq {
		attrs = attrs[:0]
		for name, value := range vec {
			if idx, ok := m.Attributes[name]; ok && value != 0 {
				attrs = append(attrs, attribute{name: name, index: idx, value: value})
			}
		}
		sort.Slice(attrs, func(i, j int) bool {
			if attrs[i].index != attrs[j].index {
				return attrs[i].index < attrs[j].index
			}
			return attrs[i].name < attrs[j].name
		})
		row := make([]float64, k)
		for _, a := range attrs {
			for label, w := range m.State[a.index] {
				row[label] += a.value * w
			}
		}
		out[t] = row
	}
	return out
}

// Decode returns the maximum a posteriori label sequence. Ties are broken in
// favor of the lowest label index. The result has one label per input vector.
func (m *Model) Decode(seq []features.Vector) Decoding {
	n, k := len(seq), len(m.Labels)
	if n == 0 {
		return Decoding{Labels: []int{}, Tags: []string{}}
	}
	emit := m.emissions(seq)

	delta := make([][]float64, n)
	back := make([][]int, n)
	delta[0] = make([]float64, k)
	for y := range k {
		delta[0][y] = m.Start[y] + emit[0][y]
	}
	for t := 1; t < n; t++ {
		delta[t] = make([]float64, k)
		back[t] = make([]int, k)
		for y := range k {
			best, arg := math.Inf(-1), 0
			for prev := range k {
				if s := delta[t-1][prev] + m.Transitions[prev][y]; s > best {
					best, arg = s, prev
				}
			}
			delta[t][y] = best + emit[t][y]
			back[t][y] = arg
		}
	}

	best, last := math.Inf(-1), 0
	for y := range k {
		if s := delta[n-1][y] + m.End[y]; s > best {
			best, last = s, y
		}
	}

	labels := make([]int, n)
	labels[n-1] = last
	for t := n - 1; t > 0; t-- {
		labels[t-1] = back[t][labels[t]]
	}
	tags := make([]string, n)
	for t, y := range labels {
		tags[t] = m.Labels[y]
	}
	return Decoding{Labels: labels, Tags: tags, Score: best}
}

// Score returns the unnormalized score of a label sequence.
func (m *Model) Score(seq []features.Vector, labels []int) float64 {
	if len(seq) == 0 {
		return 0
	}
	return m.score(m.emissions(seq), labels)
}

func (m *Model) score(emit [][]float64, labels []int) float64 {
	s := m.Start[labels[0]] + m.End[labels[len(labels)-1]]
	for t, y := range labels {
		s += emit[t][y]
		if t > 0 {
			s += m.Transitions[labels[t-1]][y]
		}
	}
	return s
}

// LogPartition returns the log of the sum of exp(score) over all sequences.
func (m *Model) LogPartition(seq []features.Vector) float64 {
	if len(seq) == 0 {
		return 0
	}
	return m.logPartition(m.emissions(seq), nil)
}

// logPartition runs the forward algorithm. When allowed is not nil, only the
// labels it accepts are summed at each position.
func (m *Model) logPartition(emit [][]float64, allowed func(t, y int) bool) float64 {
	k := len(m.Labels)
	negInf := math.Inf(-1)
	alpha := make([]float64, k)
	for y := range k {
		alpha[y] = m.Start[y] + emit[0][y]
		if allowed != nil && !allowed(0, y) {
			alpha[y] = negInf
		}
	}
	next := make([]float64, k)
	terms := make([]float64, k)
	for t := 1; t < len(emit); t++ {
		for y := range k {
			if allowed != nil && !allowed(t, y) {
				next[y] = negInf
				continue
			}
			for prev := range k {
				terms[prev] = alpha[prev] + m.Transitions[prev][y]
			}
			next[y] = logSumExp(terms) + emit[t][y]
		}
		alpha, next = next, alpha
	}
	for y := range k {
		terms[y] = alpha[y] + m.End[y]
	}
	return logSumExp(terms)
}

// SpanProbability returns the marginal probability that the positions
// starting at start carry labels, whatever the other positions carry.
func (m *Model) SpanProbability(seq []features.Vector, start int, labels []int) (float64, error) {
	if start < 0 || start+len(labels) > len(seq) {
		return 0, fmt.Errorf("%w: span [%d, %d) outside %d positions", ErrInvalidModel, start, start+len(labels), len(seq))
	}
	if err := m.checkLabels(labels); err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 1, nil
	}
	emit := m.emissions(seq)
	constrained := m.logPartition(emit, func(t, y int) bool {
		return t < start || t >= start+len(labels) || labels[t-start] == y
	})
	return math.Exp(constrained - m.logPartition(emit, nil)), nil
}

func (m *Model) checkLabels(labels []int) error {
	for _, y := range labels {
		if y < 0 || y >= len(m.Labels) {
			return fmt.Errorf("%w: label index %d out of range", ErrInvalidModel, y)
		}
	}
	return nil
}

// SequenceProbability returns the conditional probability of labels given seq.
func (m *Model) SequenceProbability(seq []features.Vector, labels []int) (float64, error) {
	if len(labels) != len(seq) {
		return 0, fmt.Errorf("%w: %d labels for %d positions", ErrInvalidModel, len(labels), len(seq))
	}
	if len(seq) == 0 {
		return 1, nil
	}
	if err := m.checkLabels(labels); err != nil {
		return 0, err
	}
	emit := m.emissions(seq)
	return math.Exp(m.score(emit, labels) - m.logPartition(emit, nil)), nil
}

func logSumExp(xs []float64) float64 {
	maxX := math.Inf(-1)
	for _, x := range xs {
		maxX = math.Max(maxX, x)
	}
	if math.IsInf(maxX, -1) {
		return maxX
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxX)
	}
	return maxX + math.Log(sum)
}
