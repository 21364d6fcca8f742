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

// Package intent implements the log-linear intent classifier.
package intent

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/antflydb/parley/pkg/parley/lib/features"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
)

// ErrInvalidClassifier is returned when classifier weights are inconsistent.
var ErrInvalidClassifier = errors.New("invalid intent classifier")

// Classifier is a multinomial logistic regression over sparse features.
// Classes, Weights and Intercepts are parallel slices; the class named
// nlu.NoneClass stands for "no intent".
type Classifier struct {
	Classes    []string              `json:"classes"`
	Weights    []map[int]float64     `json:"weights"`
	Intercepts []float64             `json:"intercepts"`
	Vectorizer features.Vectorizer   `json:"vectorizer"`
	Features   features.IntentConfig `json:"features"`

	noneIndex int
}

// Init validates the classifier and adds a zero-weight None class when the
// trained model does not carry one. It must be called once before Classify.
func (c *Classifier) Init() error {
	if len(c.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidClassifier)
	}
	if len(c.Weights) != len(c.Classes) {
		return fmt.Errorf("%w: %d weight rows for %d classes", ErrInvalidClassifier, len(c.Weights), len(c.Classes))
	}
	if len(c.Intercepts) == 0 {
		c.Intercepts = make([]float64, len(c.Classes))
	}
	if len(c.Intercepts) != len(c.Classes) {
		return fmt.Errorf("%w: %d intercepts for %d classes", ErrInvalidClassifier, len(c.Intercepts), len(c.Classes))
	}
	seen := make(map[string]struct{}, len(c.Classes))
	for _, name := range c.Classes {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate class %q", ErrInvalidClassifier, name)
		}
		seen[name] = struct{}{}
	}
	if err := c.Vectorizer.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidClassifier, err)
	}

	c.noneIndex = slices.IndexFunc(c.Classes, func(name string) bool {
		return name == nlu.NoneClass || name == nlu.NoIntent
	})
	if c.noneIndex < 0 {
		c.Classes = append(c.Classes, nlu.NoneClass)
		c.Weights = append(c.Weights, map[int]float64{})
		c.Intercepts = append(c.Intercepts, 0)
		c.noneIndex = len(c.Classes) - 1
	}
	if c.Features.NgramLength == 0 {
		c.Features = features.DefaultIntentConfig()
	}
	return nil
}

// Intents returns the trained intent names, without the None class.
func (c *Classifier) Intents() []string {
	out := make([]string, 0, len(c.Classes))
	for i, name := range c.Classes {
		if i != c.noneIndex {
			out = append(out, name)
		}
	}
	return out
}

// Classify returns one classification per class, None included, sorted by
// descending probability. Ties keep class order.
func (c *Classifier) Classify(vec features.Vector) []nlu.IntentClassification {
	sparse := c.Vectorizer.Transform(vec)
	scores := make([]float64, len(c.Classes))
	for i := range c.Classes {
		scores[i] = c.Intercepts[i] + sparse.Dot(c.Weights[i])
	}
	probs := Softmax(scores)

	out := make([]nlu.IntentClassification, len(c.Classes))
	for i, name := range c.Classes {
		if i == c.noneIndex {
			name = nlu.NoIntent
		}
		out[i] = nlu.IntentClassification{Intent: name, Probability: probs[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}

// Softmax is the numerically stable normalized exponential of scores.
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Filter keeps the whitelisted intents and the None class, renormalized to
// sum to one. An empty whitelist returns classes unchanged.
func Filter(classes []nlu.IntentClassification, whitelist []string) []nlu.IntentClassification {
	if len(whitelist) == 0 {
		return classes
	}
	allowed := make(map[string]struct{}, len(whitelist)+1)
	for _, name := range whitelist {
		allowed[name] = struct{}{}
	}
	allowed[nlu.NoIntent] = struct{}{}

	out := make([]nlu.IntentClassification, 0, len(whitelist)+1)
	var total float64
	for _, cls := range classes {
		if _, ok := allowed[cls.Intent]; ok {
			out = append(out, cls)
			total += cls.Probability
		}
	}
	if total <= 0 {
		for i := range out {
			out[i].Probability = 0
			if out[i].Intent == nlu.NoIntent {
				out[i].Probability = 1
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Probability > out[j].Probability
		})
		return out
	}
	for i := range out {
		out[i].Probability /= total
	}
	return out
}

// Probability returns the probability of intent in classes, 0 when absent.
func Probability(classes []nlu.IntentClassification, intent string) float64 {
	for _, cls := range classes {
		if cls.Intent == intent {
			return cls.Probability
		}
	}
	return 0
}
