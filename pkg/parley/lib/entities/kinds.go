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

// Package entities extracts builtin entities (numbers, ordinals, percentages,
// temperatures, durations and dates) from text and renders them in a
// canonical form that parses back to itself.
package entities

import (
	"context"
	"fmt"
	"slices"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Builtin entity names.
const (
	Number      = "sys/number"
	Ordinal     = "sys/ordinal"
	Percentage  = "sys/percentage"
	Temperature = "sys/temperature"
	Duration    = "sys/duration"
	Date        = "sys/date"
)

// Kinds lists every builtin entity, in the order used to break ties between
// spans of equal length.
var Kinds = []string{Date, Duration, Temperature, Percentage, Ordinal, Number}

// IsBuiltin reports whether name is a builtin entity.
func IsBuiltin(name string) bool {
	return slices.Contains(Kinds, name)
}

// ValidateKinds rejects unknown builtin entity names.
func ValidateKinds(kinds []string) error {
	for _, k := range kinds {
		if !IsBuiltin(k) {
			return fmt.Errorf("unknown builtin entity %q", k)
		}
	}
	return nil
}

// Parser extracts builtin entities. An empty kinds list requests every kind.
type Parser interface {
	Parse(ctx context.Context, text string, lang tokenizer.Language, kinds []string) ([]nlu.EntitySpan, error)
}

func priority(kind string) int {
	return slices.Index(Kinds, kind)
}
