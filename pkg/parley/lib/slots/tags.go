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

package slots

import (
	"fmt"
	"strings"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Tag prefixes.
const (
	BeginPrefix  = "B-"
	InsidePrefix = "I-"
	LastPrefix   = "L-"
	UnitPrefix   = "U-"
	// Outside is the tag of tokens that belong to no slot
	Outside = "O"
)

// TaggingScheme is the way slot labels encode span boundaries.
type TaggingScheme int

const (
	// IO only marks tokens inside a slot
	IO TaggingScheme = iota
	// BIO marks the first token of every slot
	BIO
	// BILOU marks first, last and single-token slots
	BILOU
)

// ParseTaggingScheme parses "io", "bio" or "bilou".
func ParseTaggingScheme(s string) (TaggingScheme, error) {
	switch strings.ToLower(s) {
	case "io":
		return IO, nil
	case "", "bio":
		return BIO, nil
	case "bilou":
		return BILOU, nil
	default:
		return 0, fmt.Errorf("unknown tagging scheme %q", s)
	}
}

func (s TaggingScheme) String() string {
	switch s {
	case IO:
		return "io"
	case BIO:
		return "bio"
	case BILOU:
		return "bilou"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TaggingScheme) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TaggingScheme) UnmarshalText(text []byte) error {
	parsed, err := ParseTaggingScheme(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsOutside checks if a tag is the outside tag (O).
func IsOutside(tag string) bool {
	return tag == Outside || tag == ""
}

// IsBegin checks if a tag is a beginning tag (B-).
func IsBegin(tag string) bool {
	return strings.HasPrefix(tag, BeginPrefix)
}

// IsInside checks if a tag is an inside tag (I-).
func IsInside(tag string) bool {
	return strings.HasPrefix(tag, InsidePrefix)
}

// IsLast checks if a tag is a last tag (L-).
func IsLast(tag string) bool {
	return strings.HasPrefix(tag, LastPrefix)
}

// IsUnit checks if a tag is a single-token tag (U-).
func IsUnit(tag string) bool {
	return strings.HasPrefix(tag, UnitPrefix)
}

// SlotName extracts the slot name from a tag.
// Returns empty string for O tags.
func SlotName(tag string) string {
	if IsOutside(tag) {
		return ""
	}
	if len(tag) >= 2 && tag[1] == '-' {
		return tag[2:]
	}
	return tag
}

// Tags returns the label set of scheme for the given slot names, outside first.
func Tags(scheme TaggingScheme, slotNames []string) []string {
	out := []string{Outside}
	for _, name := range slotNames {
		switch scheme {
		case IO:
			out = append(out, InsidePrefix+name)
		case BIO:
			out = append(out, BeginPrefix+name, InsidePrefix+name)
		case BILOU:
			out = append(out, BeginPrefix+name, InsidePrefix+name, LastPrefix+name, UnitPrefix+name)
		}
	}
	return out
}

// PositiveTagging returns the tags of a slot spanning n tokens.
func PositiveTagging(scheme TaggingScheme, slotName string, n int) []string {
	if n <= 0 {
		return nil
	}
	tags := make([]string, n)
	for i := range tags {
		tags[i] = InsidePrefix + slotName
	}
	switch scheme {
	case BIO:
		tags[0] = BeginPrefix + slotName
	case BILOU:
		if n == 1 {
			tags[0] = UnitPrefix + slotName
		} else {
			tags[0] = BeginPrefix + slotName
			tags[n-1] = LastPrefix + slotName
		}
	}
	return tags
}

// ValidateTags checks that every tag is well formed for scheme.
func ValidateTags(scheme TaggingScheme, tags []string) error {
	for _, tag := range tags {
		if IsOutside(tag) {
			continue
		}
		ok := IsInside(tag)
		switch scheme {
		case BIO:
			ok = ok || IsBegin(tag)
		case BILOU:
			ok = ok || IsBegin(tag) || IsLast(tag) || IsUnit(tag)
		}
		if !ok || SlotName(tag) == "" {
			return fmt.Errorf("tag %q is not valid for the %s scheme", tag, scheme)
		}
	}
	return nil
}

// SlotRange is a tagged span of tokens.
type SlotRange struct {
	Name string `json:"slot_name"`
	// TokenStart and TokenEnd delimit the tokens, end exclusive
	TokenStart int       `json:"token_start"`
	TokenEnd   int       `json:"token_end"`
	Range      nlu.Range `json:"range"`
}

// TagsToRanges merges consecutive tags of the same slot into spans. A change
// of slot name always closes the current span.
func TagsToRanges(tokens []tokenizer.Token, tags []string, scheme TaggingScheme) ([]SlotRange, error) {
	if len(tokens) != len(tags) {
		return nil, fmt.Errorf("%w: %d tags for %d tokens", nlu.ErrInternal, len(tags), len(tokens))
	}
	var (
		out   []SlotRange
		start = -1
	)
	for i, tag := range tags {
		if isStart(scheme, tags, i) {
			start = i
		}
		if start >= 0 && isEnd(scheme, tags, i) {
			out = append(out, SlotRange{
				Name:       SlotName(tag),
				TokenStart: start,
				TokenEnd:   i + 1,
				Range:      nlu.Range{Start: tokens[start].Start, End: tokens[i].End},
			})
			start = -1
		}
	}
	return out, nil
}

func sameSlot(a, b string) bool {
	return !IsOutside(a) && !IsOutside(b) && SlotName(a) == SlotName(b)
}

func isStart(scheme TaggingScheme, tags []string, i int) bool {
	tag := tags[i]
	if IsOutside(tag) {
		return false
	}
	if i == 0 || !sameSlot(tags[i-1], tag) {
		return true
	}
	prev := tags[i-1]
	switch scheme {
	case BIO:
		return IsBegin(tag)
	case BILOU:
		return IsBegin(tag) || IsUnit(tag) || IsUnit(prev) || IsLast(prev)
	default:
		return false
	}
}

func isEnd(scheme TaggingScheme, tags []string, i int) bool {
	tag := tags[i]
	if IsOutside(tag) {
		return false
	}
	if i+1 == len(tags) || !sameSlot(tag, tags[i+1]) {
		return true
	}
	next := tags[i+1]
	switch scheme {
	case BIO:
		return !IsInside(next)
	case BILOU:
		return IsLast(tag) || IsUnit(tag) || IsBegin(next) || IsUnit(next)
	default:
		return false
	}
}
