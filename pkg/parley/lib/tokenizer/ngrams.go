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

package tokenizer

import "strings"

// Ngram is a space-joined sequence of consecutive words together with the
// indexes of the tokens it spans.
type Ngram struct {
	Text    string
	Indexes []int
}

// Ngrams returns every n-gram of words for 1 <= n <= maxN, ordered by start
// index then by length.
func Ngrams(words []string, maxN int) []Ngram {
	if maxN <= 0 {
		return nil
	}
	out := make([]Ngram, 0, len(words)*maxN)
	for start := range words {
		for n := 1; n <= maxN && start+n <= len(words); n++ {
			idx := make([]int, n)
			for k := range idx {
				idx[k] = start + k
			}
			out = append(out, Ngram{
				Text:    strings.Join(words[start:start+n], " "),
				Indexes: idx,
			})
		}
	}
	return out
}
