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

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies Unicode compatibility composition and full case folding.
// A cases.Caser is stateful, so one is built per call.
func Normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// NormalizeText normalizes every token of text and joins them with single
// spaces, which is the canonical form used for gazetteer and pattern lookups.
func NormalizeText(text string, lang Language) (string, error) {
	tokens, err := Tokenize(text, lang)
	if err != nil {
		return "", err
	}
	return strings.Join(Normalized(tokens), " "), nil
}

// Stemmer reduces a normalized word to its stem.
type Stemmer interface {
	Stem(word string) string
}

// StemmerFor returns the stemmer used by default for lang.
func StemmerFor(lang Language) Stemmer {
	switch lang {
	case LanguageEN:
		return englishStemmer{}
	default:
		return identityStemmer{}
	}
}

type identityStemmer struct{}

func (identityStemmer) Stem(word string) string { return word }

// englishStemmer strips the most frequent inflectional suffixes. It is
// intentionally light: stems only need to be consistent with the ones baked
// into the trained vocabularies.
type englishStemmer struct{}

func (englishStemmer) Stem(word string) string {
	n := len(word)
	switch {
	case n > 4 && strings.HasSuffix(word, "ies"):
		return word[:n-3] + "y"
	case n > 5 && strings.HasSuffix(word, "ing"):
		stem := word[:n-3]
		if m := len(stem); m > 2 && stem[m-1] == stem[m-2] && stem[m-1] != 'l' && stem[m-1] != 's' {
			stem = stem[:m-1]
		}
		return stem
	case n > 4 && strings.HasSuffix(word, "ed") && !strings.HasSuffix(word, "eed"):
		return word[:n-2]
	case n > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && !strings.HasSuffix(word, "us"):
		return word[:n-1]
	default:
		return word
	}
}
