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

// Package tokenizer splits utterances into tokens that keep their byte ranges
// in the original text, and attaches a normalized form and a stem to each one.
package tokenizer

import (
	"errors"
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"
)

// ErrMalformedInput is returned for input that is not valid UTF-8 or carries
// an unsupported language tag.
var ErrMalformedInput = errors.New("malformed input")

// Token is a word or punctuation mark of an utterance.
type Token struct {
	// Value is the token text exactly as it appears in the utterance
	Value string `json:"value"`
	// Normalized is Value after Unicode compatibility normalization and case folding
	Normalized string `json:"normalized"`
	// Stem is the language-specific stem of Normalized
	Stem string `json:"stem"`
	// Start is the byte offset where the token begins
	Start int `json:"start"`
	// End is the byte offset where the token ends (exclusive)
	End int `json:"end"`
	// CharStart is the rune offset where the token begins
	CharStart int `json:"char_start"`
	// CharEnd is the rune offset where the token ends (exclusive)
	CharEnd int `json:"char_end"`
}

// IsPunctuation reports whether the token holds a single non-word rune.
func (t Token) IsPunctuation() bool {
	r, _ := utf8.DecodeRuneInString(t.Value)
	return !isWordRune(r)
}

// Tokenizer splits text into tokens. Implementations must be deterministic
// and safe for concurrent use.
type Tokenizer interface {
	Tokenize(text string) ([]Token, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[Language]Tokenizer{}
)

// Register installs a tokenizer for a language, replacing the default word
// tokenizer. It is meant to be called from init functions.
func Register(lang Language, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[lang] = t
}

// For returns the tokenizer used for lang.
func For(lang Language) Tokenizer {
	registryMu.RLock()
	t, ok := registry[lang]
	registryMu.RUnlock()
	if ok {
		return t
	}
	return &WordTokenizer{Stemmer: StemmerFor(lang)}
}

// Tokenize splits text with the tokenizer registered for lang.
// Empty input yields an empty sequence.
func Tokenize(text string, lang Language) ([]Token, error) {
	return For(lang).Tokenize(text)
}

// WordTokenizer produces one token per maximal run of letters, digits and
// combining marks (apostrophes are kept inside words) and one token per other
// non-space rune. Whitespace only separates tokens.
type WordTokenizer struct {
	Stemmer Stemmer
}

// Tokenize implements Tokenizer.
func (w *WordTokenizer) Tokenize(text string) ([]Token, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: utterance is not valid UTF-8", ErrMalformedInput)
	}
	if text == "" {
		return []Token{}, nil
	}

	stemmer := w.Stemmer
	if stemmer == nil {
		stemmer = identityStemmer{}
	}

	tokens := make([]Token, 0, len(text)/4+1)
	emit := func(start, end, charStart, charEnd int) {
		value := text[start:end]
		normalized := Normalize(value)
		tokens = append(tokens, Token{
			Value:      value,
			Normalized: normalized,
			Stem:       stemmer.Stem(normalized),
			Start:      start,
			End:        end,
			CharStart:  charStart,
			CharEnd:    charEnd,
		})
	}

	wordStart, wordCharStart := -1, 0
	charIdx := 0
	for i, r := range text {
		switch {
		case isWordRune(r):
			if wordStart < 0 {
				wordStart, wordCharStart = i, charIdx
			}
		case isApostrophe(r) && wordStart >= 0 && nextIsWordRune(text, i+utf8.RuneLen(r)):
			// inner apostrophe, the word continues
		default:
			if wordStart >= 0 {
				emit(wordStart, i, wordCharStart, charIdx)
				wordStart = -1
			}
			if !unicode.IsSpace(r) {
				emit(i, i+utf8.RuneLen(r), charIdx, charIdx+1)
			}
		}
		charIdx++
	}
	if wordStart >= 0 {
		emit(wordStart, len(text), wordCharStart, charIdx)
	}
	return tokens, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

func nextIsWordRune(text string, offset int) bool {
	if offset >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[offset:])
	return isWordRune(r)
}

// Values returns the raw values of tokens.
func Values(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Value
	}
	return out
}

// Normalized returns the normalized values of tokens.
func Normalized(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Normalized
	}
	return out
}
