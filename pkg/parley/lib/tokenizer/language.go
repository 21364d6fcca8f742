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
	"fmt"
	"strings"
)

// Language is the language tag attached to an utterance and to a trained model.
type Language string

const (
	LanguageEN   Language = "en"
	LanguageDE   Language = "de"
	LanguageES   Language = "es"
	LanguageFR   Language = "fr"
	LanguageIT   Language = "it"
	LanguageJA   Language = "ja"
	LanguageKO   Language = "ko"
	LanguagePTBR Language = "pt_br"
	LanguagePTPT Language = "pt_pt"
)

// SupportedLanguages lists every language tag the tokenizer accepts.
var SupportedLanguages = []Language{
	LanguageEN, LanguageDE, LanguageES, LanguageFR, LanguageIT,
	LanguageJA, LanguageKO, LanguagePTBR, LanguagePTPT,
}

// ParseLanguage parses a language tag. Tags are case-insensitive and accept
// "-" as well as "_" as the region separator.
func ParseLanguage(s string) (Language, error) {
	tag := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, l := range SupportedLanguages {
		if string(l) == tag {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported language %q", ErrMalformedInput, s)
}

// String returns the language tag.
func (l Language) String() string {
	return string(l)
}
