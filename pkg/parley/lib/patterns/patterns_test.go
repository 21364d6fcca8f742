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

package patterns

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antflydb/parley/pkg/parley/lib/entities"
	"github.com/antflydb/parley/pkg/parley/lib/gazetteer"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/resolution"
	"github.com/antflydb/parley/pkg/parley/lib/slots"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

const lightsYAML = `
language: en
intents:
  turnOffLight:
    - "switch the [room] lights off"
    - "[room] lights off!"
  setTimer:
    - "set a timer for [length:sys/duration]"
`

type roomEntities struct {
	rooms *gazetteer.Gazetteer
}

func (e *roomEntities) Kind(entity string) (nlu.EntityKind, bool) {
	switch {
	case entity == "room":
		return nlu.Custom(entity), true
	case entities.IsBuiltin(entity):
		return nlu.Builtin(entity), true
	}
	return nlu.EntityKind{}, false
}

func (e *roomEntities) Gazetteer(entity string) (*gazetteer.Gazetteer, bool) {
	if entity == "room" {
		return e.rooms, true
	}
	return nil, false
}

func (e *roomEntities) Extensible(string) bool { return false }

func slotEntities(intent, slot string) (string, bool) {
	if slot == "room" {
		return "room", true
	}
	return "", false
}

func newMatcher(t *testing.T, yamlDoc string) *Matcher {
	t.Helper()
	rooms, err := gazetteer.New("room", []gazetteer.Entry{
		{Value: "kitchen"},
		{Value: "living room", Synonyms: []string{"lounge"}},
	})
	require.NoError(t, err)
	resolver := &slots.Resolver{
		Entities: &roomEntities{rooms: rooms},
		Builtin:  entities.NewRuleParser(),
		Language: tokenizer.LanguageEN,
		Logger:   zaptest.NewLogger(t),
	}
	f, err := Parse([]byte(yamlDoc))
	require.NoError(t, err)
	m, err := New(f, tokenizer.LanguageEN, slotEntities, resolver, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func query(t *testing.T, text string) resolution.Query {
	t.Helper()
	tokens, err := tokenizer.Tokenize(text, tokenizer.LanguageEN)
	require.NoError(t, err)
	return resolution.Query{Text: text, Language: tokenizer.LanguageEN, Tokens: tokens}
}

func TestMatch(t *testing.T) {
	m := newMatcher(t, lightsYAML)
	require.Equal(t, 3, m.Len())
	ctx := context.Background()

	tests := []struct {
		name   string
		text   string
		intent string
		slot   string
		raw    string
		value  string
	}{
		{"Exact", "switch the kitchen lights off", "turnOffLight", "room", "kitchen", "kitchen"},
		{"CaseAndPunctuation", "Switch the KITCHEN lights off?", "turnOffLight", "room", "KITCHEN", "kitchen"},
		{"Synonym", "lounge lights off", "turnOffLight", "room", "lounge", "living room"},
		{"MultiTokenSlot", "switch the living room lights off", "turnOffLight", "room", "living room", "living room"},
		{"Builtin", "set a timer for ten minutes", "setTimer", "length", "ten minutes", "PT10M"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := query(t, tt.text)
			got, err := m.Match(ctx, q)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, Confidence, got.Confidence)
			assert.Equal(t, nlu.SourceDeterministic, got.Source)
			require.Len(t, got.Slots, 1)
			slot := got.Slots[0]
			assert.Equal(t, tt.slot, slot.Name)
			assert.Equal(t, tt.raw, slot.RawValue)
			assert.Equal(t, tt.value, slot.Value)
			assert.Equal(t, tt.raw, tt.text[slot.Range.Start:slot.Range.End])
		})
	}
}

func TestMatch_NoMatch(t *testing.T) {
	m := newMatcher(t, lightsYAML)
	ctx := context.Background()
	for _, text := range []string{
		"switch the lights off",
		"switch the garage lights off",
		"please switch the kitchen lights off",
		"set a timer for tomorrow",
		"",
	} {
		got, err := m.Match(ctx, query(t, text))
		require.NoError(t, err)
		assert.Nil(t, got, text)
	}
}

func TestMatch_Scope(t *testing.T) {
	m := newMatcher(t, lightsYAML)
	ctx := context.Background()

	q := query(t, "kitchen lights off")
	q.Intents = []string{"setTimer"}
	got, err := m.Match(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got)

	q = query(t, "kitchen lights off")
	q.EntityScope = []string{"sys/duration"}
	got, err = m.Match(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, got)

	q = query(t, "kitchen lights off")
	q.Intents = []string{"turnOffLight"}
	got, err = m.Match(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "turnOffLight", got.Intent)
}

func TestMatch_ContextCanceled(t *testing.T) {
	m := newMatcher(t, lightsYAML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Match(ctx, query(t, "set a timer for ten minutes"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompile(t *testing.T) {
	p, err := Compile("greet", "Hello, [name:person]!", tokenizer.LanguageEN, nil)
	require.NoError(t, err)
	assert.Equal(t, []Placeholder{{Slot: "name", Entity: "person"}}, p.Slots)
	assert.Equal(t, `^hello (.+?)$`, p.re.String())

	_, err = Compile("x", "[a:room][b:room]", tokenizer.LanguageEN, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Compile("x", "[a:room] , [b:room]", tokenizer.LanguageEN, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Compile("x", "turn on [room", tokenizer.LanguageEN, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Compile("x", "turn on [room]", tokenizer.LanguageEN, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Compile("x", " ?! ", tokenizer.LanguageEN, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestNew_LanguageMismatch(t *testing.T) {
	resolver := &slots.Resolver{Entities: &roomEntities{}}
	_, err := New(&File{Language: "fr"}, tokenizer.LanguageEN, nil, resolver, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = New(&File{Language: "klingon"}, tokenizer.LanguageEN, nil, resolver, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)

	m, err := New(nil, tokenizer.LanguageEN, nil, resolver, nil)
	require.NoError(t, err)
	got, err := m.Match(context.Background(), resolution.Query{Text: "x"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(lightsYAML), 0o600))
	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "en", f.Language)
	assert.Equal(t, 3, f.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("intents: [unclosed"))
	require.Error(t, err)
}
