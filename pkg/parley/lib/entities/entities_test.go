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

package entities

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// 2026-10-19 is a Monday.
var monday = time.Date(2026, time.October, 19, 15, 4, 5, 0, time.UTC)

func newParser() *RuleParser {
	return NewRuleParser(WithClock(func() time.Time { return monday }))
}

type found struct {
	kind, raw, value string
}

func parse(t *testing.T, p Parser, text string, lang tokenizer.Language, kinds ...string) []found {
	t.Helper()
	spans, err := p.Parse(context.Background(), text, lang, kinds)
	require.NoError(t, err)
	var out []found
	for _, s := range spans {
		assert.Equal(t, s.RawValue, text[s.Range.Start:s.Range.End])
		out = append(out, found{kind: s.Entity, raw: s.RawValue, value: s.Value})
	}
	return out
}

func TestRuleParser_English(t *testing.T) {
	p := newParser()

	tests := []struct {
		text string
		want []found
	}{
		{"set a timer for 5 minutes", []found{{Duration, "5 minutes", "PT5M"}}},
		{"an hour and 30 minutes", []found{{Duration, "an hour and 30 minutes", "PT1H30M"}}},
		{"wait 1.5 hours", []found{{Duration, "1.5 hours", "PT1.5H"}}},
		{"set it to 21.5 degrees celsius", []found{{Temperature, "21.5 degrees celsius", "21.5°C"}}},
		{"it is 70°F outside", []found{{Temperature, "70°F", "70°F"}}},
		{"minus 5 degrees", []found{{Temperature, "minus 5 degrees", "-5°"}}},
		{"dim to 50%", []found{{Percentage, "50%", "50%"}}},
		{"fifty percent please", []found{{Percentage, "fifty percent", "50%"}}},
		{"twenty-one apples", []found{{Number, "twenty-one", "21"}}},
		{"two hundred and forty five", []found{{Number, "two hundred and forty five", "245"}}},
		{"1,000 people", []found{{Number, "1,000", "1000"}}},
		{"the 3rd track", []found{{Ordinal, "3rd", "3rd"}}},
		{"the twenty first song", []found{{Ordinal, "twenty first", "21st"}}},
		{"tomorrow", []found{{Date, "tomorrow", "2026-10-20"}}},
		{"yesterday", []found{{Date, "yesterday", "2026-10-18"}}},
		{"next friday", []found{{Date, "next friday", "2026-10-23"}}},
		{"on monday", []found{{Date, "monday", "2026-10-19"}}},
		{"next monday", []found{{Date, "next monday", "2026-10-26"}}},
		{"october 20th", []found{{Date, "october 20th", "2026-10-20"}}},
		{"the 20th of october 2027", []found{{Date, "20th of october 2027", "2027-10-20"}}},
		{"january 5", []found{{Date, "january 5", "2027-01-05"}}},
		{"on 2026-12-24 at noon", []found{{Date, "2026-12-24", "2026-12-24"}}},
		{"one and two", []found{{Number, "one", "1"}, {Number, "two", "2"}}},
		{"turn on the lights", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, parse(t, p, tt.text, tokenizer.LanguageEN))
		})
	}
}

func TestRuleParser_KindsFilter(t *testing.T) {
	p := newParser()
	assert.Equal(t, []found{{Number, "5", "5"}},
		parse(t, p, "set a timer for 5 minutes", tokenizer.LanguageEN, Number))
	assert.Nil(t, parse(t, p, "2026-02-30", tokenizer.LanguageEN, Date))
}

func TestRuleParser_OtherLanguages(t *testing.T) {
	p := newParser()
	assert.Equal(t, []found{{Number, "5", "5"}},
		parse(t, p, "dans 5 minutes", tokenizer.LanguageFR))
	assert.Equal(t, []found{{Temperature, "20°C", "20°C"}},
		parse(t, p, "mets 20°C", tokenizer.LanguageFR))
	assert.Equal(t, []found{{Date, "2026-11-01", "2026-11-01"}},
		parse(t, p, "am 2026-11-01", tokenizer.LanguageDE))
	assert.Nil(t, parse(t, p, "morgen", tokenizer.LanguageDE))
}

func TestRuleParser_CanonicalRoundTrip(t *testing.T) {
	p := newParser()
	inputs := map[string][]string{
		Date:        {"tomorrow", "next friday", "october 20th", "20 december 2030", "2026-1-5"},
		Duration:    {"5 minutes", "an hour and 30 minutes", "2 days", "1.5 hours", "a week and 2 days", "3 months"},
		Number:      {"twenty-one", "21.5", "1,000", "zero"},
		Ordinal:     {"third", "11th", "twenty second"},
		Percentage:  {"fifty percent", "12.5%"},
		Temperature: {"minus 5 degrees celsius", "70 degrees fahrenheit", "20 °"},
	}
	for kind, texts := range inputs {
		for _, text := range texts {
			first := parse(t, p, text, tokenizer.LanguageEN, kind)
			require.Len(t, first, 1, "%s %q", kind, text)

			canonical := first[0].value
			again := parse(t, p, canonical, tokenizer.LanguageEN, kind)
			require.Len(t, again, 1, "%s canonical %q", kind, canonical)
			assert.Equal(t, canonical, again[0].raw, "canonical text must be fully covered")
			assert.Equal(t, canonical, again[0].value, "%s %q", kind, text)
		}
	}
}

func TestRuleParser_Errors(t *testing.T) {
	p := newParser()

	_, err := p.Parse(context.Background(), "x", tokenizer.LanguageEN, []string{"sys/color"})
	assert.Error(t, err)

	_, err = p.Parse(context.Background(), "bad \xff", tokenizer.LanguageEN, nil)
	assert.ErrorIs(t, err, tokenizer.ErrMalformedInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Parse(ctx, "5 minutes", tokenizer.LanguageEN, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatOrdinal(t *testing.T) {
	cases := map[int]string{1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th", 13: "13th", 21: "21st", 112: "112th", 123: "123rd"}
	for n, want := range cases {
		assert.Equal(t, want, formatOrdinal(n))
	}
}

func TestKinds(t *testing.T) {
	assert.True(t, IsBuiltin(Date))
	assert.False(t, IsBuiltin("room"))
	require.NoError(t, ValidateKinds(Kinds))
}

type countingParser struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingParser) Parse(ctx context.Context, text string, lang tokenizer.Language, kinds []string) ([]nlu.EntitySpan, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	if c.err != nil {
		return nil, c.err
	}
	return []nlu.EntitySpan{{Entity: Number, RawValue: text, Value: text}}, nil
}

func TestCachedParser(t *testing.T) {
	inner := &countingParser{}
	c := NewCachedParser(inner, 16, time.Minute, zaptest.NewLogger(t))
	defer c.Close()
	ctx := context.Background()

	first, err := c.Parse(ctx, "42", tokenizer.LanguageEN, []string{Number, Ordinal})
	require.NoError(t, err)
	second, err := c.Parse(ctx, "42", tokenizer.LanguageEN, []string{Ordinal, Number})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load(), "kind order must not change the key")

	_, err = c.Parse(ctx, "42", tokenizer.LanguageFR, []string{Number})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestCachedParser_ErrorsAreNotCached(t *testing.T) {
	inner := &countingParser{err: errors.New("boom")}
	c := NewCachedParser(inner, 16, time.Minute, zaptest.NewLogger(t))
	defer c.Close()

	_, err := c.Parse(context.Background(), "42", tokenizer.LanguageEN, nil)
	require.Error(t, err)
	inner.err = nil
	spans, err := c.Parse(context.Background(), "42", tokenizer.LanguageEN, nil)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedParser_Concurrent(t *testing.T) {
	inner := &countingParser{delay: 20 * time.Millisecond}
	c := NewCachedParser(inner, 16, time.Minute, zaptest.NewLogger(t))
	defer c.Close()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spans, err := c.Parse(context.Background(), "7", tokenizer.LanguageEN, nil)
			assert.NoError(t, err)
			assert.Len(t, spans, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inner.calls.Load())
}

type blockingParser struct {
	started  chan struct{}
	release  chan struct{}
	flightOK atomic.Bool
}

func (b *blockingParser) Parse(ctx context.Context, text string, lang tokenizer.Language, kinds []string) ([]nlu.EntitySpan, error) {
	close(b.started)
	<-b.release
	b.flightOK.Store(ctx.Err() == nil)
	return []nlu.EntitySpan{{Entity: Number, RawValue: text, Value: text}}, nil
}

func TestCachedParser_CancelledCallerDoesNotFailSharers(t *testing.T) {
	inner := &blockingParser{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedParser(inner, 16, time.Minute, zaptest.NewLogger(t))
	defer c.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Parse(ctxA, "7", tokenizer.LanguageEN, nil)
		errA <- err
	}()
	<-inner.started

	type outcome struct {
		spans []nlu.EntitySpan
		err   error
	}
	outB := make(chan outcome, 1)
	go func() {
		spans, err := c.Parse(context.Background(), "7", tokenizer.LanguageEN, nil)
		outB <- outcome{spans, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.Fail(t, "cancelled caller kept waiting for the shared parse")
	}

	close(inner.release)
	b := <-outB
	require.NoError(t, b.err)
	assert.Len(t, b.spans, 1)
	assert.True(t, inner.flightOK.Load())
}

func TestCachedParser_Metrics(t *testing.T) {
	var hits, misses atomic.Int32
	c := NewCachedParser(&countingParser{}, 16, time.Minute, zaptest.NewLogger(t),
		WithCacheMetrics(func() { hits.Add(1) }, func() { misses.Add(1) }))
	defer c.Close()

	for range 3 {
		_, err := c.Parse(context.Background(), "42", tokenizer.LanguageEN, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), misses.Load())
	assert.Equal(t, int32(2), hits.Load())
}
