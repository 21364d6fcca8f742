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

// Package parley parses short utterances into an intent and its slots using
// in-memory statistical models.
package parley

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley/lib/entities"
	"github.com/antflydb/parley/pkg/parley/lib/features"
	"github.com/antflydb/parley/pkg/parley/lib/intent"
	"github.com/antflydb/parley/pkg/parley/lib/model"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/patterns"
	"github.com/antflydb/parley/pkg/parley/lib/resolution"
	"github.com/antflydb/parley/pkg/parley/lib/slots"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// ParseOptions scopes a parse.
type ParseOptions struct {
	// Language of the utterance; empty means the model language
	Language tokenizer.Language `json:"language,omitempty"`
	// EntityScope restricts the entities slots may carry; empty means all
	EntityScope []string `json:"entity_scope,omitempty"`
	// Intents restricts the candidate intents; empty means all
	Intents []string `json:"intents,omitempty"`
}

// EngineOption configures NewEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	builtin slots.BuiltinParser
	now     func() time.Time
}

// WithBuiltinParser replaces the rule-based builtin entity parser.
func WithBuiltinParser(p slots.BuiltinParser) EngineOption {
	return func(o *engineOptions) {
		o.builtin = p
	}
}

// WithClock sets the clock relative dates are resolved against.
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}

// Engine answers parse requests against one model. It is safe for
// concurrent use; the model is never modified after construction.
type Engine struct {
	model  *model.Model
	cfg    EngineConfig
	logger *zap.Logger

	builtin       slots.BuiltinParser
	builtinCache  *entities.CachedParser
	resolver      *slots.Resolver
	fillers       map[string]*slots.Filler
	deterministic *patterns.Matcher
	ranker        *resolution.Ranker
	cache         *ParseCache
}

// NewEngine validates m and builds an engine around it.
func NewEngine(m *model.Model, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if m == nil {
		return nil, ErrEmptyModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		model:   m,
		cfg:     cfg,
		logger:  logger,
		fillers: make(map[string]*slots.Filler, len(m.Intents)),
	}

	e.builtin = o.builtin
	if e.builtin == nil {
		var parserOpts []entities.Option
		if o.now != nil {
			parserOpts = append(parserOpts, entities.WithClock(o.now))
		}
		parser := entities.NewRuleParser(parserOpts...)
		if cfg.BuiltinCache.Disabled {
			e.builtin = parser
		} else {
			e.builtinCache = entities.NewCachedParser(parser, cfg.BuiltinCache.Capacity, cfg.BuiltinCache.TTL, logger.Named("builtin-cache"),
				entities.WithCacheMetrics(
					func() { RecordCacheHit("builtin") },
					func() { RecordCacheMiss("builtin") },
				))
			e.builtin = e.builtinCache
		}
	}

	e.resolver = &slots.Resolver{
		Entities: m,
		Builtin:  e.builtin,
		Language: m.Language,
		Logger:   logger.Named("resolver"),
	}
	for _, name := range m.IntentNames() {
		im, ok := m.Intents[name]
		if !ok || im.CRF == nil {
			continue
		}
		f := &slots.Filler{
			Intent:       name,
			CRF:          im.CRF,
			Scheme:       im.Scheme,
			Templates:    im.Templates,
			SlotEntities: im.Slots,
			Resolver:     e.resolver,
		}
		if err := f.Init(); err != nil {
			e.Close()
			return nil, err
		}
		e.fillers[name] = f
	}

	deterministic, err := patterns.New(m.Patterns, m.Language, m.SlotEntity, e.resolver, logger.Named("patterns"))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidModel, err)
	}
	e.deterministic = deterministic
	e.ranker = resolution.NewRanker(*cfg.Threshold, e.resolver, logger.Named("ranker"))
	if !cfg.Cache.Disabled {
		e.cache = NewParseCache(cfg.Cache, logger.Named("parse-cache"))
	}

	logger.Info("Engine ready",
		zap.String("language", m.Language.String()),
		zap.Strings("intents", m.IntentNames()),
		zap.Int("slot_fillers", len(e.fillers)),
		zap.Int("patterns", deterministic.Len()),
		zap.Bool("cache", e.cache != nil))
	return e, nil
}

// Model returns the model of the engine. It must not be modified.
func (e *Engine) Model() *model.Model {
	return e.model
}

// CacheStats returns the query cache statistics; ok is false when the cache
// is disabled.
func (e *Engine) CacheStats() (ParseCacheStats, bool) {
	if e.cache == nil {
		return ParseCacheStats{}, false
	}
	return e.cache.Stats(), true
}

// Close releases the caches of the engine.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.builtinCache != nil {
		e.builtinCache.Close()
	}
}

// Parse returns the most likely intent of text and its slots. Results are
// memoized per utterance and scope.
func (e *Engine) Parse(ctx context.Context, text string, opts ParseOptions) (nlu.ParseResult, error) {
	lang, err := e.check(ctx, text, opts)
	if err != nil {
		return nlu.ParseResult{}, err
	}
	var result nlu.ParseResult
	if e.cache == nil {
		result, err = e.parse(ctx, text, lang, opts)
	} else {
		key := CacheKey(text, lang, opts.EntityScope, opts.Intents)
		result, err = e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (nlu.ParseResult, error) {
			return e.parse(ctx, text, lang, opts)
		})
	}
	if err != nil {
		return nlu.ParseResult{}, err
	}
	RecordParse(string(result.Source), len(result.Slots))
	return result, nil
}

// GetIntents returns the probability of every intent, the "no intent" class
// included as nlu.NoIntent, in descending order.
func (e *Engine) GetIntents(ctx context.Context, text string, opts ParseOptions) ([]nlu.IntentClassification, error) {
	lang, err := e.check(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	a, err := e.analyze(ctx, text, lang, opts)
	if err != nil {
		return nil, err
	}
	return a.classes, nil
}

// GetSlots extracts the slots of text assuming it expresses intentName.
func (e *Engine) GetSlots(ctx context.Context, text, intentName string, opts ParseOptions) ([]nlu.Slot, error) {
	if !slices.Contains(e.model.IntentNames(), intentName) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, intentName)
	}
	lang, err := e.check(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	a, err := e.analyze(ctx, text, lang, opts)
	if err != nil {
		return nil, err
	}
	return e.fill(ctx, a, intentName)
}

// check validates a request and returns its language.
func (e *Engine) check(ctx context.Context, text string, opts ParseOptions) (tokenizer.Language, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lang := e.model.Language
	if opts.Language != "" {
		parsed, err := tokenizer.ParseLanguage(string(opts.Language))
		if err != nil {
			return "", err
		}
		if parsed != lang {
			return "", fmt.Errorf("%w: language %s, model is %s", ErrMalformedInput, parsed, lang)
		}
	}
	known := e.model.IntentNames()
	for _, name := range opts.Intents {
		if !slices.Contains(known, name) {
			return "", fmt.Errorf("%w: %q", ErrUnknownIntent, name)
		}
	}
	return lang, nil
}

func (e *Engine) parse(ctx context.Context, text string, lang tokenizer.Language, opts ParseOptions) (nlu.ParseResult, error) {
	tokens, err := tokenizer.Tokenize(text, lang)
	if err != nil {
		return nlu.ParseResult{}, err
	}
	q := resolution.Query{
		Text:        text,
		Language:    lang,
		Tokens:      tokens,
		Intents:     opts.Intents,
		EntityScope: opts.EntityScope,
	}

	det, err := e.deterministic.Match(ctx, q)
	if err != nil {
		return nlu.ParseResult{}, err
	}
	if det != nil {
		return e.ranker.Resolve(ctx, text, nil, det)
	}

	prob, err := e.matchProbabilistic(ctx, q)
	if err != nil {
		return nlu.ParseResult{}, err
	}
	result, err := e.ranker.Resolve(ctx, text, prob, nil)
	if err != nil {
		return nlu.ParseResult{}, err
	}
	e.logger.Debug("Parsed utterance",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence),
		zap.Int("slots", len(result.Slots)),
		zap.String("source", string(result.Source)))
	return result, nil
}

// analysis is the per-request state shared by classification and slot
// filling.
type analysis struct {
	text    string
	tokens  []tokenizer.Token
	scope   []string
	builtin []nlu.EntitySpan
	custom  []nlu.EntitySpan
	classes []nlu.IntentClassification
}

func (a *analysis) allows(entity string) bool {
	return len(a.scope) == 0 || slices.Contains(a.scope, entity)
}

func (e *Engine) analyze(ctx context.Context, text string, lang tokenizer.Language, opts ParseOptions) (*analysis, error) {
	tokens, err := tokenizer.Tokenize(text, lang)
	if err != nil {
		return nil, err
	}
	return e.analyzeTokens(ctx, resolution.Query{
		Text:        text,
		Language:    lang,
		Tokens:      tokens,
		Intents:     opts.Intents,
		EntityScope: opts.EntityScope,
	})
}

func (e *Engine) analyzeTokens(ctx context.Context, q resolution.Query) (*analysis, error) {
	a := &analysis{text: q.Text, tokens: q.Tokens, scope: q.EntityScope}

	var kinds []string
	for _, kind := range e.model.Builtins {
		if a.allows(kind) {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) > 0 && len(q.Tokens) > 0 {
		spans, err := e.builtin.Parse(ctx, q.Text, q.Language, kinds)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case err != nil:
			e.logger.Debug("Builtin entity parser failed", zap.Error(err))
		default:
			a.builtin = spans
		}
	}

	for _, g := range e.model.Gazetteers() {
		if !a.allows(g.Name()) {
			continue
		}
		for _, m := range g.Match(q.Tokens) {
			a.custom = append(a.custom, m.EntitySpan(q.Text))
		}
	}

	classifier := e.model.Classifier
	vec := features.IntentFeatures(q.Tokens, a.builtin, a.custom, classifier.Features)
	a.classes = classifier.Classify(vec)
	if len(q.Intents) > 0 {
		a.classes = intent.Filter(a.classes, q.Intents)
	}
	return a, nil
}

// matchProbabilistic classifies the query and fills the slots of the top
// candidates.
func (e *Engine) matchProbabilistic(ctx context.Context, q resolution.Query) (*nlu.ParseResult, error) {
	a, err := e.analyzeTokens(ctx, q)
	if err != nil {
		return nil, err
	}
	top := a.classes[0]
	result := &nlu.ParseResult{
		Input:        q.Text,
		Intent:       top.Intent,
		Confidence:   top.Probability,
		Alternatives: slices.Clone(a.classes[1:]),
		Source:       nlu.SourceProbabilistic,
	}

	filled := 0
	for i, c := range a.classes {
		if filled == e.cfg.TopK {
			break
		}
		if c.Intent == nlu.NoIntent {
			continue
		}
		slotsOf, err := e.fill(ctx, a, c.Intent)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result.Slots = slotsOf
		} else {
			result.Alternatives[i-1].Slots = slotsOf
		}
		filled++
	}
	if result.Slots == nil {
		result.Slots = []nlu.Slot{}
	}
	return result, nil
}

// fill tags the slots of intentName and drops those outside the entity scope.
func (e *Engine) fill(ctx context.Context, a *analysis, intentName string) ([]nlu.Slot, error) {
	f, ok := e.fillers[intentName]
	if !ok {
		return []nlu.Slot{}, nil
	}
	filled, err := f.Fill(ctx, slots.Input{
		Text:    a.text,
		Tokens:  a.tokens,
		Builtin: a.builtin,
		Custom:  a.custom,
	})
	if err != nil {
		return nil, err
	}
	out := filled[:0]
	for _, s := range filled {
		if a.allows(s.Entity) {
			out = append(out, s)
		}
	}
	return out, nil
}
