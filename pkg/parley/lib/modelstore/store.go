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

package modelstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/antflydb/parley/pkg/parley/lib/intent"
	"github.com/antflydb/parley/pkg/parley/lib/model"
	"github.com/antflydb/parley/pkg/parley/lib/patterns"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// Option configures Load.
type Option func(*options)

type options struct {
	matchingThreshold float64
	logger            *zap.Logger
}

// WithMatchingThreshold sets the fuzzy threshold used when the manifest
// does not carry one.
func WithMatchingThreshold(threshold float64) Option {
	return func(o *options) {
		o.matchingThreshold = threshold
	}
}

// WithLogger sets the logger of the loader.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Load reads, verifies and validates the engine stored in dir. Artifacts are
// read concurrently; any digest mismatch fails the whole load.
func Load(ctx context.Context, dir string, opts ...Option) (*model.Model, *Manifest, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()

	manifest, err := LoadManifestFromDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	m := &model.Model{
		Version:           manifest.ModelVersion,
		Language:          tokenizer.Language(manifest.Language),
		Builtins:          manifest.Builtins,
		MatchingThreshold: manifest.MatchingThreshold,
	}
	if m.MatchingThreshold == 0 {
		m.MatchingThreshold = o.matchingThreshold
	}

	intentFiles := manifest.IntentFiles()
	intentModels := make([]*model.IntentModel, len(intentFiles))
	classifier := new(intent.Classifier)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	classifierFile, _ := manifest.File(ClassifierFilename)
	g.Go(func() error {
		return readJSON(gctx, dir, classifierFile, classifier)
	})
	if f, ok := manifest.File(EntitiesFilename); ok {
		g.Go(func() error {
			return readJSON(gctx, dir, f, &m.Entities)
		})
	}
	if f, ok := manifest.File(PatternsFilename); ok {
		g.Go(func() error {
			data, err := readFile(gctx, dir, f)
			if err != nil {
				return err
			}
			m.Patterns, err = patterns.Parse(data)
			return err
		})
	}
	for i, f := range intentFiles {
		g.Go(func() error {
			im := new(model.IntentModel)
			if err := readJSON(gctx, dir, f, im); err != nil {
				return err
			}
			intentModels[i] = im
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, dir, err)
	}

	m.Classifier = classifier
	m.Intents = make(map[string]*model.IntentModel, len(intentFiles))
	for i, f := range intentFiles {
		m.Intents[strings.TrimSuffix(path.Base(f.Name), ".json")] = intentModels[i]
	}
	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, dir, err)
	}

	o.logger.Info("Loaded model",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.ModelVersion),
		zap.String("language", manifest.Language),
		zap.Int("intents", len(m.IntentNames())),
		zap.Int("entities", len(m.Entities)),
		zap.Duration("took", time.Since(start)))
	return m, manifest, nil
}

func readFile(ctx context.Context, dir string, f ModelFile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Name)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	if f.Size > 0 && int64(len(data)) != f.Size {
		return nil, fmt.Errorf("file %s has %d bytes, manifest says %d", f.Name, len(data), f.Size)
	}
	if digest := Digest(data); digest != f.Digest {
		return nil, fmt.Errorf("file %s digest mismatch: got %s, want %s", f.Name, digest, f.Digest)
	}
	return data, nil
}

func readJSON(ctx context.Context, dir string, f ModelFile, v any) error {
	data, err := readFile(ctx, dir, f)
	if err != nil {
		return err
	}
	if err := sonic.ConfigStd.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", f.Name, err)
	}
	return nil
}

// Save writes m to dir under the given engine name and returns the manifest.
// dir is created when missing; existing artifacts are overwritten.
func Save(dir, name string, m *model.Model) (*Manifest, error) {
	if m == nil || m.Classifier == nil {
		return nil, fmt.Errorf("saving %s: model has no classifier", name)
	}
	manifest := &Manifest{
		SchemaVersion:     CurrentSchemaVersion,
		Name:              name,
		ModelVersion:      m.Version,
		Language:          string(m.Language),
		Builtins:          m.Builtins,
		MatchingThreshold: m.MatchingThreshold,
		Provenance: &Provenance{
			CreatedBy: "parley",
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := os.MkdirAll(filepath.Join(dir, IntentsDir), 0755); err != nil {
		return nil, fmt.Errorf("creating engine directory: %w", err)
	}

	write := func(name string, data []byte) error {
		if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		manifest.Files = append(manifest.Files, ModelFile{Name: name, Digest: Digest(data), Size: int64(len(data))})
		return nil
	}
	writeJSON := func(name string, v any) error {
		data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", name, err)
		}
		return write(name, data)
	}

	if err := writeJSON(ClassifierFilename, m.Classifier); err != nil {
		return nil, err
	}
	if len(m.Entities) > 0 {
		if err := writeJSON(EntitiesFilename, m.Entities); err != nil {
			return nil, err
		}
	}
	for _, intentName := range sortedIntents(m) {
		if strings.ContainsAny(intentName, `/\`) || !filepath.IsLocal(intentName) {
			return nil, fmt.Errorf("intent name %q cannot be stored as a file", intentName)
		}
		if err := writeJSON(path.Join(IntentsDir, intentName+".json"), m.Intents[intentName]); err != nil {
			return nil, err
		}
	}
	if m.Patterns != nil {
		data, err := yaml.Marshal(m.Patterns)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", PatternsFilename, err)
		}
		if err := write(PatternsFilename, data); err != nil {
			return nil, err
		}
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	if err := manifest.SaveTo(filepath.Join(dir, ManifestFilename)); err != nil {
		return nil, err
	}
	return manifest, nil
}

func sortedIntents(m *model.Model) []string {
	names := make([]string, 0, len(m.Intents))
	for name := range m.Intents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
