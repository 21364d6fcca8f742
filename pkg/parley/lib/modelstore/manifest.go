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

// Package modelstore reads and writes engine directories: a manifest, the
// JSON weights of every artifact and the YAML patterns.
package modelstore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// ManifestFilename is the standard filename for engine manifests
const ManifestFilename = "parley_manifest.json"

// CurrentSchemaVersion is the current manifest schema version
const CurrentSchemaVersion = 1

// Artifact filenames inside an engine directory.
const (
	ClassifierFilename = "classifier.json"
	EntitiesFilename   = "entities.json"
	PatternsFilename   = "patterns.yaml"
	// IntentsDir holds one <intent>.json slot model per intent
	IntentsDir = "intents"
)

// ErrModelLoad is returned when an engine directory cannot be loaded.
var ErrModelLoad = errors.New("model load failed")

// ModelFile represents a single file in the manifest
type ModelFile struct {
	// Name is the slash-separated path relative to the engine directory
	Name string `json:"name"`
	// Digest is the SHA256 hash of the file (e.g., "sha256:abc123...")
	Digest string `json:"digest"`
	// Size is the file size in bytes
	Size int64 `json:"size"`
}

// Provenance tracks where the engine came from
type Provenance struct {
	// CreatedBy names the tool that wrote the directory
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manifest describes an engine directory
type Manifest struct {
	// SchemaVersion is the manifest format version
	SchemaVersion int `json:"schemaVersion"`
	// Name is the engine identifier (e.g., "lights-en")
	Name string `json:"name"`
	// ModelVersion is the model format version, see model.FormatVersion
	ModelVersion string `json:"modelVersion"`
	Language     string `json:"language"`
	Description  string `json:"description,omitempty"`
	// Builtins lists the builtin entity kinds used by the engine
	Builtins []string `json:"builtins,omitempty"`
	// MatchingThreshold is the default fuzzy threshold of custom entities
	MatchingThreshold float64     `json:"matchingThreshold,omitempty"`
	Files             []ModelFile `json:"files"`
	Provenance        *Provenance `json:"provenance,omitempty"`
}

// Validate checks that the manifest is well-formed
func (m *Manifest) Validate() error {
	if m.SchemaVersion < 1 || m.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %d (expected 1-%d)", m.SchemaVersion, CurrentSchemaVersion)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest missing required field: name")
	}
	if m.ModelVersion == "" {
		return fmt.Errorf("manifest missing required field: modelVersion")
	}
	if m.Language == "" {
		return fmt.Errorf("manifest missing required field: language")
	}

	hasClassifier := false
	seen := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		if f.Name == "" {
			return fmt.Errorf("file entry missing name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("file %s listed twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return fmt.Errorf("file %s is outside the engine directory", f.Name)
		}
		if !strings.HasPrefix(f.Digest, "sha256:") {
			return fmt.Errorf("file %s has invalid digest format (expected sha256:...)", f.Name)
		}
		if f.Name == ClassifierFilename {
			hasClassifier = true
		}
	}
	if !hasClassifier {
		return fmt.Errorf("manifest must include %s", ClassifierFilename)
	}
	return nil
}

// File returns the entry of a file.
func (m *Manifest) File(name string) (ModelFile, bool) {
	i := slices.IndexFunc(m.Files, func(f ModelFile) bool { return f.Name == name })
	if i < 0 {
		return ModelFile{}, false
	}
	return m.Files[i], true
}

// IntentFiles returns the intent slot model files in name order.
func (m *Manifest) IntentFiles() []ModelFile {
	var out []ModelFile
	for _, f := range m.Files {
		if dir, _ := filepath.Split(filepath.FromSlash(f.Name)); filepath.Clean(dir) == IntentsDir && filepath.Ext(f.Name) == ".json" {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b ModelFile) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ParseManifest parses a JSON manifest
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := sonic.ConfigStd.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// SaveTo writes the manifest to a file as JSON
func (m *Manifest) SaveTo(path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifestFromDir loads a manifest from an engine directory
func LoadManifestFromDir(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// Digest returns the SHA256 digest of data in "sha256:..." format
func Digest(data []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}
