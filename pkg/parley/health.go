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

package parley

import (
	"net/http"

	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status   string         `json:"status"`
	Model    ReadyModel     `json:"model"`
	Detailed map[string]any `json:"detailed,omitempty"`
}

// ReadyModel summarizes the loaded model
type ReadyModel struct {
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
	Intents  int    `json:"intents"`
	Entities int    `json:"entities"`
	Patterns int    `json:"patterns"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (ln *ParleyNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once a model with at least one intent is serving
func (ln *ParleyNode) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready"}

	if ln.engine != nil {
		m := ln.engine.Model()
		resp.Model = ReadyModel{
			Language: m.Language.String(),
			Intents:  len(m.IntentNames()),
			Entities: len(m.CustomEntities()) + len(m.Builtins),
			Patterns: ln.engine.deterministic.Len(),
		}
		if ln.manifest != nil {
			resp.Model.Name = ln.manifest.Name
		}
		if stats, ok := ln.engine.CacheStats(); ok {
			resp.Detailed = map[string]any{"parse_cache": stats}
		}
	}

	if resp.Model.Intents == 0 {
		resp.Status = "not_ready"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = encoder.NewStreamEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
