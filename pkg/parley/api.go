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
	"runtime"
	"strconv"
	"time"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley/lib/modelstore"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

// ParseRequest is the body of POST /api/parse and POST /api/intents
type ParseRequest struct {
	Text        string   `json:"text"`
	Language    string   `json:"language,omitempty"`
	EntityScope []string `json:"entity_scope,omitempty"`
	Intents     []string `json:"intents,omitempty"`
}

func (r ParseRequest) options() ParseOptions {
	return ParseOptions{
		Language:    tokenizer.Language(r.Language),
		EntityScope: r.EntityScope,
		Intents:     r.Intents,
	}
}

// SlotsRequest is the body of POST /api/slots
type SlotsRequest struct {
	Text        string   `json:"text"`
	Intent      string   `json:"intent"`
	Language    string   `json:"language,omitempty"`
	EntityScope []string `json:"entity_scope,omitempty"`
}

// IntentsResponse lists the probability of every intent
type IntentsResponse struct {
	Input   string                     `json:"input"`
	Intents []nlu.IntentClassification `json:"intents"`
}

// SlotsResponse lists the slots of an utterance for a given intent
type SlotsResponse struct {
	Input  string     `json:"input"`
	Intent string     `json:"intent"`
	Slots  []nlu.Slot `json:"slots"`
}

// VersionResponse is the response of GET /api/version
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// ModelResponse describes the served model
type ModelResponse struct {
	Manifest *modelstore.Manifest `json:"manifest,omitempty"`
	Language string               `json:"language"`
	Intents  []string             `json:"intents"`
	Entities []string             `json:"entities"`
	Builtins []string             `json:"builtins"`
	Patterns int                  `json:"patterns"`
	Cache    *ParseCacheStats     `json:"cache,omitempty"`
}

// NewParleyAPI creates the HTTP handler of the /api routes
func NewParleyAPI(logger *zap.Logger, node *ParleyNode) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/parse", node.handleApiParse)
	mux.HandleFunc("POST /api/intents", node.handleApiIntents)
	mux.HandleFunc("POST /api/slots", node.handleApiSlots)
	mux.HandleFunc("GET /api/model", node.handleApiModel)
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, VersionResponse{
			Version:   Version,
			GitCommit: GitCommit,
			BuildTime: BuildTime,
			GoVersion: runtime.Version(),
		})
	})
	return mux
}

// acquire applies backpressure via the request queue. It writes the error
// response itself and returns false when the request must not proceed.
func (ln *ParleyNode) acquire(w http.ResponseWriter, r *http.Request) (func(), bool) {
	release, err := ln.requestQueue.Acquire(r.Context())
	if err != nil {
		switch err {
		case ErrQueueFull:
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case ErrRequestTimeout:
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return nil, false
	}
	UpdateQueueMetrics(ln.requestQueue.Stats())
	return release, true
}

// handleApiParse returns the best intent of an utterance and its slots
func (ln *ParleyNode) handleApiParse(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	release, ok := ln.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	var req ParseRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := ln.engine.Parse(r.Context(), req.Text, req.options())
	if err != nil {
		ln.writeError(w, "parse", start, err)
		return
	}

	ln.logger.Info("Parse request completed",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence),
		zap.Int("num_slots", len(result.Slots)),
		zap.String("source", string(result.Source)))
	RecordRequestDuration("parse", strconv.Itoa(http.StatusOK), time.Since(start).Seconds())

	writeJSON(ln.logger, w, result)
}

// handleApiIntents returns the probability of every intent
func (ln *ParleyNode) handleApiIntents(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	release, ok := ln.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	var req ParseRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	intents, err := ln.engine.GetIntents(r.Context(), req.Text, req.options())
	if err != nil {
		ln.writeError(w, "intents", start, err)
		return
	}

	ln.logger.Info("Intents request completed", zap.Int("num_intents", len(intents)))
	RecordRequestDuration("intents", strconv.Itoa(http.StatusOK), time.Since(start).Seconds())

	writeJSON(ln.logger, w, IntentsResponse{Input: req.Text, Intents: intents})
}

// handleApiSlots extracts slots assuming the requested intent
func (ln *ParleyNode) handleApiSlots(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	release, ok := ln.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	var req SlotsRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Intent == "" {
		http.Error(w, "intent is required", http.StatusBadRequest)
		return
	}

	found, err := ln.engine.GetSlots(r.Context(), req.Text, req.Intent, ParseOptions{
		Language:    tokenizer.Language(req.Language),
		EntityScope: req.EntityScope,
	})
	if err != nil {
		ln.writeError(w, "slots", start, err)
		return
	}

	ln.logger.Info("Slots request completed",
		zap.String("intent", req.Intent),
		zap.Int("num_slots", len(found)))
	RecordRequestDuration("slots", strconv.Itoa(http.StatusOK), time.Since(start).Seconds())

	writeJSON(ln.logger, w, SlotsResponse{Input: req.Text, Intent: req.Intent, Slots: found})
}

// handleApiModel describes the served model
func (ln *ParleyNode) handleApiModel(w http.ResponseWriter, r *http.Request) {
	m := ln.engine.Model()
	resp := ModelResponse{
		Manifest: ln.manifest,
		Language: m.Language.String(),
		Intents:  m.IntentNames(),
		Entities: m.CustomEntities(),
		Builtins: m.Builtins,
		Patterns: ln.engine.deterministic.Len(),
	}
	if resp.Builtins == nil {
		resp.Builtins = []string{}
	}
	if stats, ok := ln.engine.CacheStats(); ok {
		resp.Cache = &stats
	}
	writeJSON(ln.logger, w, resp)
}

func (ln *ParleyNode) writeError(w http.ResponseWriter, endpoint string, start time.Time, err error) {
	status := statusCode(err)
	if status == http.StatusInternalServerError {
		ln.logger.Error("Request failed", zap.String("endpoint", endpoint), zap.Error(err))
	} else {
		ln.logger.Debug("Request rejected", zap.String("endpoint", endpoint), zap.Error(err))
	}
	RecordRequestDuration(endpoint, strconv.Itoa(status), time.Since(start).Seconds())
	http.Error(w, err.Error(), status)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
