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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley/lib/modelstore"
)

// ParleyNode serves one engine over HTTP.
type ParleyNode struct {
	logger *zap.Logger

	engine   *Engine
	manifest *modelstore.Manifest

	// Request queue for backpressure control
	requestQueue *RequestQueue
}

// NewParleyNode wraps an engine. manifest may be nil for models built in
// memory.
func NewParleyNode(logger *zap.Logger, engine *Engine, manifest *modelstore.Manifest, queue *RequestQueue) *ParleyNode {
	if queue == nil {
		queue = NewRequestQueue(RequestQueueConfig{}, logger.Named("queue"))
	}
	return &ParleyNode{
		logger:       logger,
		engine:       engine,
		manifest:     manifest,
		requestQueue: queue,
	}
}

// Handler returns the root handler: health endpoints, metrics and the API.
func (ln *ParleyNode) Handler() http.Handler {
	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", ln.handleHealthz)
	rootMux.HandleFunc("GET /readyz", ln.handleReadyz)
	rootMux.Handle("GET /metrics", promhttp.Handler())

	rootMux.Handle("/api/", NewParleyAPI(ln.logger, ln))

	return corsMiddleware(rootMux)
}

// corsMiddleware adds permissive CORS headers for the Parley API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsParley loads the model of config, serves it until ctx is done and
// shuts the server down gracefully. If readyC is non-nil, it is closed when
// the server is ready to accept requests.
func RunAsParley(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) error {
	zl = zl.Named("parley")
	zl.Info("Starting parley node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		return fmt.Errorf("invalid API URL %q: %w", config.ApiUrl, err)
	}
	if config.ModelDir == "" {
		return fmt.Errorf("%w: model_dir is required", ErrEmptyModel)
	}

	start := time.Now()
	m, manifest, err := modelstore.Load(ctx, config.ModelDir,
		modelstore.WithMatchingThreshold(config.Engine.FuzzyThreshold),
		modelstore.WithLogger(zl.Named("modelstore")))
	if err != nil {
		return err
	}
	RecordModelLoadDuration(manifest.Name, time.Since(start).Seconds())

	engine, err := NewEngine(m, config.Engine, zl.Named("engine"))
	if err != nil {
		return err
	}
	defer engine.Close()

	// Initialize request queue for backpressure control
	var requestTimeout time.Duration
	if config.RequestTimeout != "" && config.RequestTimeout != "0" {
		requestTimeout, err = time.ParseDuration(config.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout %q: %w", config.RequestTimeout, err)
		}
	}
	requestQueue := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		MaxQueueSize:          config.MaxQueueSize,
		RequestTimeout:        requestTimeout,
	}, zl.Named("queue"))

	node := NewParleyNode(zl, engine, manifest, requestQueue)

	srv := &http.Server{
		Addr:              u.Host,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Parley's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
	return nil
}
