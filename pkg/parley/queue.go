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
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when no request slot is free and the wait
	// queue is full.
	ErrQueueFull = errors.New("request queue full")
	// ErrRequestTimeout is returned when a request waited too long for a slot.
	ErrRequestTimeout = errors.New("request timed out in queue")
)

// RequestQueueConfig bounds concurrent request processing
type RequestQueueConfig struct {
	// MaxConcurrentRequests is the number of requests processed at once; 0 is unbounded
	MaxConcurrentRequests int
	// MaxQueueSize is the number of requests allowed to wait; 0 is unbounded
	MaxQueueSize int
	// RequestTimeout bounds the wait for a slot; 0 waits as long as the request context
	RequestTimeout time.Duration
}

// QueueStats is a snapshot of the queue
type QueueStats struct {
	CurrentQueued int64 `json:"current_queued"`
	CurrentActive int64 `json:"current_active"`
	Rejected      int64 `json:"rejected"`
	TimedOut      int64 `json:"timed_out"`
}

// RequestQueue applies backpressure in front of the engine
type RequestQueue struct {
	sem      *semaphore.Weighted
	maxQueue int64
	timeout  time.Duration
	logger   *zap.Logger

	queued   atomic.Int64
	active   atomic.Int64
	rejected atomic.Int64
	timedOut atomic.Int64
}

// NewRequestQueue creates a request queue
func NewRequestQueue(cfg RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := int64(cfg.MaxConcurrentRequests)
	if slots <= 0 {
		slots = math.MaxInt64
	}
	return &RequestQueue{
		sem:      semaphore.NewWeighted(slots),
		maxQueue: int64(cfg.MaxQueueSize),
		timeout:  cfg.RequestTimeout,
		logger:   logger,
	}
}

// Acquire waits for a processing slot. The returned release function must be
// called once the request is done.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	if q.sem.TryAcquire(1) {
		return q.admit(), nil
	}

	if n := q.queued.Add(1); q.maxQueue > 0 && n > q.maxQueue {
		q.queued.Add(-1)
		q.rejected.Add(1)
		q.logger.Debug("Rejecting request, queue full", zap.Int64("max_queue_size", q.maxQueue))
		return nil, ErrQueueFull
	}
	defer q.queued.Add(-1)

	waitCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	err := q.sem.Acquire(waitCtx, 1)
	RecordQueueWaitTime(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			q.timedOut.Add(1)
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	return q.admit(), nil
}

func (q *RequestQueue) admit() func() {
	q.active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			q.active.Add(-1)
			q.sem.Release(1)
		}
	}
}

// Stats returns a snapshot of the queue
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentQueued: q.queued.Load(),
		CurrentActive: q.active.Load(),
		Rejected:      q.rejected.Load(),
		TimedOut:      q.timedOut.Load(),
	}
}

// WriteQueueFullResponse tells the client to retry later
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	http.Error(w, "server busy: request queue full", http.StatusServiceUnavailable)
}

// WriteTimeoutResponse reports a request that waited too long for a slot
func WriteTimeoutResponse(w http.ResponseWriter) {
	http.Error(w, "request timed out waiting in queue", http.StatusGatewayTimeout)
}
