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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRequestQueue_Unbounded(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{}, zaptest.NewLogger(t))

	var releases []func()
	for range 100 {
		release, err := q.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, release)
	}
	assert.Equal(t, int64(100), q.Stats().CurrentActive)
	for _, release := range releases {
		release()
	}
	assert.Equal(t, int64(0), q.Stats().CurrentActive)
}

func TestRequestQueue_QueueFull(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() {
		r, err := q.Acquire(context.Background())
		if err == nil {
			r()
		}
		waited <- err
	}()
	require.Eventually(t, func() bool { return q.Stats().CurrentQueued == 1 }, time.Second, time.Millisecond)

	_, err = q.Acquire(context.Background())
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), q.Stats().Rejected)

	release()
	require.NoError(t, <-waited)
	assert.Equal(t, int64(0), q.Stats().CurrentQueued)
}

func TestRequestQueue_Timeout(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		RequestTimeout:        10 * time.Millisecond,
	}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(context.Background())
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, int64(1), q.Stats().TimedOut)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRequestQueue_ReleaseIsIdempotent(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()

	again, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer again()
	assert.Equal(t, int64(1), q.Stats().CurrentActive)
}

func TestWriteQueueResponses(t *testing.T) {
	w := httptest.NewRecorder()
	WriteQueueFullResponse(w, 1500*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	WriteTimeoutResponse(w)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}
