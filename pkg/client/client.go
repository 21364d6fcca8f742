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

// Package client provides a Go SDK for the Parley API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/antflydb/parley/pkg/parley"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
)

// APIError is a non-2xx response of the server. It matches the parley
// sentinel error of its status code with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("parley: status %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes back to parley errors.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == parley.ErrMalformedInput
	case http.StatusNotFound:
		return target == parley.ErrUnknownIntent
	case http.StatusServiceUnavailable:
		return target == parley.ErrQueueFull
	case http.StatusGatewayTimeout:
		return target == parley.ErrRequestTimeout
	default:
		return false
	}
}

// ParleyClient is a client for interacting with the Parley API.
type ParleyClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewParleyClient creates a new Parley client.
// The baseURL should be the server address (e.g., "http://localhost:11480").
// The /api prefix is automatically appended.
func NewParleyClient(baseURL string, httpClient *http.Client) (*ParleyClient, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ParleyClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api",
	}, nil
}

// Parse returns the best intent of text and its slots.
func (c *ParleyClient) Parse(ctx context.Context, req parley.ParseRequest) (*nlu.ParseResult, error) {
	var resp nlu.ParseResult
	if err := c.do(ctx, http.MethodPost, "/parse", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Intents returns the probability of every intent for text.
func (c *ParleyClient) Intents(ctx context.Context, req parley.ParseRequest) ([]nlu.IntentClassification, error) {
	var resp parley.IntentsResponse
	if err := c.do(ctx, http.MethodPost, "/intents", req, &resp); err != nil {
		return nil, err
	}
	return resp.Intents, nil
}

// Slots extracts the slots of text for the requested intent.
func (c *ParleyClient) Slots(ctx context.Context, req parley.SlotsRequest) ([]nlu.Slot, error) {
	var resp parley.SlotsResponse
	if err := c.do(ctx, http.MethodPost, "/slots", req, &resp); err != nil {
		return nil, err
	}
	return resp.Slots, nil
}

// Model describes the model served by the server.
func (c *ParleyClient) Model(ctx context.Context) (*parley.ModelResponse, error) {
	var resp parley.ModelResponse
	if err := c.do(ctx, http.MethodGet, "/model", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version returns the build information of the server.
func (c *ParleyClient) Version(ctx context.Context) (*parley.VersionResponse, error) {
	var resp parley.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ParleyClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if err := sonic.ConfigStd.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
