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
	"net/http"

	"github.com/antflydb/parley/pkg/parley/lib/model"
	"github.com/antflydb/parley/pkg/parley/lib/modelstore"
	"github.com/antflydb/parley/pkg/parley/lib/nlu"
)

// Errors returned by the engine. Low confidence is not an error: it yields a
// result without intent.
var (
	ErrMalformedInput    = nlu.ErrMalformedInput
	ErrEmptyModel        = nlu.ErrEmptyModel
	ErrUnknownIntent     = nlu.ErrUnknownIntent
	ErrInternal          = nlu.ErrInternal
	ErrWrongModelVersion = model.ErrWrongModelVersion
	ErrModelLoad         = modelstore.ErrModelLoad
)

// statusCode maps engine errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownIntent):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
