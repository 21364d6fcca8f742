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

// Command parley runs the Parley intent parsing service.
//
// Parley turns short utterances into an intent and typed slots using
// statistical models loaded from a model directory.
//
// Usage:
//
//	parley run --model-dir ./engine          # Start the server
//	parley parse "turn on the kitchen lights" # Parse utterances from the shell
//	parley inspect --model-dir ./engine      # Describe a model directory
package main

import (
	"github.com/antflydb/parley/pkg/parley/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
//
// main.version: Current Git tag (the v prefix is stripped) or the name of the snapshot
var version = "dev"

func main() {
	cmd.Version = version
	cmd.Execute()
}
