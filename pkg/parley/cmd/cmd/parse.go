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

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley"
	"github.com/antflydb/parley/pkg/parley/lib/modelstore"
	"github.com/antflydb/parley/pkg/parley/lib/tokenizer"
)

var parseCmd = &cobra.Command{
	Use:   "parse [utterance]",
	Short: "Parse utterances with a local model",
	Long: `Parse an utterance with the model in --model-dir and print the result as JSON.

Without an argument, every line read from stdin is parsed.

Examples:
  # Best intent and slots
  parley parse --model-dir ./engine "turn on the lights in the kitchen"

  # Probability of every intent
  parley parse --model-dir ./engine --classify "turn on the lights"

  # Slots for a given intent, restricted to the room entity
  parley parse --model-dir ./engine --intent turnOnLight --entity-scope room "kitchen lights on"`,
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().String("language", "", "language of the utterances (default: model language)")
	parseCmd.Flags().StringSlice("intents", nil, "only consider these intents")
	parseCmd.Flags().StringSlice("entity-scope", nil, "only fill slots of these entities")
	parseCmd.Flags().String("intent", "", "extract the slots of this intent instead of parsing")
	parseCmd.Flags().Bool("classify", false, "print the probability of every intent")
}

// loadEngine loads the configured model directory into an engine
func loadEngine(ctx context.Context, logger *zap.Logger) (*parley.Engine, *modelstore.Manifest, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.ModelDir == "" {
		return nil, nil, fmt.Errorf("--model-dir is required")
	}
	m, manifest, err := modelstore.Load(ctx, cfg.ModelDir,
		modelstore.WithMatchingThreshold(cfg.Engine.FuzzyThreshold),
		modelstore.WithLogger(logger.Named("modelstore")))
	if err != nil {
		return nil, nil, err
	}
	engine, err := parley.NewEngine(m, cfg.Engine, logger.Named("engine"))
	if err != nil {
		return nil, nil, err
	}
	return engine, manifest, nil
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	language, _ := cmd.Flags().GetString("language")
	intents, _ := cmd.Flags().GetStringSlice("intents")
	scope, _ := cmd.Flags().GetStringSlice("entity-scope")
	intentName, _ := cmd.Flags().GetString("intent")
	classify, _ := cmd.Flags().GetBool("classify")

	engine, _, err := loadEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	opts := parley.ParseOptions{
		Language:    tokenizer.Language(language),
		EntityScope: scope,
		Intents:     intents,
	}
	parseOne := func(text string) (any, error) {
		switch {
		case intentName != "":
			found, err := engine.GetSlots(ctx, text, intentName, opts)
			if err != nil {
				return nil, err
			}
			return parley.SlotsResponse{Input: text, Intent: intentName, Slots: found}, nil
		case classify:
			classes, err := engine.GetIntents(ctx, text, opts)
			if err != nil {
				return nil, err
			}
			return parley.IntentsResponse{Input: text, Intents: classes}, nil
		default:
			return engine.Parse(ctx, text, opts)
		}
	}

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return printParse(out, parseOne, strings.Join(args, " "))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := printParse(out, parseOne, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printParse(w io.Writer, parse func(string) (any, error), text string) error {
	result, err := parse(text)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", text, err)
	}
	data, err := sonic.ConfigStd.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
