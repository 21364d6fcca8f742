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

// Package cmd holds the parley commands.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/antflydb/parley/pkg/parley"
)

// Version is set by main from the build
var Version = "dev"

var (
	cfgFile  string
	modelDir string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "On-device intent parsing",
	Long: `Parley parses short utterances into an intent and its slots using
statistical models (intent classifier, CRF slot taggers, gazetteers).

Configuration is read from --config, then from PARLEY_* environment
variables (e.g. PARLEY_ENGINE_THRESHOLD=0.6), then from flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./parley.yaml)")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "", "directory of the model to serve")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-style", "terminal", "log style (terminal, json, logfmt, noop)")
	mustBindPFlag("model_dir", rootCmd.PersistentFlags().Lookup("model-dir"))
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))

	setDefaults()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %q: %v", key, err))
	}
}

func setDefaults() {
	def := parley.DefaultEngineConfig()
	viper.SetDefault("api_url", "http://localhost:11480")
	viper.SetDefault("model_dir", "")
	viper.SetDefault("max_concurrent_requests", 0)
	viper.SetDefault("max_queue_size", 0)
	viper.SetDefault("request_timeout", "30s")
	viper.SetDefault("engine.threshold", *def.Threshold)
	viper.SetDefault("engine.top_k", def.TopK)
	viper.SetDefault("engine.fuzzy_threshold", def.FuzzyThreshold)
	viper.SetDefault("engine.cache.disabled", def.Cache.Disabled)
	viper.SetDefault("engine.cache.capacity", def.Cache.Capacity)
	viper.SetDefault("engine.cache.shards", def.Cache.Shards)
	viper.SetDefault("engine.cache.ttl", def.Cache.TTL)
	viper.SetDefault("engine.builtin_cache.disabled", def.BuiltinCache.Disabled)
	viper.SetDefault("engine.builtin_cache.capacity", def.BuiltinCache.Capacity)
	viper.SetDefault("engine.builtin_cache.ttl", def.BuiltinCache.TTL)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("parley")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/parley")
	}

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// loadConfig builds the node configuration from viper
func loadConfig() (parley.Config, error) {
	var cfg parley.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() {
	rootCmd.Version = Version
	parley.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
