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
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/antflydb/parley/pkg/parley"
)

var healthPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the parley server",
	Long:  `Start the parley server: load the model directory and serve /api/parse, /api/intents and /api/slots.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run command flags
	runCmd.Flags().IntVar(&healthPort, "health-port", 4200, "health/metrics server port")
	runCmd.Flags().String("api-url", "http://localhost:11480", "address the API server listens on")
	mustBindPFlag("health_port", runCmd.Flags().Lookup("health-port"))
	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))
}

func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create logger from config
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as parley")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Track readiness state
	ready := &atomic.Bool{}
	ready.Store(false)
	readyC := make(chan struct{})

	// Start health server with readiness checker
	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	// Wait for ready signal in background
	go func() {
		select {
		case <-readyC:
			ready.Store(true)
			logger.Info("Parley is ready")
		case <-ctx.Done():
		}
	}()

	return parley.RunAsParley(ctx, logger, cfg, readyC)
}
