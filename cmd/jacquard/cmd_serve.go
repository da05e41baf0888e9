// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/internal/log"
	"github.com/teradata-labs/jacquard/pkg/runtime"
	"github.com/teradata-labs/jacquard/pkg/types"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Jacquard runtime",
	Long: `Start the Jacquard orchestration runtime.

The runtime will:
- Spawn the agents described in agents.yaml as long-lived sessions
- Stream agent output and detect embedded signals
- Dispatch signals to the best-suited agent under the token budget
- Persist war-room and guidelines state across restarts

Press Ctrl+C to gracefully shutdown.

Exit codes:
  0  clean shutdown
  1  startup failed
  2  orchestrator entered degraded mode`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadRuntimeConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Setup(cfg.Log.Level, cfg.Log.Console); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	logger := log.Logger()
	defer func() { _ = log.Sync() }()

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize runtime", zap.Error(err))
		os.Exit(1)
	}

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		logger.Error("Failed to start runtime", zap.Error(err))
		os.Exit(1)
	}

	// Degraded mode means the orchestrator is refusing non-fatal work;
	// the process exits so a supervisor can restart it.
	degraded := make(chan struct{}, 1)
	_, err = rt.EventBus.Subscribe(ctx, "serve", types.ChannelOrchestrator, func(event types.Event) {
		if event.Type != types.EventDegradedMode {
			return
		}
		select {
		case degraded <- struct{}{}:
		default:
		}
	}, 16)
	if err != nil {
		logger.Warn("Degraded-mode watch unavailable", zap.Error(err))
	}

	logger.Info("Jacquard is running", zap.String("config", cfgFile))

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigch:
		logger.Info("Shutting down gracefully... (press Ctrl+C again to force)")
		go func() {
			<-sigch
			logger.Warn("Force shutdown requested")
			os.Exit(1)
		}()
	case <-degraded:
		logger.Error("Orchestrator entered degraded mode, shutting down")
		exitCode = 2
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		logger.Warn("Error during shutdown", zap.Error(err))
		if exitCode == 0 {
			exitCode = 1
		}
	}

	logger.Info("Shutdown complete")
	_ = log.Sync()
	os.Exit(exitCode)
}
