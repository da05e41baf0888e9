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
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/config"
	"github.com/teradata-labs/jacquard/pkg/observability"
)

var (
	spansLimit int
	spansTrace string
)

var spansCmd = &cobra.Command{
	Use:   "spans",
	Short: "Inspect recorded trace spans",
	Long: `Query the span store written by a runtime configured with
paths.span_store.

Examples:
  jacquard spans
  jacquard spans --limit 50
  jacquard spans --trace 4f2a91c0
`,
	Run: runSpans,
}

func init() {
	rootCmd.AddCommand(spansCmd)
	spansCmd.Flags().IntVarP(&spansLimit, "limit", "n", 20, "Maximum number of spans to return")
	spansCmd.Flags().StringVar(&spansTrace, "trace", "", "Show every span of one trace ID")
}

func runSpans(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadRuntime(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Paths.SpanStore == "" {
		fmt.Fprintln(os.Stderr, "No span store configured (set paths.span_store in the config file).")
		os.Exit(1)
	}

	tracer, err := observability.NewEmbeddedTracer(observability.EmbeddedConfig{
		Storage:    "sqlite",
		SQLitePath: cfg.Paths.SpanStore,
	}, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening span store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = tracer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var spans []*observability.SpanRecord
	if spansTrace != "" {
		spans, err = tracer.Trace(ctx, spansTrace)
	} else {
		spans, err = tracer.Recent(ctx, spansLimit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying spans: %v\n", err)
		os.Exit(1)
	}

	if len(spans) == 0 {
		fmt.Println("No spans found.")
		return
	}

	fmt.Printf("%-34s %-12s %-10s %-10s %-15s\n", "SPAN", "TRACE", "STATUS", "DURATION", "STARTED")
	fmt.Println(strings.Repeat("-", 85))
	for _, span := range spans {
		traceID := span.TraceID
		if len(traceID) > 8 {
			traceID = traceID[:8]
		}
		status := span.Status
		if span.Error != "" {
			status = "error"
		}
		fmt.Printf("%-34s %-12s %-10s %-10s %-15s\n",
			span.Name,
			traceID,
			status,
			fmt.Sprintf("%dms", span.DurationMs),
			span.StartTime.Format(time.TimeOnly),
		)
	}
	fmt.Printf("\nShowing %d span(s)\n", len(spans))
}
