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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/internal/log"
	"github.com/teradata-labs/synapse/pkg/agent"
	"github.com/teradata-labs/synapse/pkg/bus"
	"github.com/teradata-labs/synapse/pkg/config"
	"github.com/teradata-labs/synapse/pkg/orchestration"
	"github.com/teradata-labs/synapse/pkg/toolclient"
)

const (
	healthWaitTimeout = 30 * time.Second
	shutdownGrace     = 5 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the research workflow end to end",
	Long: `Run starts the orchestrator and all worker agents on one message bus,
kicks off the research workflow for the configured query, and waits for
the report to be saved or the workflow timeout to expire.`,
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().String("query", "", "research query")
	runCmd.Flags().String("broker-url", "", "AMQP broker URL")
	runCmd.Flags().String("primary-tooling-url", "", "primary tooling server base URL")
	runCmd.Flags().String("filesystem-url", "", "filesystem server base URL")
	runCmd.Flags().Int("timeout", 300, "workflow timeout in seconds")
	runCmd.Flags().Bool("memory-bus", false, "use the in-process bus instead of AMQP")
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := log.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log.SetLogger(logger)

	query := strings.TrimSpace(cfg.Research.Query)
	if query == "" {
		return errors.New("no research query: set --query, research.query, or RESEARCH_QUERY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b bus.Bus
	if memory, _ := cmd.Flags().GetBool("memory-bus"); memory {
		b = bus.NewMemoryBus(logger)
	} else {
		b = bus.NewAMQPBus(cfg.Broker.URL, logger)
	}
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connecting message bus: %w", err)
	}
	defer closeBus(b, logger)

	tools := toolclient.New(toolclient.Config{
		Servers: cfg.ToolServers(),
		Logger:  logger,
	})
	defer tools.Close()

	if err := waitHealthy(ctx, tools, agent.PrimaryToolingServer, agent.FilesystemServer); err != nil {
		return err
	}

	orc := orchestration.New(b, logger)
	workers := []agent.Worker{
		agent.NewSearchWorker(orchestration.SearchAgentID, b, tools, logger),
		agent.NewExtractionWorker(orchestration.ExtractionAgentID, b, tools, logger),
		agent.NewFactCheckWorker("fact_checker_agent", b, nil, logger),
		agent.NewSynthesisWorker(orchestration.SynthesisAgentID, b, nil, logger),
		agent.NewFileSaveWorker(orchestration.FileSaveAgentID, b, tools, logger),
		agent.NewLogSinkWorker("logger_agent", b, logger),
		orc,
	}

	var runtimes []*agent.Runtime
	defer func() { stopRuntimes(runtimes, logger) }()
	for _, w := range workers {
		rt := agent.NewRuntime(w, b, logger)
		if err := rt.Start(ctx); err != nil {
			return fmt.Errorf("starting agent %s: %w", w.ID(), err)
		}
		runtimes = append(runtimes, rt)
	}

	if err := orc.StartResearch(ctx, query); err != nil {
		return fmt.Errorf("starting research: %w", err)
	}

	timeout := time.NewTimer(cfg.Workflow.Timeout())
	defer timeout.Stop()
	select {
	case <-orc.Done():
		wf := orc.Status()
		logger.Info("research workflow complete",
			zap.String("query", wf.Query),
			zap.String("report_path", wf.ReportPath),
			zap.Int("sources", len(wf.ExtractedContent)))
		fmt.Fprintf(cmd.OutOrStdout(), "Report saved to %s\n", wf.ReportPath)
		return nil
	case <-timeout.C:
		return fmt.Errorf("workflow timed out after %s in state %q",
			cfg.Workflow.Timeout(), orc.Status().State)
	case <-ctx.Done():
		logger.Warn("interrupted, shutting down")
		return nil
	}
}

// waitHealthy polls each tool server's health probe so the workers never
// start against servers that are still coming up.
func waitHealthy(ctx context.Context, tools *toolclient.Client, servers ...string) error {
	for _, server := range servers {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = healthWaitTimeout
		err := backoff.Retry(func() error {
			return tools.Health(ctx, server)
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			return fmt.Errorf("tool server %q not healthy: %w", server, err)
		}
	}
	return nil
}

func stopRuntimes(runtimes []*agent.Runtime, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for i := len(runtimes) - 1; i >= 0; i-- {
		if err := runtimes[i].Stop(ctx); err != nil {
			logger.Warn("agent stop failed", zap.Error(err))
		}
	}
}

func closeBus(b bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		logger.Warn("bus close failed", zap.Error(err))
	}
}
