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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/internal/log"
	"github.com/teradata-labs/synapse/internal/version"
	"github.com/teradata-labs/synapse/pkg/tooling"
)

var rootCmd = &cobra.Command{
	Use:     "synapse-tooling",
	Short:   "Synapse primary tooling server - search_web and browse_and_extract",
	Version: version.Get(),
	RunE:    serve,
}

func init() {
	rootCmd.Flags().String("listen", ":8001", "listen address")
	rootCmd.Flags().Duration("stream-delay", 200*time.Millisecond, "pause between streamed extraction progress events")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "Log format (text, json)")

	viper.SetEnvPrefix("SYNAPSE_TOOLING")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("stream_delay", rootCmd.Flags().Lookup("stream-delay"))
	_ = viper.BindPFlag("log_level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.Flags().Lookup("log-format"))
}

func serve(cmd *cobra.Command, args []string) error {
	logger, err := log.New(viper.GetString("log_level"), viper.GetString("log_format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log.SetLogger(logger)

	server := tooling.NewServer(logger)
	server.SetStreamDelay(viper.GetDuration("stream_delay"))

	addr := viper.GetString("listen")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("primary tooling server listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
