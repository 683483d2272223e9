package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/interview-orchestrator/internal/observability"
	"github.com/jonathan/interview-orchestrator/internal/server"
	"github.com/jonathan/interview-orchestrator/internal/store"
)

var (
	servePort      int
	serveConfig    string
	serveLogFormat string
	serveLogLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server exposing the interview session endpoints used by the UI.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "config.json", "Path to engine configuration")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "Log output format (text or json)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := observability.NewLogger(serveLogFormat, serveLogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := buildEngine(ctx, serveConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer func() { _ = e.transport.Close() }()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	backing, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer backing.Close()

	go e.sessions.RunSweeper(ctx, time.Minute)

	srv := server.New(server.Config{
		Port:       servePort,
		Sessions:   e.sessions,
		Rubrics:    backing,
		Candidates: backing,
		AutoReply:  e.autoReply,
		Logger:     logger,
	})
	return srv.Run()
}
