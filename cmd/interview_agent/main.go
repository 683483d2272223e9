// Package main provides the entry point for the interview orchestration engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "interview_agent",
	Short: "AI-driven structured interview engine",
	Long:  "interview_agent runs rubric-driven technical interviews: it probes competencies turn by turn, scores answers against level anchors, and reports a final evaluation via REST API or local simulation.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
