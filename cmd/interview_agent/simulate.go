package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/observability"
	"github.com/jonathan/interview-orchestrator/internal/session"
	"github.com/jonathan/interview-orchestrator/internal/store"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

var (
	simConfig    string
	simInterview string
	simCandidate string
	simLevel     int
	simMaxTurns  int
	simLogLevel  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a full interview end-to-end with a simulated candidate",
	Long:  "Run a complete interview locally: the engine asks questions and the candidate auto-reply agent answers at the requested competence level (1-5).",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simConfig, "config", "c", "config.json", "Path to engine configuration")
	simulateCmd.Flags().StringVarP(&simInterview, "interview", "i", "", "Path to interview record JSON (job + rubrics)")
	simulateCmd.Flags().StringVarP(&simCandidate, "candidate", "p", "", "Path to candidate profile JSON")
	simulateCmd.Flags().IntVarP(&simLevel, "level", "l", 3, "Candidate reply depth level (1-5)")
	simulateCmd.Flags().IntVar(&simMaxTurns, "max-turns", 40, "Safety cap on simulated turns")
	simulateCmd.Flags().StringVar(&simLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	_ = simulateCmd.MarkFlagRequired("interview")
	_ = simulateCmd.MarkFlagRequired("candidate")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := observability.NewLogger("text", simLogLevel)
	printer := observability.NewPrinter(os.Stdout)

	ctx := context.Background()
	e, err := buildEngine(ctx, simConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer func() { _ = e.transport.Close() }()
	if e.autoReply == nil {
		return fmt.Errorf("config error: simulate requires a route for %s", agents.AutoReplyAgentKey)
	}

	record, profile, err := loadFixtures(simInterview, simCandidate)
	if err != nil {
		return err
	}

	ic, err := e.sessions.Start(ctx, session.StartInput{
		InterviewID:    record.InterviewID,
		CandidateID:    "simulated",
		JobTitle:       record.JobTitle,
		JobDescription: record.JobDescription,
		Persona:        types.DefaultPersona(),
		Profile:        *profile,
		Rubrics:        record.Rubrics,
	})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	printer.PrintTurn(ic.Transcript[len(ic.Transcript)-1])

	for turn := 0; turn < simMaxTurns; turn++ {
		snapshot, err := e.sessions.Get(ic.SessionID)
		if err != nil {
			return err
		}
		question := lastInterviewer(snapshot.Transcript)
		if question == "" {
			break
		}

		reply, err := e.autoReply.Invoke(ctx, agents.AutoReplyInput{
			Question:         question,
			ResumeSummary:    snapshot.Profile.ResumeSummary,
			Competency:       snapshot.Competency,
			ProjectAnchor:    snapshot.ProjectAnchor,
			TargetedCriteria: snapshot.TargetedCriteria,
			Transcript:       snapshot.Transcript,
			Level:            simLevel,
		})
		if err != nil {
			return fmt.Errorf("auto-reply failed: %w", err)
		}
		printer.PrintTurn(types.Message{Speaker: types.SpeakerCandidate, Content: reply.Answer})

		result, err := e.sessions.Turn(ctx, ic.SessionID, reply.Answer, "")
		if err != nil {
			return fmt.Errorf("turn failed: %w", err)
		}
		if result.Question != nil {
			printer.PrintTurn(*result.Question)
		}
		if result.Completed {
			final := result.Context
			for _, snapshot := range final.Snapshot() {
				printer.PrintCompetency(snapshot)
			}
			printer.PrintFinal(final)
			return nil
		}
	}
	return fmt.Errorf("simulation hit the %d-turn safety cap before completing", simMaxTurns)
}

func loadFixtures(interviewPath, candidatePath string) (*store.InterviewRecord, *types.CandidateProfile, error) {
	rawInterview, err := os.ReadFile(interviewPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read interview file: %w", err)
	}
	var record store.InterviewRecord
	if err := json.Unmarshal(rawInterview, &record); err != nil {
		return nil, nil, fmt.Errorf("failed to parse interview JSON: %w", err)
	}

	rawCandidate, err := os.ReadFile(candidatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read candidate file: %w", err)
	}
	var profile types.CandidateProfile
	if err := json.Unmarshal(rawCandidate, &profile); err != nil {
		return nil, nil, fmt.Errorf("failed to parse candidate JSON: %w", err)
	}
	return &record, &profile, nil
}

func lastInterviewer(transcript []types.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		switch transcript[i].Speaker {
		case types.SpeakerCandidate:
			return ""
		case types.SpeakerInterviewer:
			return transcript[i].Content
		}
	}
	return ""
}
