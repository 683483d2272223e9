package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/interview-orchestrator/internal/types"
)

// PostgresStore serves rubrics and candidate profiles from PostgreSQL. The
// upstream rubric generator writes the rows; this store only reads them.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetByInterview implements RubricStore.
func (s *PostgresStore) GetByInterview(ctx context.Context, interviewID string) (*InterviewRecord, error) {
	record := InterviewRecord{InterviewID: interviewID}
	err := s.pool.QueryRow(ctx,
		`SELECT job_title, COALESCE(job_description, '')
		 FROM interviews WHERE interview_id = $1`,
		interviewID,
	).Scan(&record.JobTitle, &record.JobDescription)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInterviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interview: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT rubric_json FROM competency_rubrics
		 WHERE interview_id = $1 ORDER BY position`,
		interviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load rubrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan rubric row: %w", err)
		}
		var rubric types.Rubric
		if err := json.Unmarshal(raw, &rubric); err != nil {
			return nil, fmt.Errorf("failed to decode rubric: %w", err)
		}
		record.Rubrics = append(record.Rubrics, rubric)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rubric rows: %w", err)
	}
	if len(record.Rubrics) == 0 {
		return nil, ErrInterviewNotFound
	}
	return &record, nil
}

// Get implements CandidateStore.
func (s *PostgresStore) Get(ctx context.Context, candidateID string) (*types.CandidateProfile, error) {
	var profile types.CandidateProfile
	var highlights []byte
	err := s.pool.QueryRow(ctx,
		`SELECT candidate_name, COALESCE(resume_summary, ''), COALESCE(experience_years, ''),
		        COALESCE(highlighted_experiences, '[]'::jsonb)
		 FROM candidates WHERE candidate_id = $1`,
		candidateID,
	).Scan(&profile.CandidateName, &profile.ResumeSummary, &profile.ExperienceYears, &highlights)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate: %w", err)
	}
	if err := json.Unmarshal(highlights, &profile.HighlightedExperiences); err != nil {
		return nil, fmt.Errorf("failed to decode highlighted experiences: %w", err)
	}
	return &profile, nil
}
