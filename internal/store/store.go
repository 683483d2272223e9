// Package store provides the rubric and candidate collaborators the engine
// consumes. Rubrics and candidate profiles are produced before the session
// by upstream tooling; the engine only reads them.
package store

import (
	"context"
	"errors"

	"github.com/jonathan/interview-orchestrator/internal/types"
)

// Not-found errors mapped to 404 at the HTTP boundary.
var (
	ErrInterviewNotFound = errors.New("interview not found")
	ErrCandidateNotFound = errors.New("candidate not found")
)

// InterviewRecord bundles the pre-generated rubrics with the job context
// they were derived from.
type InterviewRecord struct {
	InterviewID    string         `json:"interview_id"`
	JobTitle       string         `json:"job_title"`
	JobDescription string         `json:"job_description"`
	Rubrics        []types.Rubric `json:"rubrics"`
}

// RubricStore serves pre-generated interview rubrics.
type RubricStore interface {
	GetByInterview(ctx context.Context, interviewID string) (*InterviewRecord, error)
}

// CandidateStore serves candidate profiles.
type CandidateStore interface {
	Get(ctx context.Context, candidateID string) (*types.CandidateProfile, error)
}
