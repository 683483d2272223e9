package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/interview-orchestrator/internal/types"
)

func TestMemoryStore_Interviews(t *testing.T) {
	s := NewMemoryStore()
	s.PutInterview(InterviewRecord{
		InterviewID: "i-1",
		JobTitle:    "Staff Engineer",
		Rubrics:     []types.Rubric{{Competency: "A"}},
	})

	record, err := s.GetByInterview(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, "Staff Engineer", record.JobTitle)
	require.Len(t, record.Rubrics, 1)

	_, err = s.GetByInterview(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInterviewNotFound)
}

func TestMemoryStore_Candidates(t *testing.T) {
	s := NewMemoryStore()
	s.PutCandidate("c-1", types.CandidateProfile{CandidateName: "Dana"})

	profile, err := s.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana", profile.CandidateName)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCandidateNotFound)
}
