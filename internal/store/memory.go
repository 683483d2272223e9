package store

import (
	"context"
	"sync"

	"github.com/jonathan/interview-orchestrator/internal/types"
)

// MemoryStore is an in-process RubricStore and CandidateStore, used by
// tests.
type MemoryStore struct {
	mu         sync.RWMutex
	interviews map[string]InterviewRecord
	candidates map[string]types.CandidateProfile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interviews: make(map[string]InterviewRecord),
		candidates: make(map[string]types.CandidateProfile),
	}
}

// PutInterview registers an interview record.
func (s *MemoryStore) PutInterview(record InterviewRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interviews[record.InterviewID] = record
}

// PutCandidate registers a candidate profile.
func (s *MemoryStore) PutCandidate(candidateID string, profile types.CandidateProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[candidateID] = profile
}

// GetByInterview implements RubricStore.
func (s *MemoryStore) GetByInterview(_ context.Context, interviewID string) (*InterviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.interviews[interviewID]
	if !ok {
		return nil, ErrInterviewNotFound
	}
	return &record, nil
}

// Get implements CandidateStore.
func (s *MemoryStore) Get(_ context.Context, candidateID string) (*types.CandidateProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.candidates[candidateID]
	if !ok {
		return nil, ErrCandidateNotFound
	}
	return &profile, nil
}
