// Package session owns the live session registry. It is the only shared
// mutable store: entries are keyed by session id, serialized by a
// per-session mutex, and evicted on idle timeout. The flow manager operates
// on a working copy and the registry commits it atomically only on success.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/flow"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// Control errors surfaced to the HTTP boundary.
var (
	ErrSessionUnknown  = errors.New("session unknown")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionComplete = errors.New("session complete")
	ErrDuplicateTurn   = errors.New("duplicate turn request")
)

type entry struct {
	mu            sync.Mutex
	ic            *types.InterviewContext
	lastRequestID string
	completedAt   time.Time
}

// Manager creates, persists, retrieves, and expires live session state
// across turn requests.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	flow    *flow.Manager
	cfg     config.FlowSettings
	logger  zerolog.Logger
	now     func() time.Time
}

// NewManager builds the session registry over a flow manager.
func NewManager(flowManager *flow.Manager, cfg config.FlowSettings, logger zerolog.Logger) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		flow:    flowManager,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// StartInput mirrors flow.StartInput minus the generated session id.
type StartInput struct {
	InterviewID    string
	CandidateID    string
	JobTitle       string
	JobDescription string
	Persona        types.Persona
	Profile        types.CandidateProfile
	Rubrics        []types.Rubric
}

// Start creates a new live session and returns its initial context snapshot.
func (m *Manager) Start(ctx context.Context, in StartInput) (*types.InterviewContext, error) {
	sessionID := uuid.NewString()
	ic, err := m.flow.StartSession(ctx, flow.StartInput{
		SessionID:      sessionID,
		InterviewID:    in.InterviewID,
		CandidateID:    in.CandidateID,
		JobTitle:       in.JobTitle,
		JobDescription: in.JobDescription,
		Persona:        in.Persona,
		Profile:        in.Profile,
		Rubrics:        in.Rubrics,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[sessionID] = &entry{ic: ic}
	m.mu.Unlock()

	m.logger.Info().Str("session", sessionID).Str("interview", in.InterviewID).Msg("session started")
	return snapshot(ic)
}

// Turn applies one candidate answer. The flow runs against a deep working
// copy under the session's write lock; partial mutations made before a
// failure are never persisted.
func (m *Manager) Turn(ctx context.Context, sessionID, answer, requestID string) (*flow.TurnResult, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	if m.expired(e, now) {
		m.evict(sessionID)
		return nil, ErrSessionExpired
	}
	if e.ic.Stage == types.StageComplete {
		return nil, ErrSessionComplete
	}
	if requestID != "" && requestID == e.lastRequestID {
		return nil, ErrDuplicateTurn
	}

	working, err := e.ic.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare working copy: %w", err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.TurnDeadlineMs)*time.Millisecond)
	defer cancel()

	result, err := m.flow.Turn(turnCtx, working, answer)
	if err != nil {
		m.logger.Warn().Str("session", sessionID).Err(err).Msg("turn rolled back")
		return nil, err
	}

	e.ic = result.Context
	e.lastRequestID = requestID
	if result.Completed {
		e.completedAt = m.now()
	}

	// Hand back a detached copy so readers never alias registry state.
	detached, err := snapshot(result.Context)
	if err != nil {
		return nil, err
	}
	result.Context = detached
	return result, nil
}

// Get returns a detached snapshot. It takes the session's lock, so it waits
// for an in-flight turn, and evicts the session if it has expired.
func (m *Manager) Get(sessionID string) (*types.InterviewContext, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.expired(e, m.now()) {
		m.evict(sessionID)
		return nil, ErrSessionExpired
	}
	return snapshot(e.ic)
}

// Sweep evicts idle and grace-expired sessions. Returns the number removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Msg("session sweep")
	}
	return removed
}

// RunSweeper periodically evicts expired sessions until the context ends.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionUnknown
	}
	return e, nil
}

func (m *Manager) evict(sessionID string) {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
}

// expired reports whether an entry passed its idle timeout, or its
// post-completion grace period.
func (m *Manager) expired(e *entry, now time.Time) bool {
	idle := time.Duration(m.cfg.SessionTimeoutMinutes * float64(time.Minute))
	if !e.completedAt.IsZero() {
		grace := time.Duration(m.cfg.CompleteGraceMinutes * float64(time.Minute))
		return now.Sub(e.completedAt) > grace
	}
	return now.Sub(e.ic.LastTouched) > idle
}

func snapshot(ic *types.InterviewContext) (*types.InterviewContext, error) {
	copied, err := ic.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session: %w", err)
	}
	return copied, nil
}
