package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/flow"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/session"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// scriptedTransport serves canned responses per route name, with injectable
// failures, mirroring the flow package's test harness.
type scriptedTransport struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]int
}

func newTransport() *scriptedTransport {
	return &scriptedTransport{
		responses: make(map[string]string),
		failures:  make(map[string]int),
	}
}

func (s *scriptedTransport) set(route, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[route] = response
}

func (s *scriptedTransport) failNext(route string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = times
}

func (s *scriptedTransport) Chat(_ context.Context, route config.LlmRoute, _ []llm.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[route.Name] > 0 {
		s.failures[route.Name]--
		return "", fmt.Errorf("injected failure for %s", route.Name)
	}
	response, ok := s.responses[route.Name]
	if !ok {
		return "", fmt.Errorf("no scripted response for route %s", route.Name)
	}
	return response, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func binding(name, schema string) config.RouteBinding {
	return config.RouteBinding{
		Route: config.LlmRoute{
			Name:      name,
			BaseURL:   "http://localhost",
			Endpoint:  "/v1/chat/completions",
			Model:     "test",
			TimeoutMs: 5000,
			// No retries so injected failures surface on the first call.
			MaxRetries: 0,
		},
		Schema: schema,
	}
}

func jsonBody(v map[string]any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func newHarness(t *testing.T, settings config.FlowSettings) (*session.Manager, *scriptedTransport, *clock) {
	t.Helper()
	transport := newTransport()
	transport.set("primer", jsonBody(map[string]any{"projects": map[string]string{"A": "Anchor A"}}))
	transport.set("warmup", jsonBody(map[string]any{"content": "Tell me about a project.", "tone": "positive"}))
	transport.set("questioner", jsonBody(map[string]any{
		"content": "How did you handle failure?", "escalation": "broad", "targeted_criteria": []string{"X"},
	}))
	transport.set("evaluator", jsonBody(map[string]any{"summary": "fine so far"}))

	gateway := llm.NewGateway(transport, zerolog.Nop())
	flowManager := flow.NewManager(
		agents.NewPrimerAgent(gateway, binding("primer", schemas.PrimerPlan)),
		agents.NewWarmupAgent(gateway, binding("warmup", schemas.WarmupPlan)),
		agents.NewQuestionerAgent(gateway, binding("questioner", schemas.QuestionPlan)),
		agents.NewEvaluatorAgent(gateway, binding("evaluator", schemas.Evaluation)),
		settings,
		zerolog.Nop(),
	)

	fake := &clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	flowManager.WithClock(fake.Now)
	manager := session.NewManager(flowManager, settings, zerolog.Nop()).WithClock(fake.Now)
	return manager, transport, fake
}

func fiveAnchors() []types.RubricAnchor {
	return []types.RubricAnchor{
		{Level: 1, Text: "l1"}, {Level: 2, Text: "l2"}, {Level: 3, Text: "l3"},
		{Level: 4, Text: "l4"}, {Level: 5, Text: "l5"},
	}
}

func startInput() session.StartInput {
	return session.StartInput{
		InterviewID: "i-1",
		CandidateID: "c-1",
		JobTitle:    "Staff Engineer",
		Persona:     types.DefaultPersona(),
		Profile:     types.CandidateProfile{CandidateName: "Dana", ResumeSummary: "backend work"},
		Rubrics: []types.Rubric{{
			Competency:   "A",
			Band:         "7-10",
			BandNotes:    []string{"note"},
			Criteria:     []types.RubricCriterion{{Name: "X", Weight: 1, Anchors: fiveAnchors()}},
			Evidence:     []string{"e1", "e2", "e3"},
			MinPassScore: 3,
		}},
	}
}

func testSettings() config.FlowSettings {
	settings := config.Default()
	settings.WarmupLimit = 1
	settings.SessionTimeoutMinutes = 30
	return settings
}

func TestManager_StartAndGet(t *testing.T) {
	manager, _, _ := newHarness(t, testSettings())

	ic, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)
	assert.NotEmpty(t, ic.SessionID)
	assert.Equal(t, types.StageWarmup, ic.Stage)

	snapshot, err := manager.Get(ic.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ic.SessionID, snapshot.SessionID)

	// Snapshots are detached; mutating one never touches the registry.
	snapshot.Profile.CandidateName = "changed"
	again, err := manager.Get(ic.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Dana", again.Profile.CandidateName)
}

func TestManager_Get_Unknown(t *testing.T) {
	manager, _, _ := newHarness(t, testSettings())
	_, err := manager.Get("nope")
	assert.ErrorIs(t, err, session.ErrSessionUnknown)
}

func TestManager_Turn_Success(t *testing.T) {
	manager, _, _ := newHarness(t, testSettings())

	ic, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)

	result, err := manager.Turn(context.Background(), ic.SessionID, "my warmup answer", "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.StageCompetency, result.Context.Stage)
	assert.NotEmpty(t, result.NewEvents)

	// New events carry only the ids appended after /start.
	lastStartEvent := ic.Events[len(ic.Events)-1].EventID
	for _, event := range result.NewEvents {
		assert.Greater(t, event.EventID, lastStartEvent)
	}
}

func TestManager_Turn_RollbackOnLLMFailure(t *testing.T) {
	manager, transport, _ := newHarness(t, testSettings())

	ic, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)

	before, err := manager.Get(ic.SessionID)
	require.NoError(t, err)

	transport.failNext("evaluator", 1)
	_, err = manager.Turn(context.Background(), ic.SessionID, "answer", "")
	require.Error(t, err)
	var gatewayErr *llm.GatewayError
	assert.True(t, errors.As(err, &gatewayErr))

	// No ghost events, no duplicated candidate message.
	after, err := manager.Get(ic.SessionID)
	require.NoError(t, err)
	assert.Equal(t, len(before.Events), len(after.Events))
	assert.Equal(t, len(before.Transcript), len(after.Transcript))

	// The same answer then succeeds and lands in the state the failed turn
	// would have produced.
	result, err := manager.Turn(context.Background(), ic.SessionID, "answer", "")
	require.NoError(t, err)
	assert.Equal(t, types.StageCompetency, result.Context.Stage)
	candidates := 0
	for _, message := range result.Context.Transcript {
		if message.Speaker == types.SpeakerCandidate {
			candidates++
		}
	}
	assert.Equal(t, 1, candidates)
}

func TestManager_Turn_DuplicateRequestID(t *testing.T) {
	manager, _, _ := newHarness(t, testSettings())

	ic, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic.SessionID, "answer", "req-1")
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic.SessionID, "answer", "req-1")
	assert.ErrorIs(t, err, session.ErrDuplicateTurn)
}

func TestManager_Turn_IdleExpiry(t *testing.T) {
	settings := testSettings()
	settings.SessionTimeoutMinutes = 0.1
	manager, _, fake := newHarness(t, settings)

	ic, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)

	fake.Advance(time.Minute)
	_, err = manager.Turn(context.Background(), ic.SessionID, "answer", "")
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	// A fresh start succeeds.
	fresh, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)
	assert.NotEqual(t, ic.SessionID, fresh.SessionID)
}

func TestManager_Turn_CompleteRejected(t *testing.T) {
	manager, transport, _ := newHarness(t, testSettings())

	ic, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)

	// Warmup answer moves into competency A.
	_, err = manager.Turn(context.Background(), ic.SessionID, "warmup answer", "")
	require.NoError(t, err)

	// Full coverage on the single criterion, then the wrapup answer closes.
	transport.set("evaluator", jsonBody(map[string]any{
		"summary": "done",
		"competency_score": map[string]any{
			"competency": "A", "total_score": 4, "rubric_filled": true,
			"criterion_scores": []map[string]any{
				{"criterion": "X", "score": 4, "rationale": "evidence"},
			},
		},
	}))
	_, err = manager.Turn(context.Background(), ic.SessionID, "covers X", "")
	require.NoError(t, err)

	transport.set("evaluator", jsonBody(map[string]any{"summary": "closing"}))
	result, err := manager.Turn(context.Background(), ic.SessionID, "nothing to add", "")
	require.NoError(t, err)
	require.True(t, result.Completed)

	// Completed sessions stay readable but reject turns.
	_, err = manager.Get(ic.SessionID)
	require.NoError(t, err)
	_, err = manager.Turn(context.Background(), ic.SessionID, "again", "")
	assert.ErrorIs(t, err, session.ErrSessionComplete)
}

func TestManager_Sweep(t *testing.T) {
	settings := testSettings()
	settings.SessionTimeoutMinutes = 0.1
	manager, _, fake := newHarness(t, settings)

	_, err := manager.Start(context.Background(), startInput())
	require.NoError(t, err)

	assert.Zero(t, manager.Sweep())
	fake.Advance(time.Minute)
	assert.Equal(t, 1, manager.Sweep())
}
