package flow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/flow"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// script serves canned responses per route name. A queue's last entry is
// sticky; failures are injected per route and consumed first.
type script struct {
	mu        sync.Mutex
	responses map[string][]string
	failures  map[string]int
}

func newScript() *script {
	return &script{
		responses: make(map[string][]string),
		failures:  make(map[string]int),
	}
}

func (s *script) push(route string, responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[route] = append(s.responses[route], responses...)
}

func (s *script) failNext(route string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = times
}

func (s *script) Chat(_ context.Context, route config.LlmRoute, _ []llm.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[route.Name] > 0 {
		s.failures[route.Name]--
		return "", fmt.Errorf("injected failure for %s", route.Name)
	}
	queue := s.responses[route.Name]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for route %s", route.Name)
	}
	head := queue[0]
	if len(queue) > 1 {
		s.responses[route.Name] = queue[1:]
	}
	return head, nil
}

func binding(name, schema string) config.RouteBinding {
	return config.RouteBinding{
		Route: config.LlmRoute{
			Name:      name,
			BaseURL:   "http://localhost",
			Endpoint:  "/v1/chat/completions",
			Model:     "test",
			TimeoutMs: 5000,
		},
		Schema: schema,
	}
}

func testSettings() config.FlowSettings {
	settings := config.Default()
	settings.WarmupLimit = 1
	settings.FollowUpLimit = 4
	settings.LowScoreStreakLimit = 2
	settings.LowScoreThreshold = 2
	settings.CoverageMinQuestions = 2
	settings.CheckpointIntervalMinutes = 3
	return settings
}

func newTestManager(t *testing.T, script *script, settings config.FlowSettings) *flow.Manager {
	t.Helper()
	gateway := llm.NewGateway(script, zerolog.Nop())
	return flow.NewManager(
		agents.NewPrimerAgent(gateway, binding("primer", schemas.PrimerPlan)),
		agents.NewWarmupAgent(gateway, binding("warmup", schemas.WarmupPlan)),
		agents.NewQuestionerAgent(gateway, binding("questioner", schemas.QuestionPlan)),
		agents.NewEvaluatorAgent(gateway, binding("evaluator", schemas.Evaluation)),
		settings,
		zerolog.Nop(),
	)
}

func anchors() []types.RubricAnchor {
	return []types.RubricAnchor{
		{Level: 1, Text: "l1"}, {Level: 2, Text: "l2"}, {Level: 3, Text: "l3"},
		{Level: 4, Text: "l4"}, {Level: 5, Text: "l5"},
	}
}

func rubricWith(competency string, criteria ...string) types.Rubric {
	rubric := types.Rubric{
		Competency:   competency,
		Band:         "7-10",
		BandNotes:    []string{"note"},
		Evidence:     []string{"e1", "e2", "e3"},
		MinPassScore: 3,
	}
	for _, name := range criteria {
		rubric.Criteria = append(rubric.Criteria, types.RubricCriterion{
			Name: name, Weight: 1, Anchors: anchors(),
		})
	}
	return rubric
}

func startInput(rubrics ...types.Rubric) flow.StartInput {
	return flow.StartInput{
		SessionID:   "s-1",
		InterviewID: "i-1",
		CandidateID: "c-1",
		JobTitle:    "Staff Engineer",
		Persona:     types.DefaultPersona(),
		Profile: types.CandidateProfile{
			CandidateName:          "Dana",
			ResumeSummary:          "Ten years of backend work.",
			HighlightedExperiences: []string{"cross-region migration"},
		},
		Rubrics: rubrics,
	}
}

func primerResponse(projects map[string]string) string {
	raw, _ := json.Marshal(map[string]any{"projects": projects})
	return string(raw)
}

func warmupResponse(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"content": content, "tone": "positive", "reasoning": "r", "follow_up_prompt": "f",
	})
	return string(raw)
}

func questionResponse(content string, targeted ...string) string {
	raw, _ := json.Marshal(map[string]any{
		"content": content, "tone": "neutral", "reasoning": "r",
		"follow_up_prompt": "f", "escalation": "broad", "targeted_criteria": targeted,
	})
	return string(raw)
}

type criterionScore struct {
	name      string
	score     float64
	rationale string
}

func evalResponse(competency string, total float64, filled bool, scores ...criterionScore) string {
	entries := make([]map[string]any, 0, len(scores))
	for _, item := range scores {
		entries = append(entries, map[string]any{
			"criterion": item.name, "score": item.score, "rationale": item.rationale,
		})
	}
	payload := map[string]any{"summary": "running summary"}
	if competency != "" {
		payload["competency_score"] = map[string]any{
			"competency":       competency,
			"total_score":      total,
			"rubric_filled":    filled,
			"criterion_scores": entries,
			"follow_up_needed": false,
		}
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func defaultScript() *script {
	s := newScript()
	s.push("primer", primerResponse(map[string]string{"A": "Anchor A", "B": "Anchor B"}))
	s.push("warmup", warmupResponse("Tell me about a recent project you are proud of."))
	s.push("questioner", questionResponse("Dig into A.", "X"))
	return s
}

func TestStartSession_OpensWithWarmup(t *testing.T) {
	s := defaultScript()
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X", "Y")))
	require.NoError(t, err)

	assert.Equal(t, types.StageWarmup, ic.Stage)
	assert.Equal(t, 1, ic.WarmupCount)
	assert.Equal(t, 1, ic.QuestionsAsked)
	assert.Equal(t, "Anchor A", ic.CompetencyProjects["A"])

	require.NotEmpty(t, ic.Transcript)
	assert.Equal(t, types.SpeakerInterviewer, ic.Transcript[0].Speaker)

	kinds := eventKinds(ic.Events)
	assert.Equal(t, []types.EventType{types.EventStageEntered, types.EventQuestion, types.EventCheckpoint}, kinds)
}

func TestStartSession_PrimerFailureDegradesToPlaceholder(t *testing.T) {
	s := defaultScript()
	s.failNext("primer", 10)
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X")))
	require.NoError(t, err)

	assert.Equal(t, agents.FallbackAnchor, ic.CompetencyProjects["A"])
	assert.True(t, hasEvent(ic.Events, types.EventHint), "degradation is recorded as a hint event")
}

func TestTurn_WarmupAdvancesToCompetency(t *testing.T) {
	s := defaultScript()
	s.push("evaluator", evalResponse("", 0, false))
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X", "Y"), rubricWith("B", "Z")))
	require.NoError(t, err)

	result, err := manager.Turn(context.Background(), ic, "I rebuilt our payments pipeline.")
	require.NoError(t, err)

	assert.Equal(t, types.StageCompetency, ic.Stage)
	assert.Equal(t, "A", ic.Competency)
	assert.Equal(t, 0, ic.CompetencyIndex)
	assert.Equal(t, "Anchor A", ic.ProjectAnchor)
	require.NotNil(t, result.Question)
	assert.Equal(t, "A", result.Question.Competency)
	assert.Equal(t, []string{"X"}, result.Question.TargetedCriteria)
	assert.False(t, result.Completed)
}

func TestTurn_FullCoverageAdvancesCompetency(t *testing.T) {
	s := defaultScript()
	s.push("evaluator",
		evalResponse("", 0, false), // warmup answer
		evalResponse("A", 4, false, criterionScore{"X", 4, "cited concrete rollout"}),
		evalResponse("A", 3.5, true,
			criterionScore{"X", 4, "cited concrete rollout"},
			criterionScore{"Y", 3, "explained monitoring"},
		),
	)
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X", "Y"), rubricWith("B", "Z")))
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic, "warmup answer")
	require.NoError(t, err)
	require.Equal(t, "A", ic.Competency)

	_, err = manager.Turn(context.Background(), ic, "answer covering X")
	require.NoError(t, err)
	assert.Equal(t, "A", ic.Competency, "one of two criteria covered, below min questions")
	assert.Equal(t, []string{"X"}, ic.CompetencyCovered["A"])

	result, err := manager.Turn(context.Background(), ic, "answer covering Y")
	require.NoError(t, err)
	assert.Equal(t, "B", ic.Competency, "full coverage advances to the next competency")
	assert.Equal(t, 1, ic.CompetencyIndex)
	require.NotNil(t, result.Question)
	assert.Equal(t, "B", result.Question.Competency)
}

func TestTurn_LowScoreStreakAdvances(t *testing.T) {
	s := defaultScript()
	s.push("evaluator",
		evalResponse("", 0, false),
		evalResponse("A", 2, false),
		evalResponse("A", 1, false),
	)
	settings := testSettings()
	settings.FollowUpLimit = 10
	manager := newTestManager(t, s, settings)

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X", "Y"), rubricWith("B", "Z")))
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic, "warmup answer")
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic, "weak answer one")
	require.NoError(t, err)
	assert.Equal(t, "A", ic.Competency)
	assert.Equal(t, 1, ic.CompetencyLowScores["A"])

	result, err := manager.Turn(context.Background(), ic, "weak answer two")
	require.NoError(t, err)
	assert.Equal(t, "B", ic.Competency, "streak advances past A with criteria uncovered")
	assert.True(t, hasEvent(result.NewEvents, types.EventHint), "streak advance emits a hint event")
}

func TestTurn_FollowUpLimitAdvances(t *testing.T) {
	s := defaultScript()
	s.push("evaluator", evalResponse("", 0, false))
	// Solid scores that never cover both criteria.
	s.push("evaluator", evalResponse("A", 3, false, criterionScore{"X", 3, "partial evidence"}))
	settings := testSettings()
	settings.FollowUpLimit = 3
	settings.CoverageMinQuestions = 10
	settings.LowScoreStreakLimit = 10
	manager := newTestManager(t, s, settings)

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X", "Y"), rubricWith("B", "Z")))
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic, "warmup answer")
	require.NoError(t, err)

	for turn := 0; turn < 2; turn++ {
		_, err = manager.Turn(context.Background(), ic, "competency answer")
		require.NoError(t, err)
		assert.Equal(t, "A", ic.Competency)
	}

	_, err = manager.Turn(context.Background(), ic, "third competency answer")
	require.NoError(t, err)
	assert.Equal(t, "B", ic.Competency, "follow-up limit reached after the third answered turn")
}

func TestTurn_LastCompetencyGoesToWrapupThenComplete(t *testing.T) {
	s := defaultScript()
	s.push("warmup", warmupResponse("Anything you want to add before we close?"))
	s.push("warmup", warmupResponse("Thanks for the conversation, Dana."))
	s.push("evaluator",
		evalResponse("", 0, false),
		evalResponse("A", 4, true, criterionScore{"X", 4, "strong evidence"}),
		evalResponse("", 0, false),
	)
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X")))
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic, "warmup answer")
	require.NoError(t, err)
	require.Equal(t, types.StageCompetency, ic.Stage)

	result, err := manager.Turn(context.Background(), ic, "answer covering X")
	require.NoError(t, err)
	assert.Equal(t, types.StageWrapup, ic.Stage, "single-criterion competency advances on the first scored answer")
	require.NotNil(t, result.Question)

	result, err = manager.Turn(context.Background(), ic, "nothing else, thanks")
	require.NoError(t, err)
	assert.Equal(t, types.StageComplete, ic.Stage)
	assert.True(t, result.Completed)
	// The closing line is recorded even though no further answer is expected.
	last := ic.Transcript[len(ic.Transcript)-1]
	assert.Equal(t, types.SpeakerInterviewer, last.Speaker)
	assert.Equal(t, "Thanks for the conversation, Dana.", last.Content)
}

func TestTurn_DegradedRubricSkipped(t *testing.T) {
	s := defaultScript()
	s.push("evaluator", evalResponse("", 0, false))
	manager := newTestManager(t, s, testSettings())

	degraded := types.Rubric{Competency: "Empty", Band: "2-3", MinPassScore: 3}
	ic, err := manager.StartSession(context.Background(), startInput(degraded, rubricWith("A", "X")))
	require.NoError(t, err)

	result, err := manager.Turn(context.Background(), ic, "warmup answer")
	require.NoError(t, err)

	assert.Equal(t, "A", ic.Competency, "competency without criteria is skipped")
	assert.Equal(t, 1, ic.CompetencyIndex)
	assert.True(t, hasEvent(result.NewEvents, types.EventHint))
}

func TestTurn_EventIDsMonotonicAndStageNeverRegresses(t *testing.T) {
	s := defaultScript()
	s.push("warmup", warmupResponse("Final thoughts?"), warmupResponse("Goodbye."))
	s.push("evaluator",
		evalResponse("", 0, false),
		evalResponse("A", 4, true, criterionScore{"X", 4, "evidence"}),
		evalResponse("", 0, false),
	)
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X")))
	require.NoError(t, err)

	lastRank := ic.Stage.Rank()
	var lastEventID int64
	for _, event := range ic.Events {
		assert.Greater(t, event.EventID, lastEventID)
		lastEventID = event.EventID
	}

	answers := []string{"warmup answer", "competency answer", "wrapup answer"}
	for _, answer := range answers {
		result, err := manager.Turn(context.Background(), ic, answer)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ic.Stage.Rank(), lastRank, "stage never regresses")
		lastRank = ic.Stage.Rank()
		for _, event := range result.NewEvents {
			assert.Greater(t, event.EventID, lastEventID, "event ids strictly increase")
			lastEventID = event.EventID
		}
		if result.Completed {
			assert.Nil(t, result.Question, "no question once the interview completes")
		}
	}
	assert.Equal(t, types.StageComplete, ic.Stage)
}

func TestTurn_HintEscalationAfterWeakTargetedCriterion(t *testing.T) {
	s := defaultScript()
	s.push("questioner", questionResponse("Let me give you a nudge on X.", "X"))
	s.push("evaluator",
		evalResponse("", 0, false),
		evalResponse("A", 3, false, criterionScore{"X", 1, "vague"}),
	)
	settings := testSettings()
	settings.LowScoreStreakLimit = 10
	manager := newTestManager(t, s, settings)

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X", "Y")))
	require.NoError(t, err)

	_, err = manager.Turn(context.Background(), ic, "warmup answer")
	require.NoError(t, err)

	result, err := manager.Turn(context.Background(), ic, "a vague answer about X")
	require.NoError(t, err)

	question := findLastEvent(result.NewEvents, types.EventQuestion)
	require.NotNil(t, question)
	assert.Equal(t, "hint", question.Payload["escalation"], "weak targeted criterion triggers hint mode")
}

func TestTurn_CompleteSessionRejectsTurns(t *testing.T) {
	s := defaultScript()
	s.push("warmup", warmupResponse("Final thoughts?"), warmupResponse("Goodbye."))
	s.push("evaluator",
		evalResponse("", 0, false),
		evalResponse("A", 4, true, criterionScore{"X", 4, "evidence"}),
		evalResponse("", 0, false),
	)
	manager := newTestManager(t, s, testSettings())

	ic, err := manager.StartSession(context.Background(), startInput(rubricWith("A", "X")))
	require.NoError(t, err)
	for _, answer := range []string{"a", "b", "c"} {
		_, err = manager.Turn(context.Background(), ic, answer)
		require.NoError(t, err)
	}
	require.Equal(t, types.StageComplete, ic.Stage)

	_, err = manager.Turn(context.Background(), ic, "one more")
	assert.Error(t, err)
}

func eventKinds(events []types.Event) []types.EventType {
	kinds := make([]types.EventType, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.EventType)
	}
	return kinds
}

func hasEvent(events []types.Event, kind types.EventType) bool {
	for _, event := range events {
		if event.EventType == kind {
			return true
		}
	}
	return false
}

func findLastEvent(events []types.Event, kind types.EventType) *types.Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == kind {
			return &events[i]
		}
	}
	return nil
}

