// Package flow owns the interview state machine: stage transitions, coverage
// accounting, and the per-turn orchestration graph that composes the agents.
// Agents never declare stage; transitions are decided here.
package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// Manager composes the agents over a working-copy context. It mutates the
// context it is handed through small, atomic steps; the session manager owns
// persistence and commits the copy only on success.
type Manager struct {
	primer     *agents.PrimerAgent
	warmup     *agents.WarmupAgent
	questioner *agents.QuestionerAgent
	evaluator  *agents.EvaluatorAgent
	settings   config.FlowSettings
	logger     zerolog.Logger
	now        func() time.Time
	graph      *graph
}

// NewManager wires the flow manager from its agents and settings.
func NewManager(
	primer *agents.PrimerAgent,
	warmup *agents.WarmupAgent,
	questioner *agents.QuestionerAgent,
	evaluator *agents.EvaluatorAgent,
	settings config.FlowSettings,
	logger zerolog.Logger,
) *Manager {
	m := &Manager{
		primer:     primer,
		warmup:     warmup,
		questioner: questioner,
		evaluator:  evaluator,
		settings:   settings,
		logger:     logger,
		now:        time.Now,
	}
	m.graph = m.buildGraph()
	return m
}

// WithClock overrides the wall clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// StartInput carries everything needed to construct a session context.
type StartInput struct {
	SessionID      string
	InterviewID    string
	CandidateID    string
	JobTitle       string
	JobDescription string
	Persona        types.Persona
	Profile        types.CandidateProfile
	Rubrics        []types.Rubric
}

// StartSession builds the interview context, seeds project anchors through
// the primer, and emits the opening interviewer message.
func (m *Manager) StartSession(ctx context.Context, in StartInput) (*types.InterviewContext, error) {
	now := m.now()
	ic := &types.InterviewContext{
		SessionID:                 in.SessionID,
		InterviewID:               in.InterviewID,
		CandidateID:               in.CandidateID,
		Stage:                     types.StageWarmup,
		Persona:                   in.Persona,
		Profile:                   in.Profile,
		JobTitle:                  in.JobTitle,
		JobDescription:            in.JobDescription,
		Rubrics:                   make(map[string]types.Rubric, len(in.Rubrics)),
		CompetencyProjects:        make(map[string]string),
		CompetencyCriteria:        make(map[string][]string),
		CompetencyCovered:         make(map[string][]string),
		CompetencyCriterionLevels: make(map[string]map[string]int),
		CompetencyQuestionCounts:  make(map[string]int),
		CompetencyLowScores:       make(map[string]int),
		NextEventID:               1,
		StartedAt:                 now,
		LastTouched:               now,
	}
	for _, rubric := range in.Rubrics {
		ic.Rubrics[rubric.Competency] = rubric
		ic.CompetencyOrder = append(ic.CompetencyOrder, rubric.Competency)
		ic.CompetencyCriteria[rubric.Competency] = rubric.CriterionNames()
		ic.CompetencyCovered[rubric.Competency] = []string{}
		ic.CompetencyCriterionLevels[rubric.Competency] = map[string]int{}
	}
	if len(ic.CompetencyOrder) == 0 {
		return nil, fmt.Errorf("interview %s has no rubrics", in.InterviewID)
	}

	m.seedAnchors(ctx, ic, in)

	ic.AppendEvent(types.EventStageEntered, "", nil, m.now())
	if err := m.askWarmup(ctx, ic, agents.ModeOpening); err != nil {
		return nil, err
	}
	m.checkpoint(ic, true)
	return ic, nil
}

// seedAnchors runs the primer once. On exhausted retries the flow degrades to
// a generic placeholder anchor and records the degradation as a hint event.
func (m *Manager) seedAnchors(ctx context.Context, ic *types.InterviewContext, in StartInput) {
	anchors, err := m.primer.Invoke(ctx, agents.PrimerInput{
		JobTitle:       in.JobTitle,
		JobDescription: in.JobDescription,
		Profile:        in.Profile,
		Competencies:   ic.CompetencyOrder,
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("competency primer degraded to placeholder anchors")
		for _, competency := range ic.CompetencyOrder {
			ic.CompetencyProjects[competency] = agents.FallbackAnchor
		}
		ic.AppendEvent(types.EventHint, "", map[string]any{
			"message": "Project anchors could not be seeded from the resume; using generic placeholders.",
		}, m.now())
		return
	}
	for _, competency := range ic.CompetencyOrder {
		anchor, ok := anchors[competency]
		if !ok || anchor == "" {
			anchor = agents.FallbackAnchor
		}
		ic.CompetencyProjects[competency] = anchor
	}
}

// TurnResult is the flow output for one turn.
type TurnResult struct {
	Context    *types.InterviewContext
	NewEvents  []types.Event
	Question   *types.Message
	Evaluation *agents.EvaluationResult
	Completed  bool
}

// turnPayload carries the working-copy context through the graph nodes.
type turnPayload struct {
	ic                 *types.InterviewContext
	answer             string
	answeredStage      types.Stage
	answeredCompetency string
	evaluation         *agents.EvaluationResult
	coverageComplete   bool
	lowScoreTriggered  bool
	question           *types.Message
	firstEventIndex    int
}

// Turn runs the per-turn graph over the working copy:
// record_answer → evaluate → update_coverage → decide_transition → ask_next.
func (m *Manager) Turn(ctx context.Context, ic *types.InterviewContext, answer string) (*TurnResult, error) {
	if ic.Stage == types.StageComplete {
		return nil, fmt.Errorf("session %s is already complete", ic.SessionID)
	}
	p := &turnPayload{
		ic:                 ic,
		answer:             answer,
		answeredStage:      ic.Stage,
		answeredCompetency: ic.Competency,
		firstEventIndex:    len(ic.Events),
	}
	if err := m.graph.run(ctx, p); err != nil {
		return nil, err
	}
	ic.LastTouched = m.now()
	return &TurnResult{
		Context:    ic,
		NewEvents:  append([]types.Event(nil), ic.Events[p.firstEventIndex:]...),
		Question:   p.question,
		Evaluation: p.evaluation,
		Completed:  ic.Stage == types.StageComplete,
	}, nil
}

func (m *Manager) buildGraph() *graph {
	g := newGraph("record_answer")
	g.addNode("record_answer", m.nodeRecordAnswer)
	g.addNode("evaluate", m.nodeEvaluate)
	g.addNode("update_coverage", m.nodeUpdateCoverage)
	g.addNode("decide_transition", m.nodeDecideTransition)
	g.addNode("ask_next", m.nodeAskNext)
	g.addNode("close_session", m.nodeCloseSession)
	g.addNode("checkpoint", m.nodeCheckpoint)

	g.addEdge("record_answer", edgeNext, "evaluate")
	g.addEdge("evaluate", edgeNext, "update_coverage")
	g.addEdge("update_coverage", edgeNext, "decide_transition")
	g.addEdge("decide_transition", edgeSameCompetency, "ask_next")
	g.addEdge("decide_transition", edgeNextCompetency, "ask_next")
	g.addEdge("decide_transition", edgeWrapup, "ask_next")
	g.addEdge("decide_transition", edgeClosing, "close_session")
	g.addEdge("ask_next", edgeNext, "checkpoint")
	g.addEdge("close_session", edgeNext, "checkpoint")
	g.addEdge("checkpoint", edgeNext, edgeDone)
	return g
}

func (m *Manager) nodeRecordAnswer(_ context.Context, p *turnPayload) (string, error) {
	ic := p.ic
	ic.AppendMessage(types.Message{
		Speaker:    types.SpeakerCandidate,
		Content:    p.answer,
		Competency: p.answeredCompetency,
	})
	ic.AppendEvent(types.EventAnswer, p.answeredCompetency, map[string]any{
		"answer": p.answer,
	}, m.now())
	return edgeNext, nil
}

func (m *Manager) nodeEvaluate(ctx context.Context, p *turnPayload) (string, error) {
	ic := p.ic
	var rubric *types.Rubric
	if p.answeredStage == types.StageCompetency {
		if r, ok := ic.Rubrics[p.answeredCompetency]; ok {
			rubric = &r
		}
	}
	question := lastInterviewerQuestion(ic.Transcript)
	result, err := m.evaluator.Invoke(ctx, agents.EvaluatorInput{
		Stage:      p.answeredStage,
		Competency: p.answeredCompetency,
		Rubric:     rubric,
		Persona:    ic.Persona,
		Profile:    ic.Profile,
		JobTitle:   ic.JobTitle,
		Prior:      ic.Evaluator,
		Transcript: agents.BoundedTranscript(ic.Transcript, m.settings.EvaluatorWindowMessages),
		Question:   question,
		Answer:     p.answer,
	})
	if err != nil {
		return "", err
	}
	p.evaluation = &result
	ic.AppendEvent(types.EventEvaluation, p.answeredCompetency, evaluationPayload(result), m.now())
	return edgeNext, nil
}

func (m *Manager) nodeDecideTransition(_ context.Context, p *turnPayload) (string, error) {
	ic := p.ic

	if p.answeredStage == types.StageWrapup {
		return edgeClosing, nil
	}
	if ic.Stage == types.StageWarmup {
		return edgeSameCompetency, nil
	}
	if p.answeredStage != types.StageCompetency {
		// Fresh entry into the competency stage from warmup.
		return edgeSameCompetency, nil
	}

	if !m.shouldAdvance(p) {
		return edgeSameCompetency, nil
	}
	if p.lowScoreTriggered {
		ic.AppendEvent(types.EventHint, p.answeredCompetency, map[string]any{
			"message": fmt.Sprintf(
				"Moving on from %s after %d consecutive low-scoring answers.",
				p.answeredCompetency, ic.CompetencyLowScores[p.answeredCompetency],
			),
		}, m.now())
	}
	m.advanceCompetency(ic)
	if ic.Stage == types.StageWrapup {
		return edgeWrapup, nil
	}
	return edgeNextCompetency, nil
}

func (m *Manager) nodeAskNext(ctx context.Context, p *turnPayload) (string, error) {
	ic := p.ic
	switch ic.Stage {
	case types.StageWarmup:
		if err := m.askWarmup(ctx, ic, agents.ModeOpening); err != nil {
			return "", err
		}
	case types.StageCompetency:
		if err := m.askCompetency(ctx, p); err != nil {
			return "", err
		}
	case types.StageWrapup:
		if err := m.askWarmup(ctx, ic, agents.ModeWrapup); err != nil {
			return "", err
		}
	case types.StageComplete:
		return edgeNext, nil
	}
	if len(ic.Transcript) > 0 {
		last := ic.Transcript[len(ic.Transcript)-1]
		if last.Speaker == types.SpeakerInterviewer {
			p.question = &last
		}
	}
	return edgeNext, nil
}

// nodeCloseSession emits the closing interviewer line and completes the
// session. The agent decides the wording, never the flow manager.
func (m *Manager) nodeCloseSession(ctx context.Context, p *turnPayload) (string, error) {
	ic := p.ic
	out, err := m.warmup.Invoke(ctx, agents.WarmupInput{
		Mode:       agents.ModeClosing,
		Persona:    ic.Persona,
		Profile:    ic.Profile,
		JobTitle:   ic.JobTitle,
		Transcript: ic.Transcript,
	})
	if err != nil {
		return "", err
	}
	ic.AppendMessage(types.Message{
		Speaker: types.SpeakerInterviewer,
		Content: out.Content,
		Tone:    out.Tone,
	})
	ic.AppendEvent(types.EventQuestion, "", map[string]any{
		"content":   out.Content,
		"reasoning": out.Reasoning,
		"closing":   true,
	}, m.now())
	m.enterStage(ic, types.StageComplete)
	return edgeNext, nil
}

func (m *Manager) nodeCheckpoint(_ context.Context, p *turnPayload) (string, error) {
	m.checkpoint(p.ic, p.ic.Stage == types.StageComplete)
	return edgeNext, nil
}

// askWarmup emits a warmup or wrap-up interviewer message.
func (m *Manager) askWarmup(ctx context.Context, ic *types.InterviewContext, mode agents.WarmupMode) error {
	out, err := m.warmup.Invoke(ctx, agents.WarmupInput{
		Mode:       mode,
		Persona:    ic.Persona,
		Profile:    ic.Profile,
		JobTitle:   ic.JobTitle,
		Transcript: ic.Transcript,
	})
	if err != nil {
		return err
	}
	ic.AppendMessage(types.Message{
		Speaker: types.SpeakerInterviewer,
		Content: out.Content,
		Tone:    out.Tone,
	})
	escalation := string(agents.EscalationBroad)
	ic.AppendEvent(types.EventQuestion, "", map[string]any{
		"content":          out.Content,
		"reasoning":        out.Reasoning,
		"escalation":       escalation,
		"follow_up_prompt": out.FollowUpPrompt,
	}, m.now())
	if mode == agents.ModeOpening {
		ic.WarmupCount++
	}
	ic.QuestionsAsked++
	ic.TargetedCriteria = nil
	return nil
}

// askCompetency emits the next competency question, prioritizing remaining
// criteria by lowest observed level then rubric order.
func (m *Manager) askCompetency(ctx context.Context, p *turnPayload) error {
	ic := p.ic
	competency := ic.Competency
	rubric := ic.Rubrics[competency]
	remaining := prioritizeRemaining(ic, competency)
	questionIndex := ic.CompetencyQuestionCounts[competency]
	escalation := m.chooseEscalation(ic, competency, questionIndex)

	var hints []string
	if score, ok := ic.Evaluator.Scores[competency]; ok {
		hints = score.Hints
	}

	out, err := m.questioner.Invoke(ctx, agents.QuestionerInput{
		Persona:           ic.Persona,
		Profile:           ic.Profile,
		JobTitle:          ic.JobTitle,
		Competency:        competency,
		ProjectAnchor:     ic.ProjectAnchor,
		Rubric:            rubric,
		RemainingCriteria: remaining,
		CriterionLevels:   ic.CompetencyCriterionLevels[competency],
		QuestionIndex:     questionIndex,
		Escalation:        escalation,
		EvaluatorHints:    hints,
		Transcript:        ic.Transcript,
	})
	if err != nil {
		return err
	}

	ic.AppendMessage(types.Message{
		Speaker:          types.SpeakerInterviewer,
		Content:          out.Content,
		Tone:             out.Tone,
		Competency:       competency,
		TargetedCriteria: out.TargetedCriteria,
		ProjectAnchor:    ic.ProjectAnchor,
	})
	ic.AppendEvent(types.EventQuestion, competency, map[string]any{
		"content":           out.Content,
		"reasoning":         out.Reasoning,
		"escalation":        string(out.Escalation),
		"follow_up_prompt":  out.FollowUpPrompt,
		"targeted_criteria": out.TargetedCriteria,
	}, m.now())
	ic.CompetencyQuestionCounts[competency]++
	ic.QuestionsAsked++
	ic.TargetedCriteria = out.TargetedCriteria
	return nil
}

// enterStage moves the stage forward and records the transition. Stages
// never regress; an attempt to do so is ignored.
func (m *Manager) enterStage(ic *types.InterviewContext, stage types.Stage) {
	if stage.Rank() <= ic.Stage.Rank() {
		return
	}
	ic.Stage = stage
	ic.AppendEvent(types.EventStageEntered, ic.Competency, nil, m.now())
}

// checkpoint emits a checkpoint event when the configured interval elapsed,
// or unconditionally when forced.
func (m *Manager) checkpoint(ic *types.InterviewContext, force bool) {
	now := m.now()
	interval := time.Duration(m.settings.CheckpointIntervalMinutes * float64(time.Minute))
	if !force && !ic.LastCheckpoint.IsZero() && now.Sub(ic.LastCheckpoint) < interval {
		return
	}
	scores := make(map[string]any, len(ic.CompetencyOrder))
	for _, competency := range ic.CompetencyOrder {
		if score, ok := ic.Evaluator.Scores[competency]; ok {
			scores[competency] = score.TotalScore
		}
	}
	ic.AppendEvent(types.EventCheckpoint, ic.Competency, map[string]any{
		"checkpoint_id":     uuid.NewString(),
		"competency_scores": scores,
	}, now)
	ic.LastCheckpoint = now
}

func lastInterviewerQuestion(transcript []types.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Speaker == types.SpeakerInterviewer {
			return transcript[i].Content
		}
	}
	return ""
}

func evaluationPayload(result agents.EvaluationResult) map[string]any {
	payload := map[string]any{
		"summary": result.Summary,
	}
	if result.Score != nil {
		payload["competency"] = result.Score.Competency
		payload["total_score"] = result.Score.TotalScore
		payload["rubric_filled"] = result.Score.RubricFilled
	}
	return payload
}
