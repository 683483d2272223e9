package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage is the interview stage. Stages only advance, never regress.
type Stage string

// Stage constants in advancement order.
const (
	StageWarmup     Stage = "warmup"
	StageCompetency Stage = "competency"
	StageWrapup     Stage = "wrapup"
	StageComplete   Stage = "complete"
)

// Rank returns the stage's position in the advancement order.
func (s Stage) Rank() int {
	switch s {
	case StageWarmup:
		return 0
	case StageCompetency:
		return 1
	case StageWrapup:
		return 2
	case StageComplete:
		return 3
	}
	return -1
}

// InterviewContext is the mutable per-session state. The session manager
// exclusively owns the instance; the flow manager mutates a working copy and
// commits it atomically on success.
type InterviewContext struct {
	SessionID   string `json:"session_id"`
	InterviewID string `json:"interview_id"`
	CandidateID string `json:"candidate_id"`

	Stage   Stage            `json:"stage"`
	Persona Persona          `json:"persona"`
	Profile CandidateProfile `json:"profile"`

	JobTitle       string `json:"job_title"`
	JobDescription string `json:"job_description"`

	Rubrics         map[string]Rubric `json:"rubrics"`
	CompetencyOrder []string          `json:"competency_order"`
	CompetencyIndex int               `json:"competency_index"`
	Competency      string            `json:"competency,omitempty"`

	CompetencyProjects        map[string]string         `json:"competency_projects"`
	CompetencyCriteria        map[string][]string       `json:"competency_criteria"`
	CompetencyCovered         map[string][]string       `json:"competency_covered"`
	CompetencyCriterionLevels map[string]map[string]int `json:"competency_criterion_levels"`
	CompetencyQuestionCounts  map[string]int            `json:"competency_question_counts"`
	CompetencyLowScores       map[string]int            `json:"competency_low_scores"`

	TargetedCriteria []string `json:"targeted_criteria,omitempty"`
	ProjectAnchor    string   `json:"project_anchor,omitempty"`

	WarmupCount    int `json:"warmup_count"`
	QuestionsAsked int `json:"questions_asked"`

	Transcript  []Message `json:"transcript"`
	Events      []Event   `json:"events"`
	NextEventID int64     `json:"next_event_id"`

	Evaluator EvaluatorState `json:"evaluator"`

	StartedAt      time.Time `json:"started_at"`
	LastCheckpoint time.Time `json:"last_checkpoint,omitzero"`
	LastTouched    time.Time `json:"last_touched"`
}

// Clone returns a deep copy of the context via its persisted form. The flow
// manager mutates clones so a failed turn never leaks partial state.
func (c *InterviewContext) Clone() (*InterviewContext, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize context: %w", err)
	}
	var copied InterviewContext
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("failed to deserialize context: %w", err)
	}
	return &copied, nil
}

// AppendEvent records a timeline event with the next monotonic id.
func (c *InterviewContext) AppendEvent(eventType EventType, competency string, payload map[string]any, now time.Time) Event {
	if c.NextEventID < 1 {
		c.NextEventID = 1
	}
	event := Event{
		EventID:    c.NextEventID,
		CreatedAt:  now,
		Stage:      c.Stage,
		Competency: competency,
		EventType:  eventType,
		Payload:    payload,
	}
	c.Events = append(c.Events, event)
	c.NextEventID++
	return event
}

// AppendMessage appends a transcript message.
func (c *InterviewContext) AppendMessage(message Message) {
	c.Transcript = append(c.Transcript, message)
}

// ActiveRubric returns the rubric of the active competency.
func (c *InterviewContext) ActiveRubric() (Rubric, bool) {
	if c.Competency == "" {
		return Rubric{}, false
	}
	rubric, ok := c.Rubrics[c.Competency]
	return rubric, ok
}

// RemainingCriteria lists the competency's criteria not yet covered, in
// rubric order.
func (c *InterviewContext) RemainingCriteria(competency string) []string {
	covered := make(map[string]struct{}, len(c.CompetencyCovered[competency]))
	for _, name := range c.CompetencyCovered[competency] {
		covered[NormalizeCriterion(name)] = struct{}{}
	}
	var remaining []string
	for _, name := range c.CompetencyCriteria[competency] {
		if _, ok := covered[NormalizeCriterion(name)]; !ok {
			remaining = append(remaining, name)
		}
	}
	return remaining
}

// CriterionStatus reports the progress on one rubric criterion.
type CriterionStatus struct {
	Criterion string  `json:"criterion"`
	Weight    float64 `json:"weight"`
	Level     int     `json:"level"`
	Rationale string  `json:"rationale,omitempty"`
	Coverage  string  `json:"coverage"`
}

// CoverageLabel buckets a criterion level into a human-readable progress label.
func CoverageLabel(level int) string {
	switch {
	case level >= 4:
		return "robust"
	case level >= 3:
		return "developing"
	case level > 0:
		return "emerging"
	}
	return "unexplored"
}

// CompetencySnapshot is the per-competency view returned to API callers.
type CompetencySnapshot struct {
	Competency    string            `json:"competency"`
	Active        bool              `json:"active"`
	TotalScore    float64           `json:"total_score"`
	RubricFilled  bool              `json:"rubric_filled"`
	Covered       []string          `json:"covered"`
	Criteria      []CriterionStatus `json:"criteria"`
	QuestionCount int               `json:"question_count"`
	ProjectAnchor string            `json:"project_anchor,omitempty"`
}

// Snapshot builds the full competency snapshot in display order.
func (c *InterviewContext) Snapshot() []CompetencySnapshot {
	snapshots := make([]CompetencySnapshot, 0, len(c.CompetencyOrder))
	for _, competency := range c.CompetencyOrder {
		rubric := c.Rubrics[competency]
		levels := c.CompetencyCriterionLevels[competency]
		rationales := make(map[string]string)
		score, scored := c.Evaluator.Scores[competency]
		if scored {
			for _, item := range score.CriterionScores {
				rationales[NormalizeCriterion(item.Criterion)] = item.Rationale
			}
		}
		statuses := make([]CriterionStatus, 0, len(rubric.Criteria))
		for _, criterion := range rubric.Criteria {
			level := levels[criterion.Name]
			statuses = append(statuses, CriterionStatus{
				Criterion: criterion.Name,
				Weight:    criterion.Weight,
				Level:     level,
				Rationale: rationales[NormalizeCriterion(criterion.Name)],
				Coverage:  CoverageLabel(level),
			})
		}
		snapshots = append(snapshots, CompetencySnapshot{
			Competency:    competency,
			Active:        c.Stage == StageCompetency && c.Competency == competency,
			TotalScore:    score.TotalScore,
			RubricFilled:  score.RubricFilled,
			Covered:       append([]string(nil), c.CompetencyCovered[competency]...),
			Criteria:      statuses,
			QuestionCount: c.CompetencyQuestionCounts[competency],
			ProjectAnchor: c.CompetencyProjects[competency],
		})
	}
	return snapshots
}

// OverallScore is the weighted mean of per-competency total scores over
// competencies with a filled rubric, weighting each competency by its rubric
// weight sum. When no rubric is filled it falls back to the simple mean
// across any competency with a recorded score.
func (c *InterviewContext) OverallScore() float64 {
	var weighted, weightSum float64
	for _, competency := range c.CompetencyOrder {
		score, ok := c.Evaluator.Scores[competency]
		if !ok || !score.RubricFilled {
			continue
		}
		weight := c.Rubrics[competency].WeightSum()
		if weight <= 0 {
			weight = 1
		}
		weighted += score.TotalScore * weight
		weightSum += weight
	}
	if weightSum > 0 {
		return ClampScore(weighted / weightSum)
	}
	var sum float64
	var count int
	for _, competency := range c.CompetencyOrder {
		if score, ok := c.Evaluator.Scores[competency]; ok {
			sum += score.TotalScore
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return ClampScore(sum / float64(count))
}
