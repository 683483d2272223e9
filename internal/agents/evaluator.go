package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/prompts"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// EvaluatorInput is the typed input for the evaluator agent.
type EvaluatorInput struct {
	Stage      types.Stage
	Competency string
	Rubric     *types.Rubric
	Persona    types.Persona
	Profile    types.CandidateProfile
	JobTitle   string
	Prior      types.EvaluatorState
	Transcript []types.Message
	Question   string
	Answer     string
}

// scorePayload is the raw competency score block from the model.
type scorePayload struct {
	Competency      string                 `json:"competency"`
	TotalScore      float64                `json:"total_score"`
	RubricFilled    bool                   `json:"rubric_filled"`
	CriterionScores []types.CriterionScore `json:"criterion_scores"`
	Hints           []string               `json:"hints"`
	FollowUpNeeded  bool                   `json:"follow_up_needed"`
}

// evaluationPlan is the evaluator's schema-enforced payload.
type evaluationPlan struct {
	Summary         string              `json:"summary"`
	AnchorsDelta    map[string][]string `json:"anchors_delta"`
	RubricUpdates   map[string][]string `json:"rubric_updates"`
	CompetencyScore *scorePayload       `json:"competency_score"`
}

// EvaluationResult is the normalized evaluator output the flow manager
// applies to the context.
type EvaluationResult struct {
	Summary       string
	AnchorsDelta  map[string][]string
	RubricUpdates map[string][]string
	Score         *types.CompetencyScore
}

// EvaluatorAgent scores the latest candidate answer against rubric criteria
// and maintains the running summary and anchors.
type EvaluatorAgent struct {
	gateway *llm.Gateway
	binding config.RouteBinding
}

// NewEvaluatorAgent builds the agent from its registry binding.
func NewEvaluatorAgent(gateway *llm.Gateway, binding config.RouteBinding) *EvaluatorAgent {
	return &EvaluatorAgent{gateway: gateway, binding: binding}
}

// Invoke evaluates the latest exchange. The model's output is defended
// against missing criteria, out-of-range scores, and criterion names that do
// not exactly match the rubric (case-insensitive); unmatched names are
// dropped rather than fuzzy-matched so scoring stays auditable.
func (a *EvaluatorAgent) Invoke(ctx context.Context, in EvaluatorInput) (EvaluationResult, error) {
	template := prompts.MustGet("evaluator.json", "evaluate")

	rubricJSON := "(warmup or wrapup stage: no rubric in play)"
	levels := "(no rubric criteria available)"
	minPass := "0"
	if in.Rubric != nil {
		raw, err := json.MarshalIndent(in.Rubric, "", "  ")
		if err != nil {
			return EvaluationResult{}, fmt.Errorf("failed to encode rubric: %w", err)
		}
		rubricJSON = string(raw)
		levels = formatLevels(*in.Rubric, in.Prior)
		minPass = fmt.Sprintf("%.2f", in.Rubric.MinPassScore)
	}

	competency := in.Competency
	if competency == "" {
		competency = "(not set)"
	}
	task := prompts.Format(template, map[string]string{
		"PersonaName":   in.Persona.Name,
		"Stage":         string(in.Stage),
		"Competency":    competency,
		"JobTitle":      in.JobTitle,
		"ResumeSummary": clampText(in.Profile.ResumeSummary, 900),
		"Summary":       summaryOrPlaceholder(in.Prior.Summary),
		"RubricJSON":    rubricJSON,
		"Levels":        levels,
		"ExistingScore": formatExistingScore(in.Prior, in.Competency),
		"Conversation":  formatConversation(in.Transcript),
		"Question":      strings.TrimSpace(in.Question),
		"Answer":        strings.TrimSpace(in.Answer),
		"MinPassScore":  minPass,
	})

	var plan evaluationPlan
	if err := a.gateway.Call(ctx, task, schemas.Evaluation, a.binding.Route, &plan); err != nil {
		return EvaluationResult{}, err
	}

	result := EvaluationResult{
		Summary:       cleanLine(plan.Summary),
		AnchorsDelta:  cleanDeltaMap(plan.AnchorsDelta),
		RubricUpdates: cleanDeltaMap(plan.RubricUpdates),
	}
	if plan.CompetencyScore != nil && in.Stage == types.StageCompetency && in.Rubric != nil {
		score := normalizeScore(*plan.CompetencyScore, *in.Rubric, in.Prior)
		result.Score = &score
	}
	return result, nil
}

// normalizeScore clamps and canonicalizes the raw score payload. Criterion
// scores become integer anchor levels, weights come from the rubric, the
// total is recomputed as the weight-normalized average, and previously
// achieved levels and totals are never lowered.
func normalizeScore(raw scorePayload, rubric types.Rubric, prior types.EvaluatorState) types.CompetencyScore {
	weights := rubric.NormalizedWeights()
	priorScore, hasPrior := prior.Scores[rubric.Competency]
	priorLevels := map[string]int{}
	if hasPrior {
		for name, level := range priorScore.CriterionLevels {
			priorLevels[types.NormalizeCriterion(name)] = level
		}
	}

	incoming := make(map[string]types.CriterionScore, len(raw.CriterionScores))
	for _, item := range raw.CriterionScores {
		if criterion, ok := rubric.CriterionByName(item.Criterion); ok {
			incoming[types.NormalizeCriterion(criterion.Name)] = types.CriterionScore{
				Criterion: criterion.Name,
				Score:     float64(types.ClampLevel(item.Score)),
				Weight:    criterion.Weight,
				Rationale: cleanLine(item.Rationale),
			}
		}
	}

	var scored []types.CriterionScore
	criterionLevels := make(map[string]int, len(rubric.Criteria))
	var weightedSum, weightUsed float64
	for _, criterion := range rubric.Criteria {
		key := types.NormalizeCriterion(criterion.Name)
		level := priorLevels[key]
		entry, fresh := incoming[key]
		if fresh && int(entry.Score) > level {
			level = int(entry.Score)
		}
		if fresh {
			entry.Score = float64(level)
			scored = append(scored, entry)
		}
		if level > 0 {
			criterionLevels[criterion.Name] = level
			weightedSum += float64(level) * weights[criterion.Name]
			weightUsed += weights[criterion.Name]
		}
	}

	total := types.ClampScore(raw.TotalScore)
	if weightUsed > 0 {
		total = types.ClampScore(weightedSum / weightUsed)
	}
	if hasPrior && priorScore.TotalScore > total {
		total = priorScore.TotalScore
	}

	return types.CompetencyScore{
		Competency:      rubric.Competency,
		TotalScore:      total,
		RubricFilled:    raw.RubricFilled && len(criterionLevels) == len(rubric.Criteria),
		CriterionScores: scored,
		CriterionLevels: criterionLevels,
		Hints:           cleanLines(raw.Hints),
		FollowUpNeeded:  raw.FollowUpNeeded,
	}
}

func cleanDeltaMap(delta map[string][]string) map[string][]string {
	if len(delta) == 0 {
		return nil
	}
	cleaned := make(map[string][]string, len(delta))
	for competency, items := range delta {
		if values := dedupe(items); len(values) > 0 {
			cleaned[cleanLine(competency)] = values
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

func summaryOrPlaceholder(summary string) string {
	if trimmed := strings.TrimSpace(summary); trimmed != "" {
		return trimmed
	}
	return "(no summary yet)"
}

func formatLevels(rubric types.Rubric, prior types.EvaluatorState) string {
	priorScore := prior.Scores[rubric.Competency]
	var lines []string
	for _, criterion := range rubric.Criteria {
		level := 0
		for name, value := range priorScore.CriterionLevels {
			if types.NormalizeCriterion(name) == types.NormalizeCriterion(criterion.Name) && value > level {
				level = value
			}
		}
		lines = append(lines, fmt.Sprintf("- %s: level %d", criterion.Name, level))
	}
	if len(lines) == 0 {
		return "(no rubric criteria available)"
	}
	return strings.Join(lines, "\n")
}

func formatExistingScore(prior types.EvaluatorState, competency string) string {
	if score, ok := prior.Scores[competency]; ok {
		return fmt.Sprintf("%.2f / 5.00", score.TotalScore)
	}
	return "No prior competency score recorded."
}
