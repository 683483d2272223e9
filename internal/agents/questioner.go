package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/prompts"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// Escalation is the rhetorical mode of the next interviewer prompt within a
// competency.
type Escalation string

// Escalation modes in cycle order. The first prompt for a new competency is
// broad; subsequent prompts cycle why → how → challenge → edge, and hint may
// be inserted when the last score for a targeted criterion is weak.
const (
	EscalationBroad     Escalation = "broad"
	EscalationWhy       Escalation = "why"
	EscalationHow       Escalation = "how"
	EscalationChallenge Escalation = "challenge"
	EscalationHint      Escalation = "hint"
	EscalationEdge      Escalation = "edge"
)

// QuestionerInput is the typed input for the competency questioner.
type QuestionerInput struct {
	Persona           types.Persona
	Profile           types.CandidateProfile
	JobTitle          string
	Competency        string
	ProjectAnchor     string
	Rubric            types.Rubric
	RemainingCriteria []string
	CriterionLevels   map[string]int
	QuestionIndex     int
	Escalation        Escalation
	EvaluatorHints    []string
	Transcript        []types.Message
}

// QuestionPlan is the questioner's schema-enforced payload.
type QuestionPlan struct {
	Content          string   `json:"content"`
	Tone             string   `json:"tone"`
	Reasoning        string   `json:"reasoning"`
	FollowUpPrompt   string   `json:"follow_up_prompt"`
	Escalation       string   `json:"escalation"`
	TargetedCriteria []string `json:"targeted_criteria"`
}

// QuestionOutput is the normalized next interviewer prompt.
type QuestionOutput struct {
	Content          string
	Tone             string
	Reasoning        string
	FollowUpPrompt   string
	Escalation       Escalation
	TargetedCriteria []string
}

// QuestionerAgent emits the next interviewer prompt bound to the active
// competency, its project anchor, the targeted criteria, and an escalation
// style chosen by the flow manager.
type QuestionerAgent struct {
	gateway *llm.Gateway
	binding config.RouteBinding
}

// NewQuestionerAgent builds the agent from its registry binding.
func NewQuestionerAgent(gateway *llm.Gateway, binding config.RouteBinding) *QuestionerAgent {
	return &QuestionerAgent{gateway: gateway, binding: binding}
}

// Invoke generates the next competency question. Targeted criteria in the
// reply are constrained to the remaining criteria; when the model targets
// nothing usable the remaining list itself is targeted.
func (a *QuestionerAgent) Invoke(ctx context.Context, in QuestionerInput) (QuestionOutput, error) {
	template := prompts.MustGet("flow.json", "competency-question")
	anchor := in.ProjectAnchor
	if strings.TrimSpace(anchor) == "" {
		anchor = "(use a hypothetical if needed)"
	}
	task := prompts.Format(template, map[string]string{
		"PersonaName":       in.Persona.Name,
		"ProbingStyle":      in.Persona.ProbingStyle,
		"HintStyle":         in.Persona.HintStyle,
		"Encouragement":     in.Persona.Encouragement,
		"CandidateName":     in.Profile.CandidateName,
		"JobTitle":          in.JobTitle,
		"Competency":        in.Competency,
		"ProjectAnchor":     anchor,
		"QuestionIndex":     strconv.Itoa(in.QuestionIndex),
		"Escalation":        string(in.Escalation),
		"RemainingCriteria": bulletList(in.RemainingCriteria),
		"RubricGuidance":    formatRubricGuidance(in.Rubric, in.CriterionLevels, in.EvaluatorHints),
		"Conversation":      formatConversation(in.Transcript),
		"InstructionBlock":  instructionBlock(in.QuestionIndex, in.Competency),
	})

	var plan QuestionPlan
	if err := a.gateway.Call(ctx, task, schemas.QuestionPlan, a.binding.Route, &plan); err != nil {
		return QuestionOutput{}, err
	}

	targeted := restrictToRemaining(plan.TargetedCriteria, in.RemainingCriteria)
	if len(targeted) == 0 {
		targeted = append([]string(nil), in.RemainingCriteria...)
	}
	return QuestionOutput{
		Content:          strings.TrimSpace(plan.Content),
		Tone:             normalizeTone(plan.Tone, "neutral"),
		Reasoning:        cleanLine(plan.Reasoning),
		FollowUpPrompt:   cleanLine(plan.FollowUpPrompt),
		Escalation:       in.Escalation,
		TargetedCriteria: targeted,
	}, nil
}

// restrictToRemaining keeps only proposed criteria that match a remaining
// criterion, case-insensitively, returning canonical names in reply order.
func restrictToRemaining(proposed, remaining []string) []string {
	canonical := make(map[string]string, len(remaining))
	for _, name := range remaining {
		canonical[types.NormalizeCriterion(name)] = name
	}
	var targeted []string
	for _, raw := range dedupe(proposed) {
		if name, ok := canonical[types.NormalizeCriterion(raw)]; ok {
			targeted = append(targeted, name)
		}
	}
	return targeted
}

func instructionBlock(questionIndex int, competency string) string {
	intro := "Continue the loop by targeting uncovered rubric criteria. Reference previous answers, avoid repetition, " +
		"and deepen evidence until the rubric can be confidently scored."
	if questionIndex == 0 {
		intro = "Begin this competency by linking a resume experience to the rubric. " +
			"Ask a broad, competency-aligned question that identifies a concrete project or decision the candidate handled."
	}
	return fmt.Sprintf(
		"Competency focus: %s.\nDwell on this competency until its criteria are satisfied or the flow signals closure.\n%s",
		competency, intro,
	)
}

func formatRubricGuidance(rubric types.Rubric, levels map[string]int, hints []string) string {
	var lines []string
	lines = append(lines, fmt.Sprintf(
		"Competency: %s — band %s (min pass score %.2f).",
		rubric.Competency, rubric.Band, rubric.MinPassScore,
	))
	if len(rubric.BandNotes) > 0 {
		lines = append(lines, "Band guidance:")
		for _, note := range rubric.BandNotes {
			lines = append(lines, "  - "+note)
		}
	}
	if len(rubric.RedFlags) > 0 {
		lines = append(lines, "Red flags to watch:")
		for _, flag := range rubric.RedFlags {
			lines = append(lines, "  - "+flag)
		}
	}
	if len(rubric.Evidence) > 0 {
		lines = append(lines, "Evidence expectations:")
		for _, item := range rubric.Evidence {
			lines = append(lines, "  - "+item)
		}
	}
	lines = append(lines, "Criterion focus:")
	for _, criterion := range rubric.Criteria {
		level := levels[criterion.Name]
		lines = append(lines, fmt.Sprintf(
			"  - %s (weight %.2f) — status: %s, last level %d.",
			criterion.Name, criterion.Weight, types.CoverageLabel(level), level,
		))
		lines = append(lines, "    Anchor highlights: "+anchorHighlights(criterion))
	}
	if len(hints) > 0 {
		lines = append(lines, "Hints from evaluator:")
		for _, hint := range hints {
			lines = append(lines, "  - "+hint)
		}
	}
	return strings.Join(lines, "\n")
}

func anchorHighlights(criterion types.RubricCriterion) string {
	var highlights []string
	for _, target := range []struct {
		level int
		label string
	}{{1, "Low"}, {3, "Mid"}, {5, "High"}} {
		if text := criterion.AnchorFor(target.level); text != "" {
			highlights = append(highlights, fmt.Sprintf("%s (level %d): %s", target.label, target.level, text))
		}
	}
	if len(highlights) == 0 {
		return "No anchors provided."
	}
	return strings.Join(highlights, " | ")
}
