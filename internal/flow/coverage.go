package flow

import (
	"context"
	"sort"
	"strings"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// nodeUpdateCoverage applies the evaluator's deltas to the working copy:
// anchors, rubric updates, criterion levels, coverage, and the low-score
// streak. It also performs the warmup → competency advance.
func (m *Manager) nodeUpdateCoverage(_ context.Context, p *turnPayload) (string, error) {
	ic := p.ic
	result := p.evaluation
	if result == nil {
		return edgeNext, nil
	}

	if result.Summary != "" {
		ic.Evaluator.Summary = result.Summary
	}
	mergeDelta(&ic.Evaluator.Anchors, result.AnchorsDelta)
	mergeDelta(&ic.Evaluator.RubricUpdates, result.RubricUpdates)

	if result.Score != nil && p.answeredStage == types.StageCompetency {
		m.applyScore(p, *result.Score)
	}

	if p.answeredStage == types.StageWarmup && ic.WarmupCount >= m.settings.WarmupLimit {
		m.enterCompetency(ic, 0)
	}
	return edgeNext, nil
}

// applyScore merges one competency score into the tracking maps and emits
// the evaluator-requested follow_up and hint events.
func (m *Manager) applyScore(p *turnPayload, score types.CompetencyScore) {
	ic := p.ic
	competency := p.answeredCompetency

	levels := ic.CompetencyCriterionLevels[competency]
	if levels == nil {
		levels = map[string]int{}
		ic.CompetencyCriterionLevels[competency] = levels
	}
	for name, level := range score.CriterionLevels {
		if level > levels[name] {
			levels[name] = level
		}
	}

	evidenced := coveredCriteria(score, ic.CompetencyCriteria[competency], p.evaluation.RubricUpdates, competency)
	ic.CompetencyCovered[competency] = mergeCovered(ic.CompetencyCovered[competency], evidenced)

	if existing, ok := ic.Evaluator.Scores[competency]; ok {
		score.Notes = append(existing.Notes, score.Notes...)
	}
	if ic.Evaluator.Scores == nil {
		ic.Evaluator.Scores = map[string]types.CompetencyScore{}
	}
	ic.Evaluator.Scores[competency] = score

	if score.TotalScore <= m.settings.LowScoreThreshold {
		ic.CompetencyLowScores[competency]++
	} else {
		ic.CompetencyLowScores[competency] = 0
	}
	p.lowScoreTriggered = ic.CompetencyLowScores[competency] >= m.settings.LowScoreStreakLimit

	total := len(ic.CompetencyCriteria[competency])
	p.coverageComplete = total > 0 && len(ic.CompetencyCovered[competency]) >= total

	if score.FollowUpNeeded && !score.RubricFilled {
		ic.AppendMessage(types.Message{
			Speaker:    types.SpeakerSystem,
			Content:    "Evaluator suggests a probing follow-up.",
			Competency: competency,
		})
		ic.AppendEvent(types.EventFollowUp, competency, map[string]any{
			"message": "Evaluator suggests a probing follow-up.",
		}, m.now())
	}
	for _, hint := range score.Hints {
		ic.AppendMessage(types.Message{
			Speaker:    types.SpeakerSystem,
			Content:    "Hint: " + hint,
			Competency: competency,
		})
		ic.AppendEvent(types.EventHint, competency, map[string]any{
			"hint": hint,
		}, m.now())
	}
}

// coveredCriteria lists criteria evidenced by this evaluation: scored ≥ 1
// with a non-empty rationale, or explicitly named in the competency's rubric
// updates. Matching is case-insensitive and exact on the criterion name.
func coveredCriteria(score types.CompetencyScore, criteria []string, rubricUpdates map[string][]string, competency string) []string {
	hit := make(map[string]struct{})
	for _, item := range score.CriterionScores {
		if item.Score >= 1 && strings.TrimSpace(item.Rationale) != "" {
			hit[types.NormalizeCriterion(item.Criterion)] = struct{}{}
		}
	}
	var updates []string
	for key, items := range rubricUpdates {
		if types.NormalizeCriterion(key) == types.NormalizeCriterion(competency) {
			updates = items
			break
		}
	}
	for _, update := range updates {
		lowered := strings.ToLower(update)
		for _, name := range criteria {
			if strings.Contains(lowered, types.NormalizeCriterion(name)) {
				hit[types.NormalizeCriterion(name)] = struct{}{}
			}
		}
	}
	var evidenced []string
	for _, name := range criteria {
		if _, ok := hit[types.NormalizeCriterion(name)]; ok {
			evidenced = append(evidenced, name)
		}
	}
	return evidenced
}

// mergeCovered appends newly evidenced criteria, deduplicating
// case-insensitively while preserving insertion order for display.
func mergeCovered(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	merged := append([]string(nil), existing...)
	for _, name := range existing {
		seen[types.NormalizeCriterion(name)] = struct{}{}
	}
	for _, name := range incoming {
		key := types.NormalizeCriterion(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, name)
	}
	return merged
}

// shouldAdvance evaluates the competency advance predicates: full coverage,
// mostly covered with enough questions asked, follow-up limit, or low-score
// streak.
func (m *Manager) shouldAdvance(p *turnPayload) bool {
	ic := p.ic
	competency := p.answeredCompetency
	total := len(ic.CompetencyCriteria[competency])
	covered := len(ic.CompetencyCovered[competency])
	asked := ic.CompetencyQuestionCounts[competency]

	switch {
	case p.coverageComplete || (total > 0 && covered >= total):
		return true
	case total > 1 && covered >= total-1 && asked >= m.settings.CoverageMinQuestions:
		return true
	case asked >= m.settings.FollowUpLimit:
		return true
	case p.lowScoreTriggered:
		return true
	}
	return false
}

// advanceCompetency moves past the active competency.
func (m *Manager) advanceCompetency(ic *types.InterviewContext) {
	m.enterCompetency(ic, ic.CompetencyIndex+1)
}

// enterCompetency activates the competency at index, skipping past any whose
// rubric has no usable criteria (recorded as a hint event rather than
// failing the session). Past the last competency the stage becomes wrapup.
func (m *Manager) enterCompetency(ic *types.InterviewContext, index int) {
	for index < len(ic.CompetencyOrder) {
		competency := ic.CompetencyOrder[index]
		if len(ic.CompetencyCriteria[competency]) == 0 {
			ic.AppendEvent(types.EventHint, competency, map[string]any{
				"message": "Rubric has no usable criteria for " + competency + "; skipping.",
			}, m.now())
			index++
			continue
		}
		ic.CompetencyIndex = index
		ic.Competency = competency
		ic.ProjectAnchor = ic.CompetencyProjects[competency]
		ic.TargetedCriteria = nil
		if ic.Stage != types.StageCompetency {
			m.enterStage(ic, types.StageCompetency)
		} else {
			ic.AppendEvent(types.EventStageEntered, competency, nil, m.now())
		}
		if _, ok := ic.CompetencyQuestionCounts[competency]; !ok {
			ic.CompetencyQuestionCounts[competency] = 0
		}
		if _, ok := ic.CompetencyLowScores[competency]; !ok {
			ic.CompetencyLowScores[competency] = 0
		}
		return
	}
	ic.CompetencyIndex = len(ic.CompetencyOrder)
	ic.Competency = ""
	ic.ProjectAnchor = ""
	ic.TargetedCriteria = nil
	m.enterStage(ic, types.StageWrapup)
}

// prioritizeRemaining orders the not-yet-covered criteria by lowest observed
// level, ties broken by rubric order.
func prioritizeRemaining(ic *types.InterviewContext, competency string) []string {
	remaining := ic.RemainingCriteria(competency)
	levels := ic.CompetencyCriterionLevels[competency]
	sort.SliceStable(remaining, func(i, j int) bool {
		return levels[remaining[i]] < levels[remaining[j]]
	})
	return remaining
}

// chooseEscalation picks the rhetorical mode for the next prompt. The first
// prompt for a competency is broad; later prompts cycle why → how →
// challenge → edge, with hint inserted when a targeted criterion last scored
// at or below the hint threshold.
func (m *Manager) chooseEscalation(ic *types.InterviewContext, competency string, questionIndex int) agents.Escalation {
	if questionIndex == 0 {
		return agents.EscalationBroad
	}
	levels := ic.CompetencyCriterionLevels[competency]
	for _, name := range ic.TargetedCriteria {
		if level, ok := levels[name]; ok && level > 0 && level <= hintLevelThreshold {
			return agents.EscalationHint
		}
	}
	cycle := []agents.Escalation{
		agents.EscalationWhy,
		agents.EscalationHow,
		agents.EscalationChallenge,
		agents.EscalationEdge,
	}
	return cycle[(questionIndex-1)%len(cycle)]
}

// hintLevelThreshold is the targeted-criterion level at or below which the
// questioner shifts into hint mode.
const hintLevelThreshold = 2

// mergeDelta appends incoming bullet lists per competency, deduplicating
// case-insensitively.
func mergeDelta(target *map[string][]string, delta map[string][]string) {
	if len(delta) == 0 {
		return
	}
	if *target == nil {
		*target = map[string][]string{}
	}
	for competency, items := range delta {
		merged := mergeCovered((*target)[competency], items)
		(*target)[competency] = merged
	}
}
