package agents

import (
	"context"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/prompts"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// PrimerInput carries everything the primer needs to seed project anchors.
type PrimerInput struct {
	JobTitle       string
	JobDescription string
	Profile        types.CandidateProfile
	Competencies   []string
}

// PrimerPlan is the primer agent's schema-enforced payload.
type PrimerPlan struct {
	Projects map[string]string `json:"projects"`
}

// PrimerAgent pre-seeds a concrete project anchor per competency from the
// resume and job description. Called once before the first turn.
type PrimerAgent struct {
	gateway *llm.Gateway
	binding config.RouteBinding
}

// NewPrimerAgent builds the agent from its registry binding.
func NewPrimerAgent(gateway *llm.Gateway, binding config.RouteBinding) *PrimerAgent {
	return &PrimerAgent{gateway: gateway, binding: binding}
}

// Invoke maps each competency to a project anchor. When the resume yields no
// usable anchor the model is instructed to fabricate a realistic hypothetical
// one; empty anchors are dropped so the caller can degrade explicitly.
func (a *PrimerAgent) Invoke(ctx context.Context, in PrimerInput) (map[string]string, error) {
	template := prompts.MustGet("flow.json", "primer")
	task := prompts.Format(template, map[string]string{
		"JobTitle":       in.JobTitle,
		"JobDescription": clampText(in.JobDescription, 900),
		"ResumeSummary":  clampText(in.Profile.ResumeSummary, 900),
		"Highlights":     bulletList(in.Profile.HighlightedExperiences),
		"Competencies":   bulletList(in.Competencies),
	})

	var plan PrimerPlan
	if err := a.gateway.Call(ctx, task, schemas.PrimerPlan, a.binding.Route, &plan); err != nil {
		return nil, err
	}

	anchors := make(map[string]string, len(in.Competencies))
	for _, competency := range in.Competencies {
		for raw, anchor := range plan.Projects {
			if types.NormalizeCriterion(raw) == types.NormalizeCriterion(competency) {
				if cleaned := cleanLine(anchor); cleaned != "" {
					anchors[competency] = cleaned
				}
				break
			}
		}
	}
	return anchors, nil
}

// FallbackAnchor is the degradation anchor used when the primer exhausts its
// retries.
const FallbackAnchor = "Draw on a recent relevant project"
