package agents

import (
	"context"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/prompts"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// WarmupMode selects between the opening prompt, the wrap-up question, and
// the closing line.
type WarmupMode string

// Warmup agent modes. ModeWrapup asks the single wrap-up question; ModeClosing
// writes the final closer after its answer.
const (
	ModeOpening WarmupMode = "opening"
	ModeWrapup  WarmupMode = "wrapup"
	ModeClosing WarmupMode = "closing"
)

// WarmupInput is the typed input for the warmup agent.
type WarmupInput struct {
	Mode       WarmupMode
	Persona    types.Persona
	Profile    types.CandidateProfile
	JobTitle   string
	Transcript []types.Message
}

// WarmupPlan is the warmup agent's schema-enforced payload.
type WarmupPlan struct {
	Content        string   `json:"content"`
	Tone           string   `json:"tone"`
	Reasoning      string   `json:"reasoning"`
	FollowUpPrompt string   `json:"follow_up_prompt"`
	Notes          []string `json:"notes"`
}

// WarmupOutput is the normalized interviewer message plus its metadata.
type WarmupOutput struct {
	Content        string
	Tone           string
	Reasoning      string
	FollowUpPrompt string
}

// WarmupAgent emits the opening interviewer message that sets tone and
// invites a broad project story. In closing mode it writes the wrap-up line;
// the agent decides the wording, never the flow manager.
type WarmupAgent struct {
	gateway *llm.Gateway
	binding config.RouteBinding
}

// NewWarmupAgent builds the agent from its registry binding.
func NewWarmupAgent(gateway *llm.Gateway, binding config.RouteBinding) *WarmupAgent {
	return &WarmupAgent{gateway: gateway, binding: binding}
}

// Invoke runs the warmup agent in the requested mode.
func (a *WarmupAgent) Invoke(ctx context.Context, in WarmupInput) (WarmupOutput, error) {
	key := "warmup"
	switch in.Mode {
	case ModeWrapup:
		key = "wrapup-question"
	case ModeClosing:
		key = "wrapup-close"
	}
	template := prompts.MustGet("flow.json", key)
	task := prompts.Format(template, map[string]string{
		"PersonaName":   in.Persona.Name,
		"ProbingStyle":  in.Persona.ProbingStyle,
		"HintStyle":     in.Persona.HintStyle,
		"Encouragement": in.Persona.Encouragement,
		"CandidateName": in.Profile.CandidateName,
		"JobTitle":      in.JobTitle,
		"ResumeSummary": clampText(in.Profile.ResumeSummary, 600),
		"Highlights":    bulletList(in.Profile.HighlightedExperiences),
		"Conversation":  formatConversation(in.Transcript),
	})

	var plan WarmupPlan
	if err := a.gateway.Call(ctx, task, schemas.WarmupPlan, a.binding.Route, &plan); err != nil {
		return WarmupOutput{}, err
	}

	return WarmupOutput{
		Content:        cleanLine(plan.Content),
		Tone:           normalizeTone(plan.Tone, "positive"),
		Reasoning:      cleanLine(plan.Reasoning),
		FollowUpPrompt: cleanLine(plan.FollowUpPrompt),
	}, nil
}

// normalizeTone bounds a model-proposed tone to the values the UI renders.
func normalizeTone(tone, fallback string) string {
	switch cleanLine(tone) {
	case "neutral":
		return "neutral"
	case "positive":
		return "positive"
	}
	return fallback
}
