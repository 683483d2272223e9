package agents

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/prompts"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
	"github.com/jonathan/interview-orchestrator/internal/types"
)

// personaLadder maps a requested candidate level to a roleplay persona.
// Lower levels omit detail and trade-offs; higher levels include failure
// modes and metrics.
var personaLadder = map[int]string{
	1: "Level 1 – The Name-Dropper.\n" +
		"Speak in vague buzzwords, cite trendy tools without detail, and avoid explaining trade-offs or edge cases.\n" +
		"Provide superficial answers that stall when pressed on real-world execution.",
	2: "Level 2 – The Practitioner.\n" +
		"Describe tasks you carried out, list tools or steps, but struggle to justify decisions.\n" +
		"Keep solutions tactical and local without highlighting broader implications.",
	3: "Level 3 – The Problem Solver.\n" +
		"Offer grounded solutions for clear problems, justify choices with practical trade-offs, and cover common failure modes.\n" +
		"Sound like a dependable executor following an established plan.",
	4: "Level 4 – The Architect.\n" +
		"Evaluate multiple approaches, explain trade-offs in cost, risk, and lifecycle, and think beyond day-one delivery.\n" +
		"Discuss scalability, monitoring, and long-term evolution of the solution.",
	5: "Level 5 – The Strategist.\n" +
		"Anticipate systemic risks, shape organization-wide direction, and frame answers around resilient, scalable strategies.\n" +
		"Highlight governance, cross-team standards, and business impact.",
}

// AutoReplyInput is the typed input for the candidate auto-reply agent.
type AutoReplyInput struct {
	Question         string
	ResumeSummary    string
	Competency       string
	ProjectAnchor    string
	TargetedCriteria []string
	Transcript       []types.Message
	Level            int
}

// AutoReplyPlan is the auto-reply agent's schema-enforced payload.
type AutoReplyPlan struct {
	Answer string `json:"answer"`
	Tone   string `json:"tone"`
}

// AutoReplyOutput is the normalized simulated candidate message.
type AutoReplyOutput struct {
	Answer string
	Tone   string
	Level  int
}

// AutoReplyAgent produces a candidate response at a requested competence
// level for end-to-end simulation. Used only when the caller requests
// auto-answer.
type AutoReplyAgent struct {
	gateway *llm.Gateway
	binding config.RouteBinding
}

// NewAutoReplyAgent builds the agent from its registry binding.
func NewAutoReplyAgent(gateway *llm.Gateway, binding config.RouteBinding) *AutoReplyAgent {
	return &AutoReplyAgent{gateway: gateway, binding: binding}
}

// Invoke generates the candidate reply. The level is clamped to 1..5.
func (a *AutoReplyAgent) Invoke(ctx context.Context, in AutoReplyInput) (AutoReplyOutput, error) {
	level := in.Level
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}

	competency := in.Competency
	if competency == "" {
		competency = "general competency focus"
	}
	anchor := strings.TrimSpace(in.ProjectAnchor)
	if anchor == "" {
		anchor = "(no shared project anchor)"
	}

	template := prompts.MustGet("candidate.json", "auto-reply")
	task := prompts.Format(template, map[string]string{
		"Persona":       personaLadder[level],
		"ResumeSummary": clampText(in.ResumeSummary, 600),
		"Competency":    competency,
		"ProjectAnchor": anchor,
		"Targeted":      bulletList(in.TargetedCriteria),
		"Conversation":  formatConversation(in.Transcript),
		"Question":      strings.TrimSpace(in.Question),
		"Level":         strconv.Itoa(level),
	})

	var plan AutoReplyPlan
	if err := a.gateway.Call(ctx, task, schemas.AutoReply, a.binding.Route, &plan); err != nil {
		return AutoReplyOutput{}, err
	}
	return AutoReplyOutput{
		Answer: strings.TrimSpace(plan.Answer),
		Tone:   normalizeTone(plan.Tone, "neutral"),
		Level:  level,
	}, nil
}
