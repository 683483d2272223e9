// Package agents implements the collaborating interview agents: competency
// primer, warmup, competency questioner, evaluator, and candidate auto-reply.
// Agents share no base type; each is a function from typed input to typed
// output that composes a prompt template, the gateway, and an output schema.
// Agents never mutate interview context — they return structured deltas.
package agents

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/jonathan/interview-orchestrator/internal/types"
)

// Agent registry keys. Route bindings in configuration use these.
const (
	PrimerAgentKey     = "flow_manager.competency_primer"
	WarmupAgentKey     = "flow_manager.warmup_agent"
	QuestionerAgentKey = "flow_manager.competency_agent"
	EvaluatorAgentKey  = "flow_manager.evaluator_agent"
	AutoReplyAgentKey  = "candidate_agent.auto_reply"
)

// cleanLine normalizes whitespace on agent outputs.
func cleanLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// cleanLines normalizes and drops empty entries, preserving order.
func cleanLines(items []string) []string {
	return lo.Filter(lo.Map(items, func(item string, _ int) string {
		return cleanLine(item)
	}), func(item string, _ int) bool {
		return item != ""
	})
}

// dedupe removes duplicates case-insensitively while preserving order.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var result []string
	for _, item := range items {
		text := cleanLine(item)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, text)
	}
	return result
}

// clampText bounds lengthy free text for prompt hygiene.
func clampText(text string, limit int) string {
	compact := cleanLine(text)
	if len(compact) <= limit {
		return compact
	}
	return strings.TrimRight(compact[:limit-1], " ") + "…"
}

// bulletList renders items as a dash list, or a placeholder when empty.
func bulletList(items []string) string {
	cleaned := cleanLines(items)
	if len(cleaned) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(cleaned, "\n- ")
}

// formatConversation renders transcript history for a prompt.
func formatConversation(messages []types.Message) string {
	if len(messages) == 0 {
		return "(none)"
	}
	lines := lo.Map(messages, func(turn types.Message, _ int) string {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			content = "(no content)"
		}
		return fmt.Sprintf("%s: %s", turn.Speaker, content)
	})
	return strings.Join(lines, "\n")
}

// BoundedTranscript trims the transcript to the most recent window messages
// plus the opening warmup exchange, so prompt growth never dominates latency.
func BoundedTranscript(transcript []types.Message, window int) []types.Message {
	if window < 1 {
		window = 1
	}
	if len(transcript) <= window {
		return append([]types.Message(nil), transcript...)
	}
	tail := transcript[len(transcript)-window:]
	// Keep the opening interviewer question and its answer for grounding.
	var opening []types.Message
	for i, message := range transcript {
		if i >= 2 {
			break
		}
		opening = append(opening, message)
	}
	if len(opening) > 0 && len(transcript)-window < len(opening) {
		return append([]types.Message(nil), transcript...)
	}
	return append(append([]types.Message(nil), opening...), tail...)
}
