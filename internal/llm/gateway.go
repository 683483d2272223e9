// Package llm provides the single ingress for every model call. The gateway
// enforces JSON output against a registered schema, retries with repair
// prompts, and injects per-route configuration.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
)

// Gateway routes agent tasks to the configured transport and validates the
// model's reply against the registered output schema.
type Gateway struct {
	transport Transport
	logger    zerolog.Logger
}

// NewGateway creates a gateway over a transport.
func NewGateway(transport Transport, logger zerolog.Logger) *Gateway {
	return &Gateway{transport: transport, logger: logger}
}

// Call sends the task through the route, parses the reply against the named
// schema, and unmarshals it into out. On parse or validation failure the
// malformed output and the schema are sent back in a repair prompt; retries
// are capped at route.MaxRetries. Timeouts count as retry-eligible failures.
func (g *Gateway) Call(ctx context.Context, task, schemaName string, route config.LlmRoute, out any) error {
	schemaDoc, err := schemas.Get(schemaName)
	if err != nil {
		return err
	}

	messages := []ChatMessage{
		{Role: RoleSystem, Content: schemaHint(schemaDoc)},
		{Role: RoleUser, Content: task},
	}

	attempts := route.MaxRetries + 1
	var lastKind FailureKind
	var lastErr error
	var lastRaw string

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptMessages := messages
		if lastKind == KindInvalid && lastErr != nil {
			attemptMessages = append(append([]ChatMessage(nil), messages...), ChatMessage{
				Role:    RoleSystem,
				Content: repairHint(lastErr, lastRaw, schemaDoc),
			})
		}

		callCtx, cancel := context.WithTimeout(ctx, route.Timeout())
		raw, callErr := g.transport.Chat(callCtx, route, attemptMessages)
		cancel()

		if callErr != nil {
			lastKind = classify(callCtx, callErr)
			lastErr = callErr
			g.logger.Warn().
				Str("route", route.Name).
				Int("attempt", attempt).
				Str("failure", string(lastKind)).
				Msg("llm call failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		cleaned := StripCodeFences(raw)
		if err := schemas.Validate(schemaName, cleaned); err != nil {
			lastKind = KindInvalid
			lastErr = err
			lastRaw = cleaned
			g.logger.Warn().
				Str("route", route.Name).
				Int("attempt", attempt).
				Str("failure", string(KindInvalid)).
				Msg("llm output failed schema validation")
			continue
		}
		if err := json.Unmarshal([]byte(cleaned), out); err != nil {
			lastKind = KindInvalid
			lastErr = fmt.Errorf("failed to decode validated output: %w", err)
			lastRaw = cleaned
			continue
		}

		g.logger.Debug().
			Str("route", route.Name).
			Int("attempt", attempt).
			Msg("llm call done")
		return nil
	}

	return &GatewayError{Route: route.Name, Kind: lastKind, Attempts: attempts, Cause: lastErr}
}

func classify(callCtx context.Context, err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

func schemaHint(schemaDoc string) string {
	return "Reply with a single JSON object matching this schema.\n" + schemaDoc
}

func repairHint(lastErr error, lastRaw, schemaDoc string) string {
	reason := lastErr.Error()
	if idx := strings.IndexByte(reason, '\n'); idx > 0 {
		reason = reason[:idx]
	}
	if len(reason) > 200 {
		reason = reason[:197] + "..."
	}
	return fmt.Sprintf(
		"The previous reply failed validation. Reason: %s.\nPrevious reply:\n%s\nReturn a single JSON object that matches this schema.\n%s",
		reason, lastRaw, schemaDoc,
	)
}

// StripCodeFences removes markdown code block wrappers the model may add
// around JSON.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
