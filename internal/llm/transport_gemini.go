package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/interview-orchestrator/internal/config"
)

// GeminiTransport implements Transport on top of Google Gemini.
type GeminiTransport struct {
	client *genai.Client
}

// NewGeminiTransport creates a Gemini-backed transport.
func NewGeminiTransport(ctx context.Context, apiKey string) (*GeminiTransport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiTransport{client: client}, nil
}

// Chat folds the message list into a single prompt and generates a reply.
func (t *GeminiTransport) Chat(ctx context.Context, route config.LlmRoute, messages []ChatMessage) (string, error) {
	model := t.client.GenerativeModel(route.Model)
	if route.Temperature != nil {
		model.SetTemperature(float32(*route.Temperature))
	}
	if route.TopP != nil {
		model.SetTopP(float32(*route.TopP))
	}
	if route.ResponseFormat == config.FormatJSONObject {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(flattenMessages(messages)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return extractGeminiText(resp)
}

// Close releases resources held by the underlying client.
func (t *GeminiTransport) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

func flattenMessages(messages []ChatMessage) string {
	var sb strings.Builder
	for i, message := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch message.Role {
		case RoleSystem:
			sb.WriteString(message.Content)
		case RoleAssistant:
			sb.WriteString("Assistant: " + message.Content)
		default:
			sb.WriteString(message.Content)
		}
	}
	return sb.String()
}

func extractGeminiText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}
