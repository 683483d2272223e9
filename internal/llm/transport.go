package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jonathan/interview-orchestrator/internal/config"
)

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transport is the only network egress for model calls. The gateway alone
// calls it.
type Transport interface {
	Chat(ctx context.Context, route config.LlmRoute, messages []ChatMessage) (string, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, route config.LlmRoute, messages []ChatMessage) (string, error)

// Chat implements Transport.
func (f TransportFunc) Chat(ctx context.Context, route config.LlmRoute, messages []ChatMessage) (string, error) {
	return f(ctx, route, messages)
}

// Dispatcher routes each call to the transport matching the route's
// provider.
type Dispatcher struct {
	http   *HTTPTransport
	gemini *GeminiTransport
}

// NewDispatcher builds the provider dispatcher. The Gemini transport is
// created only when some route needs it.
func NewDispatcher(ctx context.Context, apiKey string, routes map[string]config.RouteBinding) (*Dispatcher, error) {
	d := &Dispatcher{http: NewHTTPTransport(apiKey)}
	for _, binding := range routes {
		if binding.Route.Provider == config.ProviderGemini {
			gemini, err := NewGeminiTransport(ctx, apiKey)
			if err != nil {
				return nil, err
			}
			d.gemini = gemini
			break
		}
	}
	return d, nil
}

// Chat dispatches on the route's provider.
func (d *Dispatcher) Chat(ctx context.Context, route config.LlmRoute, messages []ChatMessage) (string, error) {
	if route.Provider == config.ProviderGemini {
		if d.gemini == nil {
			return "", fmt.Errorf("gemini transport not configured")
		}
		return d.gemini.Chat(ctx, route, messages)
	}
	return d.http.Chat(ctx, route, messages)
}

// Close releases provider resources.
func (d *Dispatcher) Close() error {
	if d.gemini != nil {
		return d.gemini.Close()
	}
	return nil
}

// HTTPTransport speaks to any OpenAI-compatible chat completions endpoint.
type HTTPTransport struct {
	client *http.Client
	apiKey string
}

// NewHTTPTransport creates a transport using the given API key. The key is
// resolved by the caller from the env var named in configuration.
func NewHTTPTransport(apiKey string) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{},
		apiKey: apiKey,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	TopP           *float64      `json:"top_p,omitempty"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content string `json:"content"`
}

// Chat posts a chat completion request and extracts the reply text.
func (t *HTTPTransport) Chat(ctx context.Context, route config.LlmRoute, messages []ChatMessage) (string, error) {
	payload := chatRequest{
		Model:       route.Model,
		Messages:    messages,
		Temperature: route.Temperature,
		TopP:        route.TopP,
	}
	if route.ResponseFormat != "" {
		payload.ResponseFormat = &formatSpec{Type: route.ResponseFormat}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	url := strings.TrimSuffix(route.BaseURL, "/") + route.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		// Drain without surfacing the provider error body.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("provider payload was not JSON: %w", err)
	}
	return extractContent(decoded)
}

func extractContent(resp chatResponse) (string, error) {
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		return resp.Choices[0].Message.Content, nil
	}
	if resp.Content != "" {
		return resp.Content, nil
	}
	return "", fmt.Errorf("provider response missing content")
}
