package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/schemas"
)

func testRoute() config.LlmRoute {
	return config.LlmRoute{
		Name:           "test",
		BaseURL:        "http://localhost",
		Endpoint:       "/v1/chat/completions",
		Model:          "test-model",
		TimeoutMs:      5000,
		MaxRetries:     2,
		ResponseFormat: config.FormatJSONObject,
	}
}

func TestGateway_Call_Success(t *testing.T) {
	transport := TransportFunc(func(_ context.Context, _ config.LlmRoute, messages []ChatMessage) (string, error) {
		require.NotEmpty(t, messages)
		assert.Equal(t, RoleSystem, messages[0].Role)
		assert.Contains(t, messages[0].Content, "Reply with a single JSON object")
		return `{"answer":"I led the migration.","tone":"neutral"}`, nil
	})
	gateway := NewGateway(transport, zerolog.Nop())

	var out struct {
		Answer string `json:"answer"`
		Tone   string `json:"tone"`
	}
	err := gateway.Call(context.Background(), "task", schemas.AutoReply, testRoute(), &out)
	require.NoError(t, err)
	assert.Equal(t, "I led the migration.", out.Answer)
}

func TestGateway_Call_StripsCodeFences(t *testing.T) {
	transport := TransportFunc(func(_ context.Context, _ config.LlmRoute, _ []ChatMessage) (string, error) {
		return "```json\n{\"answer\":\"ok\"}\n```", nil
	})
	gateway := NewGateway(transport, zerolog.Nop())

	var out struct {
		Answer string `json:"answer"`
	}
	err := gateway.Call(context.Background(), "task", schemas.AutoReply, testRoute(), &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Answer)
}

func TestGateway_Call_RepairsInvalidOutput(t *testing.T) {
	calls := 0
	transport := TransportFunc(func(_ context.Context, _ config.LlmRoute, messages []ChatMessage) (string, error) {
		calls++
		if calls == 1 {
			return `{"wrong":"shape"}`, nil
		}
		// The repair attempt must carry the failure back to the model.
		last := messages[len(messages)-1]
		assert.Equal(t, RoleSystem, last.Role)
		assert.Contains(t, last.Content, "failed validation")
		return `{"answer":"repaired"}`, nil
	})
	gateway := NewGateway(transport, zerolog.Nop())

	var out struct {
		Answer string `json:"answer"`
	}
	err := gateway.Call(context.Background(), "task", schemas.AutoReply, testRoute(), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "repaired", out.Answer)
}

func TestGateway_Call_ExhaustsRetries_Invalid(t *testing.T) {
	calls := 0
	transport := TransportFunc(func(_ context.Context, _ config.LlmRoute, _ []ChatMessage) (string, error) {
		calls++
		return `{"wrong":"shape"}`, nil
	})
	gateway := NewGateway(transport, zerolog.Nop())

	var out struct{}
	err := gateway.Call(context.Background(), "task", schemas.AutoReply, testRoute(), &out)
	require.Error(t, err)

	var gatewayErr *GatewayError
	require.True(t, errors.As(err, &gatewayErr))
	assert.Equal(t, KindInvalid, gatewayErr.Kind)
	assert.Equal(t, 3, gatewayErr.Attempts)
	assert.Equal(t, 3, calls, "max_retries=2 means three attempts")
}

func TestGateway_Call_TransportFailure(t *testing.T) {
	transport := TransportFunc(func(_ context.Context, _ config.LlmRoute, _ []ChatMessage) (string, error) {
		return "", fmt.Errorf("connection refused")
	})
	gateway := NewGateway(transport, zerolog.Nop())

	var out struct{}
	err := gateway.Call(context.Background(), "task", schemas.AutoReply, testRoute(), &out)
	var gatewayErr *GatewayError
	require.True(t, errors.As(err, &gatewayErr))
	assert.Equal(t, KindTransport, gatewayErr.Kind)
}

func TestGateway_Call_Timeout(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, _ config.LlmRoute, _ []ChatMessage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	gateway := NewGateway(transport, zerolog.Nop())

	route := testRoute()
	route.TimeoutMs = 5
	route.MaxRetries = 0

	var out struct{}
	err := gateway.Call(context.Background(), "task", schemas.AutoReply, route, &out)
	var gatewayErr *GatewayError
	require.True(t, errors.As(err, &gatewayErr))
	assert.Equal(t, KindTimeout, gatewayErr.Kind)
}

func TestGateway_Call_UnknownSchema(t *testing.T) {
	gateway := NewGateway(TransportFunc(func(_ context.Context, _ config.LlmRoute, _ []ChatMessage) (string, error) {
		return "{}", nil
	}), zerolog.Nop())

	var out struct{}
	err := gateway.Call(context.Background(), "task", "nope", testRoute(), &out)
	assert.Error(t, err)
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"padded", "  ```json\n\n{\"a\":1}\n\n```  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}
