package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var searchTool = Tool{
	Name:        "search_codebase",
	Description: "search",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	},
}

func TestDecodeReply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		calls   string
		want    Reply
		wantErr bool
	}{
		{
			name:    "direct content",
			content: "A for loop repeats a block.",
			want:    DirectAnswer{Content: "A for loop repeats a block."},
		},
		{
			name:  "object arguments",
			calls: `[{"function":{"name":"search_codebase","arguments":{"query":"auth"}}}]`,
			want:  ToolInvocation{Name: "search_codebase", Arguments: `{"query":"auth"}`},
		},
		{
			name:  "string arguments",
			calls: `[{"function":{"name":"search_codebase","arguments":"{\"query\":\"auth\"}"}}]`,
			want:  ToolInvocation{Name: "search_codebase", Arguments: `{"query":"auth"}`},
		},
		{
			name:    "tool call wins over narration",
			content: "Let me look that up.",
			calls:   `[{"function":{"name":"search_codebase","arguments":{"query":"x"}}}]`,
			want:    ToolInvocation{Name: "search_codebase", Arguments: `{"query":"x"}`},
		},
		{
			name:    "empty response",
			content: "  ",
			wantErr: true,
		},
		{
			name:    "malformed string arguments",
			calls:   `[{"function":{"name":"search_codebase","arguments":"{query"}}]`,
			wantErr: true,
		},
		{
			name:    "nameless call",
			calls:   `[{"function":{"arguments":{}}}]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []toolCallWire
			if tt.calls != "" {
				require.NoError(t, json.Unmarshal([]byte(tt.calls), &calls))
			}
			got, err := decodeReply(tt.content, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrProtocol))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOllamaChatToolCall(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"search_codebase","arguments":{"query":"login flow"}}}]}}`))
	}))
	defer server.Close()

	c := NewOllamaChat(server.URL, "qwen3:8b", 0)
	reply, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "how does login work?"}}, []Tool{searchTool})
	require.NoError(t, err)
	assert.Equal(t, ToolInvocation{Name: "search_codebase", Arguments: `{"query":"login flow"}`}, reply)

	assert.Equal(t, "qwen3:8b", got["model"])
	assert.Equal(t, false, got["stream"])
	tools, ok := got["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "search_codebase", fn["name"])
}

func TestOllamaChatWithoutToolsOmitsField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, hasTools := got["tools"]
		assert.False(t, hasTools)
		w.Write([]byte(`{"message":{"role":"assistant","content":"done"}}`))
	}))
	defer server.Close()

	reply, err := NewOllamaChat(server.URL, "m", 0).Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DirectAnswer{Content: "done"}, reply)
}

func TestOllamaChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewOllamaChat(server.URL, "m", 0).Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.False(t, errors.Is(err, ErrProtocol))
}

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"search_codebase","arguments":"{\"query\":\"db\"}"}}]}}]}`))
	}))
	defer server.Close()

	c, err := NewOpenAIChat(server.URL, "sk-test", "", 0)
	require.NoError(t, err)
	reply, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, []Tool{searchTool})
	require.NoError(t, err)
	assert.Equal(t, ToolInvocation{Name: "search_codebase", Arguments: `{"query":"db"}`}, reply)
}

func TestOpenAIChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c, err := NewOpenAIChat(server.URL, "k", "m", 0)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestNew(t *testing.T) {
	c, err := New(Config{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "qwen3:8b"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaChat{}, c)

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err, "missing key")

	_, err = New(Config{Provider: "bard"})
	assert.Error(t, err)
}
