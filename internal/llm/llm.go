package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ErrProtocol marks a model response that is neither content nor a tool call.
var ErrProtocol = errors.New("protocol violation")

// ProtocolError reports a chat response the caller cannot act on.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "chat protocol violation: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool declares a function the model may ask the caller to invoke.
// Parameters is a JSON Schema object.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Reply is the outcome of a completion: DirectAnswer or ToolInvocation.
type Reply interface {
	reply()
}

// DirectAnswer is natural-language content from the model.
type DirectAnswer struct {
	Content string
}

// ToolInvocation is a request from the model to call a declared tool.
// Arguments holds the JSON-encoded argument object.
type ToolInvocation struct {
	Name      string
	Arguments string
}

func (DirectAnswer) reply()   {}
func (ToolInvocation) reply() {}

// Client produces completions for a conversation.
type Client interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (Reply, error)
}

// Config selects and configures a chat client.
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// New creates a chat client for the configured provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaChat(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case ProviderOpenAI:
		return NewOpenAIChat(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

type toolWire struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

func wireTools(tools []Tool) []toolWire {
	if len(tools) == 0 {
		return nil
	}
	out := make([]toolWire, len(tools))
	for i, t := range tools {
		out[i] = toolWire{Type: "function", Function: t}
	}
	return out
}

type toolCallWire struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// decodeReply turns a response message into a Reply. A tool call wins over
// content, since some models narrate before calling a tool.
func decodeReply(content string, calls []toolCallWire) (Reply, error) {
	if len(calls) > 0 {
		c := calls[0]
		if c.Function.Name == "" {
			return nil, &ProtocolError{Reason: "tool call without a name"}
		}
		args, err := decodeArguments(c.Function.Arguments)
		if err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("tool call %s: %v", c.Function.Name, err)}
		}
		return ToolInvocation{Name: c.Function.Name, Arguments: args}, nil
	}
	if strings.TrimSpace(content) != "" {
		return DirectAnswer{Content: content}, nil
	}
	return nil, &ProtocolError{Reason: "response has neither content nor a tool call"}
}

// decodeArguments accepts arguments either as a JSON object (Ollama) or as a
// string containing one (OpenAI) and returns the object's JSON text.
func decodeArguments(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "{}", nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		if !json.Valid([]byte(s)) {
			return "", errors.New("arguments are not valid JSON")
		}
		return s, nil
	}
	if !json.Valid(raw) {
		return "", errors.New("arguments are not valid JSON")
	}
	return trimmed, nil
}
