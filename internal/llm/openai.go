package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4"

// OpenAIChat calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIChat struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIChat creates a chat client for an OpenAI-compatible API.
func NewOpenAIChat(baseURL, apiKey, model string, timeout time.Duration) (*OpenAIChat, error) {
	if apiKey == "" {
		return nil, errors.New("openai chat: missing API key")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OpenAIChat{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type openAIChatRequest struct {
	Model    string     `json:"model"`
	Messages []Message  `json:"messages"`
	Tools    []toolWire `json:"tools,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []toolCallWire `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a conversation and returns the first choice as a Reply.
func (c *OpenAIChat) Complete(ctx context.Context, messages []Message, tools []Tool) (Reply, error) {
	body, err := json.Marshal(openAIChatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    wireTools(tools),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai chat returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, &ProtocolError{Reason: "response has no choices"}
	}

	msg := result.Choices[0].Message
	var content string
	if msg.Content != nil {
		content = *msg.Content
	}
	return decodeReply(content, msg.ToolCalls)
}
