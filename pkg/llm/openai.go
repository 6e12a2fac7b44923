package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
)

// openaiCompatProvider speaks the OpenAI chat-completions wire format,
// which DeepSeek and MiniMax both expose.
type openaiCompatProvider struct {
	name        string
	baseURL     string
	apiKey      string
	toolSupport bool
	httpClient  *http.Client
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *openaiCompatProvider) Name() string        { return p.name }
func (p *openaiCompatProvider) SupportsTools() bool { return p.toolSupport }

func (p *openaiCompatProvider) Generate(ctx context.Context, input *GenerateInput) (*Completion, error) {
	req := openaiRequest{
		Model:       input.Model,
		MaxTokens:   input.MaxTokens,
		Temperature: input.Temperature,
	}
	for _, msg := range input.Messages {
		out := openaiMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == models.RoleTool {
			out.ToolCallID = msg.ToolCallID
		}
		for _, call := range msg.ToolCalls {
			tc := openaiToolCall{ID: call.ID, Type: "function"}
			tc.Function.Name = call.Name
			tc.Function.Arguments = call.Arguments
			out.ToolCalls = append(out.ToolCalls, tc)
		}
		req.Messages = append(req.Messages, out)
	}
	for _, tool := range input.Tools {
		schema := tool.ParametersSchema
		if schema == "" {
			schema = `{"type":"object"}`
		}
		out := openaiTool{Type: "function"}
		out.Function.Name = tool.Name
		out.Function.Description = tool.Description
		out.Function.Parameters = json.RawMessage(schema)
		req.Tools = append(req.Tools, out)
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "failed to marshal %s request", p.name)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "failed to build %s request", p.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(p.name, resp.StatusCode, body)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, decodeError(p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fault.New(fault.KindModelError, "%s returned no choices", p.name)
	}

	choice := parsed.Choices[0]
	completion := &Completion{
		Content:      choice.Message.Content,
		TokensInput:  parsed.Usage.PromptTokens,
		TokensOutput: parsed.Usage.CompletionTokens,
		StopReason:   choice.FinishReason,
	}
	for _, call := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return completion, nil
}
