package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/steward-ai/steward/pkg/fault"
)

// ollamaProvider speaks the Ollama chat API against a local server.
// Tool definitions are rejected up front; the dispatcher's tool
// execution fallback handles tool-requiring work for ollama agents.
type ollamaProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *ollamaProvider) Name() string        { return p.name }
func (p *ollamaProvider) SupportsTools() bool { return false }

func (p *ollamaProvider) Generate(ctx context.Context, input *GenerateInput) (*Completion, error) {
	if len(input.Tools) > 0 {
		return nil, fault.New(fault.KindValidation, "%s does not support tool use", p.name)
	}

	req := ollamaRequest{Model: input.Model, Stream: false}
	for _, msg := range input.Messages {
		req.Messages = append(req.Messages, ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if input.Temperature != nil {
		req.Options = map[string]any{"temperature": *input.Temperature}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "failed to marshal %s request", p.name)
	}

	url := fmt.Sprintf("%s/api/chat", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "failed to build %s request", p.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, decodeError(p.name, err)
	}

	return &Completion{
		Content:      parsed.Message.Content,
		TokensInput:  parsed.PromptEvalCount,
		TokensOutput: parsed.EvalCount,
		StopReason:   parsed.DoneReason,
	}, nil
}
