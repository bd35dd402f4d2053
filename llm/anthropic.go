package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient implements Client for the Anthropic Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL uses
// the public API.
func NewAnthropicClient(baseURL, apiKey, model string) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicBlock
}

type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock *anthropicBlock `json:"content_block,omitempty"`
	Delta        struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call makes a synchronous Anthropic API call.
func (c *AnthropicClient) Call(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Content []anthropicBlock `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := &Response{}
	for _, b := range out.Content {
		switch b.Type {
		case "text":
			result.Content += b.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Args: b.Input})
		}
	}
	return result, nil
}

// Stream makes a streaming Anthropic API call.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)

	resp, err := c.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var (
		tool *ToolCall
		args strings.Builder
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				tool = &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				args.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					ch <- StreamChunk{Delta: ev.Delta.Text}
				}
			case "input_json_delta":
				args.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if tool != nil {
				tool.Args = decodeArgs(args.String())
				ch <- StreamChunk{ToolCall: tool}
				tool = nil
			}
		case "error":
			if ev.Error != nil {
				return fmt.Errorf("anthropic stream error (%s): %s", ev.Error.Type, ev.Error.Message)
			}
		case "message_stop":
			ch <- StreamChunk{Done: true}
			return nil
		}
	}
	return scanner.Err()
}

func (c *AnthropicClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(c.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, string(data))
	}
	return resp, nil
}

func (c *AnthropicClient) buildRequest(req Request, stream bool) anthropicRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	out := anthropicRequest{
		Model:       model,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out.Messages = append(out.Messages, anthropicMessage{Role: RoleAssistant, Content: m.Content})
				continue
			}
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: RoleAssistant, Content: blocks})
		case RoleTool:
			block := anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			// Consecutive tool results share one user turn.
			if n := len(out.Messages); n > 0 {
				if prev, ok := out.Messages[n-1].Content.([]anthropicBlock); ok && out.Messages[n-1].Role == RoleUser && len(prev) > 0 && prev[0].Type == "tool_result" {
					out.Messages[n-1].Content = append(prev, block)
					continue
				}
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: RoleUser, Content: []anthropicBlock{block}})
		default:
			out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaOrEmpty(t.Parameters),
		})
	}
	return out
}
