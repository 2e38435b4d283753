package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cascadehq/engine/internal/agent"
	"github.com/cascadehq/engine/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// CompatVendor identifies which OpenAI-compatible backend a CompatProvider
// talks to, so vendor-specific quirks (DeepSeek's inline <think> tags, GLM's
// endpoint fallback on exhaustion) can be applied without a second
// implementation of the request/response plumbing.
type CompatVendor string

const (
	VendorDeepSeek CompatVendor = "deepseek"
	VendorGLM      CompatVendor = "glm"
	VendorQwen     CompatVendor = "qwen"
	VendorGeneric  CompatVendor = "openai-compatible"
)

// glmErrorCodeEndpointExhausted is GLM's code for "this endpoint is
// temporarily unavailable, retry against the fallback host".
const glmErrorCodeEndpointExhausted = "1210"

// CompatConfig configures a CompatProvider.
type CompatConfig struct {
	Vendor       CompatVendor
	APIKey       string
	BaseURL      string
	FallbackURL  string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// CompatProvider implements agent.LLMProvider against any OpenAI-compatible
// chat-completions endpoint (DeepSeek, GLM, Qwen, self-hosted gateways).
type CompatProvider struct {
	BaseProvider
	vendor       CompatVendor
	client       *openai.Client
	fallbackURL  string
	apiKey       string
	defaultModel string
}

var _ agent.LLMProvider = (*CompatProvider)(nil)

// NewCompatProvider creates an OpenAI-compatible provider for the given vendor.
func NewCompatProvider(cfg CompatConfig) *CompatProvider {
	vendor := cfg.Vendor
	if vendor == "" {
		vendor = VendorGeneric
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &CompatProvider{
		BaseProvider: NewBaseProvider(string(vendor), cfg.MaxRetries, cfg.RetryDelay),
		vendor:       vendor,
		client:       openai.NewClientWithConfig(clientCfg),
		fallbackURL:  strings.TrimRight(cfg.FallbackURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
	}
}

// Name returns the vendor name.
func (p *CompatProvider) Name() string {
	return string(p.vendor)
}

// Models reports only the configured default, mirroring how a gateway
// fronting several backends exposes one routed model id.
func (p *CompatProvider) Models() []agent.Model {
	if p.defaultModel == "" {
		return nil
	}
	return []agent.Model{{
		ID:          p.defaultModel,
		Name:        p.defaultModel,
		ContextSize: InferContextWindow(p.defaultModel),
	}}
}

// SupportsTools reports tool-calling support for the vendor family.
func (p *CompatProvider) SupportsTools() bool {
	return true
}

// Complete streams a completion, retrying against the vendor's fallback
// endpoint (GLM) and splitting inline reasoning tags (DeepSeek).
func (p *CompatProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError(string(p.vendor), req.Model, errors.New("model is required"))
	}

	chatReq := p.buildRequest(model, req)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil && p.vendor == VendorGLM && p.fallbackURL != "" && isGLMEndpointExhausted(err) {
		fallbackClientCfg := openai.DefaultConfig(p.apiKey)
		fallbackClientCfg.BaseURL = p.fallbackURL
		stream, err = openai.NewClientWithConfig(fallbackClientCfg).CreateChatCompletionStream(ctx, chatReq)
	}
	if err != nil {
		return nil, NewProviderError(string(p.vendor), model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, model, chunks)
	return chunks, nil
}

func (p *CompatProvider) buildRequest(model string, req *agent.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, convertCompatMessage(msg)...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertCompatTools(req.Tools)
	}
	return chatReq
}

func convertCompatMessage(msg agent.CompletionMessage) []openai.ChatCompletionMessage {
	switch msg.Role {
	case "tool":
		out := make([]openai.ChatCompletionMessage, 0, len(msg.ToolResults))
		for _, tr := range msg.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
		return out
	case "assistant":
		oaiMsg := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
				}
			}
		}
		return []openai.ChatCompletionMessage{oaiMsg}
	default:
		return []openai.ChatCompletionMessage{{Role: msg.Role, Content: msg.Content}}
	}
}

func convertCompatTools(tools []agent.Tool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}
	return out
}

func (p *CompatProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, out chan<- *agent.CompletionChunk) {
	defer close(out)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var thinking bool

	for {
		select {
		case <-ctx.Done():
			out <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushCompatToolCalls(toolCalls, out)
				out <- &agent.CompletionChunk{Done: true}
				return
			}
			out <- &agent.CompletionChunk{Error: NewProviderError(string(p.vendor), model, err), Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if p.vendor == VendorDeepSeek {
				for _, piece := range splitDeepSeekThinking(delta.Content, &thinking) {
					out <- piece
				}
			} else {
				out <- &agent.CompletionChunk{Text: delta.Content}
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				current := string(toolCalls[index].Input)
				toolCalls[index].Input = json.RawMessage(current + tc.Function.Arguments)
			}
		}

		if resp.Choices[0].FinishReason == "tool_calls" {
			flushCompatToolCalls(toolCalls, out)
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func flushCompatToolCalls(calls map[int]*models.ToolCall, out chan<- *agent.CompletionChunk) {
	for _, tc := range calls {
		if tc.ID != "" && tc.Name != "" {
			out <- &agent.CompletionChunk{ToolCall: tc}
		}
	}
}

// splitDeepSeekThinking routes DeepSeek's inline <think>...</think> markers
// to Thinking/ThinkingStart/ThinkingEnd chunks and everything else to Text.
func splitDeepSeekThinking(content string, inThinking *bool) []*agent.CompletionChunk {
	var out []*agent.CompletionChunk
	remaining := content
	for remaining != "" {
		if !*inThinking {
			idx := strings.Index(remaining, "<think>")
			if idx < 0 {
				out = append(out, &agent.CompletionChunk{Text: remaining})
				return out
			}
			if idx > 0 {
				out = append(out, &agent.CompletionChunk{Text: remaining[:idx]})
			}
			out = append(out, &agent.CompletionChunk{ThinkingStart: true})
			*inThinking = true
			remaining = remaining[idx+len("<think>"):]
			continue
		}
		idx := strings.Index(remaining, "</think>")
		if idx < 0 {
			out = append(out, &agent.CompletionChunk{Thinking: remaining})
			return out
		}
		if idx > 0 {
			out = append(out, &agent.CompletionChunk{Thinking: remaining[:idx]})
		}
		out = append(out, &agent.CompletionChunk{ThinkingEnd: true})
		*inThinking = false
		remaining = remaining[idx+len("</think>"):]
	}
	return out
}

func isGLMEndpointExhausted(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), glmErrorCodeEndpointExhausted)
}
