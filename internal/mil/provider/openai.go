package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heavyforge/heavyforge/internal/errs"
	"github.com/heavyforge/heavyforge/internal/mil"
)

const openAIDefaultHost = "https://api.openai.com/v1"

// OpenAI is a Provider backed by the OpenAI chat completions API.
type OpenAI struct {
	apiKey string
	host   string
	client *retryClient
	models []mil.ModelDescriptor
}

// NewOpenAI builds an OpenAI adapter. host defaults to the public API when
// empty, letting tests and self-hosted gateways point elsewhere.
func NewOpenAI(apiKey, host string) *OpenAI {
	if host == "" {
		host = openAIDefaultHost
	}
	return &OpenAI{
		apiKey: apiKey,
		host:   host,
		client: newRetryClient(60*time.Second, 3, 500*time.Millisecond),
		models: []mil.ModelDescriptor{
			{
				ID:       "openai/gpt-4o",
				Provider: "openai",
				ModelID:  "gpt-4o",
				Capabilities: map[mil.Capability]bool{
					mil.CapTextGeneration:   true,
					mil.CapFunctionCalling:  true,
					mil.CapVision:           true,
					mil.CapMultimodal:       true,
					mil.CapStructuredOutput: true,
				},
				ContextWindow:        128000,
				InputCostPerMillion:  2.50,
				OutputCostPerMillion: 10.00,
				QualityScore:         0.88,
				IsMultimodal:         true,
			},
			{
				ID:       "openai/gpt-4o-mini",
				Provider: "openai",
				ModelID:  "gpt-4o-mini",
				Capabilities: map[mil.Capability]bool{
					mil.CapTextGeneration:  true,
					mil.CapFunctionCalling: true,
				},
				ContextWindow:        128000,
				InputCostPerMillion:  0.15,
				OutputCostPerMillion: 0.60,
				QualityScore:         0.72,
			},
			{
				ID:       "openai/o3-mini",
				Provider: "openai",
				ModelID:  "o3-mini",
				Capabilities: map[mil.Capability]bool{
					mil.CapTextGeneration: true,
					mil.CapReasoning:      true,
					mil.CapLongContext:    true,
				},
				ContextWindow:        200000,
				InputCostPerMillion:  1.10,
				OutputCostPerMillion: 4.40,
				QualityScore:         0.90,
				IsReasoning:          true,
			},
		},
	}
}

func (p *OpenAI) Name() string                    { return "openai" }
func (p *OpenAI) Models() []mil.ModelDescriptor    { return p.models }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIChatResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *OpenAI) Generate(ctx context.Context, modelID string, req mil.Request) (mil.Response, error) {
	start := time.Now()

	messages := make([]openAIMessage, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
		}
	} else {
		messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})
	}

	body, err := json.Marshal(openAIChatRequest{
		Model:       modelID,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Internal, err, "openai: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Internal, err, "openai: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Provider, err, "openai: request failed").WithRetriable(true)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Provider, err, "openai: read response")
	}

	if httpResp.StatusCode != http.StatusOK {
		return mil.Response{}, classifyOpenAIStatus(httpResp.StatusCode, raw)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return mil.Response{}, errs.Wrap(errs.Provider, err, "openai: decode response")
	}
	if len(parsed.Choices) == 0 {
		return mil.Response{}, errs.New(errs.Provider, "openai: empty choices")
	}

	content := parsed.Choices[0].Message.Content
	inTok := parsed.Usage.PromptTokens
	outTok := parsed.Usage.CompletionTokens
	if inTok == 0 && outTok == 0 {
		inTok = mil.EstimateTokens(req.Prompt + req.SystemPrompt)
		outTok = mil.EstimateTokens(content)
	}

	return mil.Response{
		Content:      content,
		ModelUsed:    modelID,
		Provider:     "openai",
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      p.CostOf(inTok, outTok, modelID),
		LatencyMS:    float64(time.Since(start).Microseconds()) / 1000.0,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

func classifyOpenAIStatus(status int, raw []byte) error {
	msg := fmt.Sprintf("openai: http %d: %s", status, string(raw))
	switch {
	case status == http.StatusUnauthorized:
		return errs.New(errs.Auth, msg)
	case status == http.StatusForbidden:
		return errs.New(errs.Permission, msg)
	case status == http.StatusTooManyRequests:
		return errs.New(errs.RateLimit, msg).WithRetriable(true)
	case status == http.StatusRequestTimeout:
		return errs.New(errs.Timeout, msg).WithRetriable(true)
	case status >= 500:
		return errs.New(errs.Provider, msg).WithRetriable(true)
	default:
		return errs.New(errs.Provider, msg)
	}
}

func (p *OpenAI) CostOf(inputTokens, outputTokens int, modelID string) float64 {
	for _, d := range p.models {
		if d.ID == modelID || d.ModelID == modelID {
			return float64(inputTokens)/1e6*d.InputCostPerMillion + float64(outputTokens)/1e6*d.OutputCostPerMillion
		}
	}
	return 0
}
