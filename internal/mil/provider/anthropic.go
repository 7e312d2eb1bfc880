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

const anthropicDefaultHost = "https://api.anthropic.com/v1"
const anthropicVersion = "2023-06-01"

// Anthropic is a Provider backed by the Anthropic Messages API.
type Anthropic struct {
	apiKey string
	host   string
	client *retryClient
	models []mil.ModelDescriptor
}

func NewAnthropic(apiKey, host string) *Anthropic {
	if host == "" {
		host = anthropicDefaultHost
	}
	return &Anthropic{
		apiKey: apiKey,
		host:   host,
		client: newRetryClient(90*time.Second, 3, 500*time.Millisecond),
		models: []mil.ModelDescriptor{
			{
				ID:       "anthropic/claude-3-5-sonnet",
				Provider: "anthropic",
				ModelID:  "claude-3-5-sonnet-20241022",
				Capabilities: map[mil.Capability]bool{
					mil.CapTextGeneration:   true,
					mil.CapReasoning:        true,
					mil.CapFunctionCalling:  true,
					mil.CapVision:           true,
					mil.CapStructuredOutput: true,
					mil.CapLongContext:      true,
				},
				ContextWindow:        200000,
				InputCostPerMillion:  3.00,
				OutputCostPerMillion: 15.00,
				QualityScore:         0.92,
				IsReasoning:          true,
				IsMultimodal:         true,
			},
			{
				ID:       "anthropic/claude-3-5-haiku",
				Provider: "anthropic",
				ModelID:  "claude-3-5-haiku-20241022",
				Capabilities: map[mil.Capability]bool{
					mil.CapTextGeneration:  true,
					mil.CapFunctionCalling: true,
				},
				ContextWindow:        200000,
				InputCostPerMillion:  0.80,
				OutputCostPerMillion: 4.00,
				QualityScore:         0.78,
			},
		},
	}
}

func (p *Anthropic) Name() string                 { return "anthropic" }
func (p *Anthropic) Models() []mil.ModelDescriptor { return p.models }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *Anthropic) Generate(ctx context.Context, modelID string, req mil.Request) (mil.Response, error) {
	start := time.Now()

	messages := make([]anthropicMessage, 0, len(req.Messages)+1)
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			role := m.Role
			if role == "system" {
				continue
			}
			messages = append(messages, anthropicMessage{Role: role, Content: m.Content})
		}
	} else {
		messages = append(messages, anthropicMessage{Role: "user", Content: req.Prompt})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       modelID,
		Messages:    messages,
		System:      req.SystemPrompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Internal, err, "anthropic: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/messages", bytes.NewReader(body))
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Internal, err, "anthropic: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Provider, err, "anthropic: request failed").WithRetriable(true)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return mil.Response{}, errs.Wrap(errs.Provider, err, "anthropic: read response")
	}

	if httpResp.StatusCode != http.StatusOK {
		return mil.Response{}, classifyAnthropicStatus(httpResp.StatusCode, raw)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return mil.Response{}, errs.Wrap(errs.Provider, err, "anthropic: decode response")
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	inTok := parsed.Usage.InputTokens
	outTok := parsed.Usage.OutputTokens
	if inTok == 0 && outTok == 0 {
		inTok = mil.EstimateTokens(req.Prompt + req.SystemPrompt)
		outTok = mil.EstimateTokens(content)
	}

	return mil.Response{
		Content:      content,
		ModelUsed:    modelID,
		Provider:     "anthropic",
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      p.CostOf(inTok, outTok, modelID),
		LatencyMS:    float64(time.Since(start).Microseconds()) / 1000.0,
		FinishReason: parsed.StopReason,
	}, nil
}

func classifyAnthropicStatus(status int, raw []byte) error {
	msg := fmt.Sprintf("anthropic: http %d: %s", status, string(raw))
	switch {
	case status == http.StatusUnauthorized:
		return errs.New(errs.Auth, msg)
	case status == http.StatusForbidden:
		return errs.New(errs.Permission, msg)
	case status == http.StatusTooManyRequests:
		return errs.New(errs.RateLimit, msg).WithRetriable(true)
	case status == http.StatusRequestTimeout:
		return errs.New(errs.Timeout, msg).WithRetriable(true)
	case status == http.StatusConflict:
		return errs.New(errs.Conflict, msg)
	case status >= 500:
		return errs.New(errs.Provider, msg).WithRetriable(true)
	default:
		return errs.New(errs.Provider, msg)
	}
}

func (p *Anthropic) CostOf(inputTokens, outputTokens int, modelID string) float64 {
	for _, d := range p.models {
		if d.ID == modelID || d.ModelID == modelID {
			return float64(inputTokens)/1e6*d.InputCostPerMillion + float64(outputTokens)/1e6*d.OutputCostPerMillion
		}
	}
	return 0
}
