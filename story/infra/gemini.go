package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"story-gateway/story/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultUpstreamTimeout = 30 * time.Second
)

// GeminiClient implementa domain.Generator sobre a API generateContent.
//
// Uma chamada por requisição, sem retry: qualquer falha vira *domain.UpstreamError.
type GeminiClient struct {
	baseURL string
	model   string
	client  *http.Client
	tracer  trace.Tracer
}

type GeminiOption func(*GeminiClient)

func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *GeminiClient) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			g.baseURL = u
		}
	}
}

func WithGeminiModel(m string) GeminiOption {
	return func(g *GeminiClient) {
		if m = strings.TrimSpace(m); m != "" {
			g.model = m
		}
	}
}

func WithUpstreamTimeout(d time.Duration) GeminiOption {
	return func(g *GeminiClient) {
		if d > 0 {
			g.client.Timeout = d
		}
	}
}

func NewGeminiClient(opts ...GeminiOption) *GeminiClient {
	g := &GeminiClient{
		baseURL: DefaultGeminiBaseURL,
		model:   DefaultGeminiModel,
		client:  &http.Client{Timeout: DefaultUpstreamTimeout},
		tracer:  otel.Tracer("story-gateway/infra"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prompt é o template fixo enviado ao modelo.
func Prompt(topic string, tier domain.Tier) string {
	return fmt.Sprintf("Write a short story about %q in about %s words.", strings.TrimSpace(topic), tier.WordCount())
}

// Generate implementa domain.Generator.
func (g *GeminiClient) Generate(ctx context.Context, topic string, tier domain.Tier, apiKey string) (json.RawMessage, error) {
	ctx, span := g.tracer.Start(ctx, "story.upstream.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.request.model", g.model),
			attribute.Int("gen_ai.request.max_tokens", tier.MaxOutputTokens()),
		),
	)
	defer span.End()

	payload, err := g.generate(ctx, topic, tier, apiKey)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return payload, nil
}

func (g *GeminiClient) generate(ctx context.Context, topic string, tier domain.Tier, apiKey string) (json.RawMessage, error) {
	body := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: Prompt(topic, tier)}},
		}},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: tier.MaxOutputTokens()},
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.UpstreamError{Message: "marshaling request", Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &domain.UpstreamError{Message: "creating request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &domain.UpstreamError{Message: err.Error(), Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{StatusCode: httpResp.StatusCode, Message: "reading response: " + err.Error(), Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &domain.UpstreamError{
			StatusCode: httpResp.StatusCode,
			Message:    upstreamMessage(httpResp.StatusCode, respBody),
		}
	}

	var result geminiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &domain.UpstreamError{StatusCode: httpResp.StatusCode, Message: "parsing response: " + err.Error(), Err: err}
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, &domain.UpstreamError{StatusCode: httpResp.StatusCode, Message: "no content in response"}
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	out, err := json.Marshal(StoryPayload{
		Story:        sb.String(),
		Model:        g.model,
		FinishReason: result.Candidates[0].FinishReason,
		Usage: StoryUsage{
			PromptTokens: result.UsageMetadata.PromptTokenCount,
			OutputTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  result.UsageMetadata.TotalTokenCount,
		},
	})
	if err != nil {
		return nil, &domain.UpstreamError{Message: "encoding payload", Err: err}
	}
	return out, nil
}

// upstreamMessage extrai error.message do corpo de erro do Gemini; se não
// houver, devolve o corpo cru.
func upstreamMessage(status int, body []byte) string {
	var e geminiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Sprintf("API error (status %d): %s", status, msg)
	}
	return fmt.Sprintf("API error (status %d)", status)
}

// StoryPayload é o objeto JSON guardado no cache e devolvido ao cliente.
type StoryPayload struct {
	Story        string     `json:"story"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finishReason,omitempty"`
	Usage        StoryUsage `json:"usage"`
}

type StoryUsage struct {
	PromptTokens int `json:"promptTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var _ domain.Generator = (*GeminiClient)(nil)
