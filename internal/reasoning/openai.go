package reasoning

import (
	"context"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-triage/internal/utils"
)

// OpenAIOptions configures the chat-completion backed Service.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIService asks an OpenAI-compatible chat model for a JSON analysis.
type OpenAIService struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIService constructs the reasoning client.
func NewOpenAIService(opts OpenAIOptions, logger *slog.Logger) *OpenAIService {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &OpenAIService{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(opts.Temperature),
		logger:      logger,
	}
}

const systemPrompt = "You are an expert incident analyst. You answer with a single JSON object and nothing else."

// Analyze sends the incident text and the historical pattern summary to the model.
func (s *OpenAIService) Analyze(ctx context.Context, text, contextSummary string) (Analysis, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(text, contextSummary)},
		},
		MaxTokens:      s.maxTokens,
		Temperature:    s.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Analysis{}, utils.KindError(utils.ErrReasoning, "reasoning.Analyze", "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, utils.KindError(utils.ErrReasoning, "reasoning.Analyze", "empty completion", ErrMalformed)
	}

	analysis, err := Parse(resp.Choices[0].Message.Content)
	if err != nil {
		return Analysis{}, utils.KindError(utils.ErrReasoning, "reasoning.Analyze", "unusable completion", err)
	}
	s.logger.Debug("reasoning completed",
		slog.String("model", s.model),
		slog.Int("root_causes", len(analysis.RootCauses)),
		slog.Int("actions", len(analysis.Actions)),
		slog.Int("total_tokens", resp.Usage.TotalTokens))
	return analysis, nil
}

func buildPrompt(text, contextSummary string) string {
	var b strings.Builder
	b.WriteString("Analyze the following incident description together with what is known about historically similar incidents.\n\n")
	b.WriteString("Current incident description:\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\nHistorical similar incidents:\n")
	b.WriteString(strings.TrimSpace(contextSummary))
	b.WriteString(`

Provide:
1. Key patterns and similarities you observe
2. Most likely root causes based on historical data
3. Recommended actions and next steps
4. Confidence level (0-1) in your analysis
5. Suggested assignee or team based on who handled similar incidents

Respond with JSON of the form:
{
  "patterns": ["pattern1", "pattern2"],
  "root_causes": ["cause1", "cause2"],
  "recommendations": ["action1", "action2"],
  "confidence_score": 0.8,
  "suggested_assignee": "person",
  "suggested_group": "group"
}
`)
	return b.String()
}

var _ Service = (*OpenAIService)(nil)

// Model returns the configured chat model.
func (s *OpenAIService) Model() string {
	return s.model
}
