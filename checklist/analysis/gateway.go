// Package analysis sends rendered checklist reports to a multimodal
// chat-completion backend and returns its textual verdict.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/m3rciful/checklistbot/core/logger"
)

const (
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "gpt-4o"
	// DefaultMaxTokens bounds the response length when Options.MaxTokens is not positive.
	DefaultMaxTokens = 1000

	component = "service.analysis"
)

// ErrNoResult is returned when the backend answers without any usable text.
var ErrNoResult = errors.New("analysis: empty result")

// Options configures the Gateway.
type Options struct {
	APIKey       string
	Organization string
	// BaseURL overrides the OpenAI endpoint, e.g. for a compatible proxy.
	BaseURL   string
	Model     string
	MaxTokens int
	// Timeout bounds a single call; zero means only the caller's context applies.
	Timeout time.Duration
}

// Gateway is a thin adapter over the OpenAI chat completions API.
type Gateway struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// New builds a Gateway from options.
func New(opts Options) *Gateway {
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.OrgID = opts.Organization
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.BaseURL = strings.TrimRight(base, "/")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Gateway{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
		timeout:   opts.Timeout,
	}
}

// Analyze submits the report text with the given image URLs in one request and
// returns the first choice's text. The call is attempted exactly once.
func (g *Gateway) Analyze(ctx context.Context, text string, photoURLs []string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Debug(ctx, component, "analysis.request",
		slog.String("model", g.model),
		slog.Int("max_tokens", g.maxTokens),
		slog.Int("photos", len(photoURLs)),
	)

	resp, err := g.client.CreateChatCompletion(ctx, BuildRequest(g.model, g.maxTokens, text, photoURLs))
	if err != nil {
		logger.Warn(ctx, component, "analysis.fail",
			slog.String("status", "fail"),
			logger.Err(err),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	verdict := firstContent(resp)
	if verdict == "" {
		logger.Warn(ctx, component, "analysis.fail",
			slog.String("status", "fail"),
			slog.String("cause", "empty_result"),
			slog.Int("count", len(resp.Choices)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return "", ErrNoResult
	}

	logger.Info(ctx, component, "analysis.done",
		slog.String("status", "ok"),
		slog.String("model", resp.Model),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return verdict, nil
}

// BuildRequest assembles a single user message holding the report text followed
// by one image part per URL, in the given order.
func BuildRequest(model string, maxTokens int, text string, photoURLs []string) openai.ChatCompletionRequest {
	parts := make([]openai.ChatMessagePart, 0, len(photoURLs)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: text,
	})
	for _, u := range photoURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u},
		})
	}
	return openai.ChatCompletionRequest{ //nolint:exhaustruct // only the fields we send
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	}
}

func firstContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}
