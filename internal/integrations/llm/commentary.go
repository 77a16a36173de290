// Package llm asks a hosted model for a short written commentary on a trend digest.
package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"qclog/internal/config"
	"qclog/internal/httpx"
	"qclog/internal/logger"
)

const maxDigestChars = 24000

const commentarySystemPrompt = `You review hole-diameter quality data for a machining line.
You receive a markdown digest with one row per part, hole and feature: slope in mm/day,
R squared, delta, trend status and proximity to the spec limits.
Write at most 8 short bullet points for a shift supervisor. Lead with anything out of spec,
then near-limit or rapidly changing features, then a one-line overall summary.
Only use numbers that appear in the digest. Do not invent causes; suggest checks instead.`

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

type Client struct {
	provider     string
	model        string
	anthropicKey string
	openAIKey    string

	openAIURL     string
	anthropicOpts []option.RequestOption
	log           *logger.Logger
}

func New(cfg config.Config, log *logger.Logger) *Client {
	return &Client{
		provider:     cfg.LLMProvider,
		model:        cfg.LLMModel,
		anthropicKey: cfg.AnthropicAPIKey,
		openAIKey:    cfg.OpenAIAPIKey,
		openAIURL:    "https://api.openai.com/v1/chat/completions",
		anthropicOpts: []option.RequestOption{
			option.WithHTTPClient(httpx.ExternalHTTPClient()),
		},
		log: logger.OrNop(log).With("component", "llm"),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && (c.provider == "anthropic" || c.provider == "openai")
}

// Commentary returns the model's bullet-point reading of digest.
func (c *Client) Commentary(ctx context.Context, digest string) (string, Usage, error) {
	if !c.Enabled() {
		return "", Usage{}, fmt.Errorf("llm provider not configured")
	}
	if utf8.RuneCountInString(digest) > maxDigestChars {
		digest = string([]rune(digest)[:maxDigestChars]) + "\n...(truncated)"
	}
	user := "Digest:\n\n" + digest

	var (
		text  string
		usage Usage
		err   error
	)
	switch c.provider {
	case "anthropic":
		text, usage, err = c.callAnthropic(ctx, commentarySystemPrompt, user)
	default:
		text, usage, err = c.callOpenAI(ctx, commentarySystemPrompt, user)
	}
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(text), usage, nil
}

// --- Anthropic ---

func (c *Client) callAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	opts := append([]option.RequestOption{option.WithAPIKey(c.anthropicKey)}, c.anthropicOpts...)
	client := anthropic.NewClient(opts...)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		c.log.Warn("anthropic request failed", "error", err)
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			c.log.Debug("anthropic response", "size", len(block.Text), "tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	var resp openAIResponse
	if err := httpx.PostJSON(ctx, c.openAIURL, map[string]string{"Authorization": "Bearer " + c.openAIKey}, reqBody, &resp); err != nil {
		c.log.Warn("openai request failed", "error", err)
		return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	if resp.Error != nil {
		return "", Usage{}, fmt.Errorf("OpenAI API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := Usage{}
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}
	c.log.Debug("openai response", "size", len(resp.Choices[0].Message.Content), "tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens)
	return resp.Choices[0].Message.Content, usage, nil
}
