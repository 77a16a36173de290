package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go/option"

	"qclog/internal/config"
	"qclog/internal/logger"
)

func TestCommentaryOpenAI(t *testing.T) {
	var gotBody openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "  - H1 Inner drifting up\n"}}},
			"usage":   map[string]any{"prompt_tokens": 120, "completion_tokens": 12},
		})
	}))
	t.Cleanup(server.Close)

	c := New(config.Config{LLMProvider: "openai", LLMModel: "gpt-4o-mini", OpenAIAPIKey: "sk-test"}, logger.Nop())
	c.openAIURL = server.URL

	text, usage, err := c.Commentary(context.Background(), "| Mixing Block | H1 | Inner | Drifting |")
	if err != nil {
		t.Fatalf("Commentary: %v", err)
	}
	if text != "- H1 Inner drifting up" {
		t.Fatalf("unexpected commentary %q", text)
	}
	if usage.TotalTokens() != 132 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if gotBody.Model != "gpt-4o-mini" || len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", gotBody)
	}
	if !strings.Contains(gotBody.Messages[1].Content, "H1 | Inner") {
		t.Fatalf("digest missing from prompt: %q", gotBody.Messages[1].Content)
	}
}

func TestCommentaryOpenAIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "quota exceeded"}})
	}))
	t.Cleanup(server.Close)

	c := New(config.Config{LLMProvider: "openai", OpenAIAPIKey: "sk-test"}, logger.Nop())
	c.openAIURL = server.URL
	if _, _, err := c.Commentary(context.Background(), "digest"); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestCommentaryTruncatesWholeCharacters(t *testing.T) {
	var gotBody openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	t.Cleanup(server.Close)

	c := New(config.Config{LLMProvider: "openai", OpenAIAPIKey: "sk-test"}, logger.Nop())
	c.openAIURL = server.URL
	digest := "x" + strings.Repeat("R²", maxDigestChars)
	if _, _, err := c.Commentary(context.Background(), digest); err != nil {
		t.Fatalf("Commentary: %v", err)
	}
	prompt := gotBody.Messages[1].Content
	if !strings.HasSuffix(prompt, "R\n...(truncated)") || strings.ContainsRune(prompt, utf8.RuneError) {
		t.Fatalf("digest must be cut between characters, got tail %q", prompt[len(prompt)-20:])
	}
}

func TestCommentaryAnthropic(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": "GW H3 is near its upper limit."}},
			"usage":         map[string]any{"input_tokens": 200, "output_tokens": 9},
		})
	}))
	t.Cleanup(server.Close)

	c := New(config.Config{LLMProvider: "anthropic", LLMModel: "claude-test", AnthropicAPIKey: "ak-test"}, logger.Nop())
	c.anthropicOpts = append(c.anthropicOpts, option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0))

	text, usage, err := c.Commentary(context.Background(), "digest body")
	if err != nil {
		t.Fatalf("Commentary: %v", err)
	}
	if text != "GW H3 is near its upper limit." {
		t.Fatalf("unexpected commentary %q", text)
	}
	if usage.InputTokens != 200 || usage.OutputTokens != 9 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if gotPath != "/v1/messages" || gotKey != "ak-test" {
		t.Fatalf("unexpected request path=%q key=%q", gotPath, gotKey)
	}
	if gotBody["model"] != "claude-test" {
		t.Fatalf("unexpected model in request: %v", gotBody["model"])
	}
}

func TestCommentaryDisabled(t *testing.T) {
	c := New(config.Config{LLMProvider: "none"}, logger.Nop())
	if c.Enabled() {
		t.Fatal("provider none must be disabled")
	}
	if _, _, err := c.Commentary(context.Background(), "x"); err == nil {
		t.Fatal("expected error when disabled")
	}
	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client must be disabled")
	}
}
