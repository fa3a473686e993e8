package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type GenerateRequest struct {
	Category string
	Tone     string
	// Platform name to character limit.
	Limits map[string]int
}

type GeneratedContent struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Variants map[string]string `json:"variants"`
}

type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GeneratedContent, error)
}

// OpenAIGenerator writes posts with a chat completion in JSON mode.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

const systemPrompt = `You write social media posts for small businesses.
Answer with a JSON object: {"title": string, "body": string, "variants": {platform: string}}.
"body" is the general version. "variants" has one entry per requested platform and each entry
must stay within that platform's character limit. No hashtags beyond three per variant.`

func buildPrompt(req GenerateRequest) string {
	names := make([]string, 0, len(req.Limits))
	for name := range req.Limits {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Category)
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	b.WriteString("Platforms:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- %s (max %d characters)\n", name, req.Limits[name])
	}
	return b.String()
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (*GeneratedContent, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	var out GeneratedContent
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("decode generated post: %w", err)
	}
	if strings.TrimSpace(out.Body) == "" {
		return nil, errors.New("generated post has an empty body")
	}
	return &out, nil
}
