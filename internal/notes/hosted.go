package notes

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"google.golang.org/genai"
)

const maxNoteTokens = 256

type openAICompleter struct {
	model  string
	client openai.Client
}

func newOpenAI(cfg EnvConfig, timeout time.Duration, httpClient *http.Client) (completer, error) {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", errNoAPIKey)
	}
	model := strings.TrimSpace(cfg.OpenAIModel)
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimRight(cfg.OpenAIBaseURL, "/")),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &openAICompleter{model: model, client: openai.NewClient(opts...)}, nil
}

func (c *openAICompleter) complete(ctx context.Context, instructions, input string) (string, error) {
	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        c.model,
		Instructions: openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(input),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai responses.create: %w", err)
	}
	if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
		return "", fmt.Errorf("openai response failed: %s", msg)
	}
	return strings.TrimSpace(resp.OutputText()), nil
}

type anthropicCompleter struct {
	model  string
	client anthropic.Client
}

func newAnthropic(cfg EnvConfig, timeout time.Duration, httpClient *http.Client) (completer, error) {
	apiKey := strings.TrimSpace(cfg.AnthropicAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", errNoAPIKey)
	}
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithRequestTimeout(timeout),
		anthropicoption.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.AnthropicBaseURL); base != "" {
		opts = append(opts, anthropicoption.WithBaseURL(base))
	}
	if httpClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(httpClient))
	}
	return &anthropicCompleter{model: cfg.AnthropicModel, client: anthropic.NewClient(opts...)}, nil
}

func (c *anthropicCompleter) complete(ctx context.Context, instructions, input string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxNoteTokens,
		System:    []anthropic.TextBlockParam{{Text: instructions}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.create: %w", err)
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n"), nil
}

type geminiCompleter struct {
	model   string
	timeout time.Duration
	client  *genai.Client
}

func newGemini(cfg EnvConfig, timeout time.Duration, httpClient *http.Client) (completer, error) {
	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", errNoAPIKey)
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiCompleter{model: cfg.GeminiModel, timeout: timeout, client: client}, nil
}

func (c *geminiCompleter) complete(ctx context.Context, instructions, input string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(input), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
		MaxOutputTokens:   maxNoteTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
