package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// InferenceBaseURL is the OpenAI compatible DigitalOcean inference endpoint
	InferenceBaseURL = "https://inference.do-ai.run/v1"
	// DefaultInferenceModel is the default model for inference
	DefaultInferenceModel = "openai-gpt-oss-120b"
)

var ErrEmptyCompletion = errors.New("no choices returned from inference API")

// InferenceConfig holds configuration for the inference client
type InferenceConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	Temperature       float32
	MaxTokens         int
}

// InferenceClient sends chat completions to an OpenAI compatible endpoint,
// throttled client-side so bursts of enrichment jobs do not trip 429s.
type InferenceClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
}

func NewInferenceClient(config InferenceConfig) *InferenceClient {
	if config.BaseURL == "" {
		config.BaseURL = InferenceBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultInferenceModel
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL

	perRequest := time.Minute / time.Duration(config.RequestsPerMinute)
	log.Infow("[AI] inference client ready", "model", config.Model, "base_url", config.BaseURL, "rpm", config.RequestsPerMinute)

	return &InferenceClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		limiter:     rate.NewLimiter(rate.Every(perRequest), 3),
	}
}

// JSONCompletion runs a single-turn completion asking for a JSON object reply.
func (c *InferenceClient) JSONCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("inference rate limit wait: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt + "\n\nRespond with valid JSON only. No markdown, no commentary."},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("inference API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	log.Debugw("[AI] completion received",
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}
