package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
)

// Config configures the chat completion generator.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// Generator calls an OpenAI-compatible chat completion endpoint with a single
// function tool and forces the model to call it.
type Generator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// New creates a generator reading the API key from cfg.APIKeyEnv.
func New(cfg Config, log *zap.Logger) (*Generator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	return newGenerator(cfg, key, log), nil
}

func newGenerator(cfg Config, key string, log *zap.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	t := cfg.Timeout
	if t == 0 {
		t = 120 * time.Second
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Generator{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.OrNop(log),
	}
}

// Generate returns the arguments of the forced tool call.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	op := "llm.openai." + req.Tool.Name
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        req.Tool.Name,
				Description: req.Tool.Description,
				Parameters:  req.Tool.Schema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.Tool.Name},
		},
	})
	if err != nil {
		return nil, apperr.Classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.KindMalformed, op, "the AI service returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		g.logger.Warn("completion stopped at token limit",
			zap.String("tool", req.Tool.Name),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == req.Tool.Name {
			return json.RawMessage(tc.Function.Arguments), nil
		}
	}
	// some compatible servers answer in content despite tool_choice
	if choice.Message.Content != "" {
		return json.RawMessage(choice.Message.Content), nil
	}
	return nil, apperr.New(apperr.KindMalformed, op, "the AI response did not include structured output")
}
