// Package langchain runs tutor prompts through any langchaingo llms.Model.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"ai-tutor/internal/domain"
)

// Client adapts an llms.Model to the tutor chat contract.
type Client struct {
	llm         llms.Model
	temperature float64
}

type Option func(*Client)

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func New(llm llms.Model, opts ...Option) (*Client, error) {
	if llm == nil {
		return nil, errors.New("langchain: model must not be nil")
	}
	c := &Client{llm: llm, temperature: 0.7}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewOpenAI builds a Client backed by langchaingo's OpenAI-compatible driver.
func NewOpenAI(token, model, baseURL string, opts ...Option) (*Client, error) {
	lcOpts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
	if strings.TrimSpace(baseURL) != "" {
		lcOpts = append(lcOpts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(lcOpts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: create openai model: %w", err)
	}
	return New(llm, opts...)
}

func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	history := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		history = append(history, llms.TextParts(messageType(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if model = strings.TrimSpace(model); model != "" {
		callOpts = append(callOpts, llms.WithModel(model))
	}

	resp, err := c.llm.GenerateContent(ctx, history, callOpts...)
	if err != nil {
		return "", fmt.Errorf("langchain: generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("langchain: no choices in response")
	}
	return resp.Choices[0].Content, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
