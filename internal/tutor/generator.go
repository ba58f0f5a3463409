package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ai-tutor/internal/domain"
)

// Completer is a chat-completion backend.
type Completer interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// GenerationError is returned for every failure to produce a tutor reply.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "tutor: generation failed (" + e.Reason + ")"
	}
	return fmt.Sprintf("tutor: generation failed (%s): %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Generator produces tutor replies from an LLM.
type Generator struct {
	llm         Completer
	model       string
	params      ParamGetter
	paramPrefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
}

type Option func(*Generator)

// WithParamStore makes the generator load the tutor persona and model name
// from <prefix>/tutor_persona and <prefix>/config/llm_model on first use.
func WithParamStore(p ParamGetter, prefix string) Option {
	return func(g *Generator) {
		g.params = p
		g.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

// WithPersona sets a static persona prompt.
func WithPersona(persona string) Option {
	return func(g *Generator) {
		g.persona = strings.TrimSpace(persona)
	}
}

func NewGenerator(llm Completer, model string, opts ...Option) (*Generator, error) {
	if llm == nil {
		return nil, errors.New("tutor: llm client must not be nil")
	}
	g := &Generator{
		llm:   llm,
		model: strings.TrimSpace(model),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.params != nil && g.paramPrefix == "" {
		return nil, errors.New("tutor: parameter prefix must not be empty")
	}
	if g.params == nil && g.model == "" {
		return nil, errors.New("tutor: model must not be empty")
	}
	return g, nil
}

func (g *Generator) Generate(ctx context.Context, content domain.ContentItem, history []domain.Message) (string, error) {
	persona, model, err := g.ensureConfig(ctx)
	if err != nil {
		return "", &GenerationError{Reason: "config_load_error", Err: err}
	}

	raw, err := g.llm.Chat(ctx, model, buildPromptMessages(promptContext{
		persona:    persona,
		content:    content,
		regenerate: domain.IsRegeneration(ctx),
	}, history))
	if err != nil {
		return "", &GenerationError{Reason: "llm_error", Err: err}
	}

	reply, err := parseReply(raw)
	if err != nil {
		return "", &GenerationError{Reason: "malformed_reply", Err: err}
	}
	return reply, nil
}

func (g *Generator) ensureConfig(ctx context.Context) (string, string, error) {
	if g.params == nil {
		return g.persona, g.model, nil
	}

	g.cacheMu.RLock()
	if g.cacheLoaded {
		defer g.cacheMu.RUnlock()
		return g.persona, g.model, nil
	}
	g.cacheMu.RUnlock()

	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	if g.cacheLoaded {
		return g.persona, g.model, nil
	}

	persona, err := g.params.GetParameter(ctx, g.paramPrefix+"/tutor_persona")
	if err != nil {
		return "", "", fmt.Errorf("tutor: load persona: %w", err)
	}
	model, err := g.params.GetParameter(ctx, g.paramPrefix+"/config/llm_model")
	if err != nil {
		return "", "", fmt.Errorf("tutor: load model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", "", errors.New("tutor: model parameter is empty")
	}

	g.persona = strings.TrimSpace(persona)
	g.model = model
	g.cacheLoaded = true
	return g.persona, g.model, nil
}
