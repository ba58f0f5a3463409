package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ai-tutor/internal/domain"
	"ai-tutor/internal/integrations/paramstore"
)

const defaultMaxTokens = 1024

// openingTurn is sent when the conversation would otherwise begin with an
// assistant turn.
const openingTurn = "[start] The session has started."

// messagesAPI is the subset of the SDK message service used by Client.
// *sdk.MessageService satisfies this interface.
type messagesAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// HTTPStatusError reports a non-2xx response from the Messages API.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client adapts the Anthropic Messages API to the tutor chat contract.
type Client struct {
	messages    messagesAPI
	maxTokens   int64
	getter      paramstore.Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type config struct {
	apiKey      string
	baseURL     string
	maxTokens   int64
	getter      paramstore.Getter
	paramPrefix string
}

type Option func(*config)

func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithMaxTokens(n int64) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// WithParamStore resolves the API key from <prefix>/anthropic-token on first use.
func WithParamStore(g paramstore.Getter, prefix string) Option {
	return func(c *config) {
		c.getter = g
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func NewClient(opts ...Option) (*Client, error) {
	cfg := config{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.apiKey == "" && cfg.getter == nil {
		return nil, errors.New("anthropic: api key or paramstore getter is required")
	}
	if cfg.getter != nil && cfg.paramPrefix == "" {
		return nil, errors.New("anthropic: parameter prefix must not be empty")
	}
	if cfg.maxTokens <= 0 {
		return nil, errors.New("anthropic: max tokens must be positive")
	}

	// Retries are left to the caller; a 429 must surface as-is.
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	sdkClient := sdk.NewClient(reqOpts...)

	return newWithAPI(&sdkClient.Messages, cfg), nil
}

func newWithAPI(api messagesAPI, cfg config) *Client {
	return &Client{
		messages:    api,
		maxTokens:   cfg.maxTokens,
		getter:      cfg.getter,
		paramPrefix: cfg.paramPrefix,
		apiKey:      cfg.apiKey,
	}
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.getter == nil {
		return c.apiKey, nil
	}
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = paramstore.Token(ctx, c.getter, paramstore.Name(c.paramPrefix, "anthropic-token"))
	})
	return c.apiKey, c.keyErr
}

func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("anthropic: model must not be empty")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("anthropic: resolve api key: %w", err)
	}

	system, turns := toMessageParams(messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.messages.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	if out.Len() == 0 {
		return "", errors.New("anthropic: no text in response")
	}
	return out.String(), nil
}

// toMessageParams lifts system messages into the system prompt and folds
// consecutive turns from the same role into one, since the Messages API
// expects alternating turns that open with the user.
func toMessageParams(messages []domain.ChatMessage) ([]sdk.TextBlockParam, []sdk.MessageParam) {
	var system []sdk.TextBlockParam
	type turn struct {
		role string
		text []string
	}
	var turns []turn
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == domain.RoleSystem {
			system = append(system, sdk.TextBlockParam{Text: m.Content})
			continue
		}
		role := domain.RoleUser
		if m.Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}
	if len(turns) == 0 || turns[0].role != domain.RoleUser {
		turns = append([]turn{{role: domain.RoleUser, text: []string{openingTurn}}}, turns...)
	}

	params := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := sdk.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == domain.RoleAssistant {
			params = append(params, sdk.NewAssistantMessage(block))
		} else {
			params = append(params, sdk.NewUserMessage(block))
		}
	}
	return system, params
}
