// Package app builds the conversation service and its collaborators from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"

	"ai-tutor/handler"
	"ai-tutor/internal/config"
	"ai-tutor/internal/integrations/anthropic"
	"ai-tutor/internal/integrations/c3"
	"ai-tutor/internal/integrations/langchain"
	"ai-tutor/internal/integrations/openai"
	"ai-tutor/internal/integrations/paramstore"
	"ai-tutor/internal/repository"
	"ai-tutor/internal/tutor"
	"ai-tutor/internal/usecase"
)

// App is the assembled application. Close releases the store.
type App struct {
	Handler *handler.Handler
	closers []io.Closer
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// loadAWSConfig is overridable in tests.
var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// New wires the handler from cfg. AWS configuration is only loaded when a
// component needs it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{}

	var awsCfg aws.Config
	var params *paramstore.Client
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = loadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, fmt.Errorf("app: create SSM client: %w", err)
			}
		}
	}

	store, err := a.newStore(ctx, cfg, awsCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	content, err := newContentFetcher(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	generator, err := newGenerator(ctx, cfg, params)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	svc, err := usecase.NewConversationService(content, generator, store, cfg.MaxMessageLength)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("app: create conversation service: %w", err)
	}
	h, err := handler.NewHandler(svc)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	a.Handler = h

	slog.Info("application wired",
		"store", cfg.StoreBackend,
		"llm_provider", cfg.LLMProvider,
		"content_source", contentSource(cfg),
		"ssm", params != nil,
	)
	return a, nil
}

func (a *App) newStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (usecase.ThreadStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBolt:
		s, err := repository.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("app: open bolt store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	case config.StoreDynamoDB:
		s, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithTTL(cfg.ThreadTTL))
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: create postgres pool: %w", err)
		}
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("app: ping postgres: %w", err)
		}
		s, err := repository.NewPostgresStore(pool)
		if err != nil {
			return nil, fmt.Errorf("app: create postgres store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return s, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

func newContentFetcher(cfg *config.Config) (usecase.ContentFetcher, error) {
	switch contentSource(cfg) {
	case "c3":
		c, err := c3.NewClient(cfg.C3APIURL, c3.WithAPIKey(cfg.C3APIKey))
		if err != nil {
			return nil, fmt.Errorf("app: create content client: %w", err)
		}
		return c, nil
	case "file":
		c, err := c3.LoadCatalog(cfg.ContentCatalogPath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return c, nil
	default:
		return c3.NewCatalog(), nil
	}
}

func contentSource(cfg *config.Config) string {
	switch {
	case cfg.C3APIURL != "":
		return "c3"
	case cfg.ContentCatalogPath != "":
		return "file"
	default:
		return "catalog"
	}
}

func newGenerator(ctx context.Context, cfg *config.Config, params *paramstore.Client) (usecase.ResponseGenerator, error) {
	// A nil *paramstore.Client must stay a nil interface.
	var getter paramstore.Getter
	if params != nil {
		getter = params
	}

	var completer tutor.Completer
	switch cfg.LLMProvider {
	case config.ProviderRules:
		return tutor.Rules{}, nil
	case config.ProviderOpenAI:
		var opts []openai.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
		} else {
			opts = append(opts, openai.WithParamStore(getter, cfg.ParamPrefix))
		}
		c, err := openai.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create openai client: %w", err)
		}
		completer = c
	case config.ProviderAnthropic:
		var opts []anthropic.Option
		if cfg.AnthropicAPIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.AnthropicAPIKey))
		} else {
			opts = append(opts, anthropic.WithParamStore(getter, cfg.ParamPrefix))
		}
		c, err := anthropic.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create anthropic client: %w", err)
		}
		completer = c
	case config.ProviderLangchain:
		token := cfg.OpenAIAPIKey
		if token == "" {
			var err error
			token, err = paramstore.Token(ctx, getter, paramstore.Name(cfg.ParamPrefix, "open-ai-token"))
			if err != nil {
				return nil, fmt.Errorf("app: resolve langchain token: %w", err)
			}
		}
		c, err := langchain.NewOpenAI(token, cfg.LLMModel, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: create langchain client: %w", err)
		}
		completer = c
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", cfg.LLMProvider)
	}

	var opts []tutor.Option
	if getter != nil {
		opts = append(opts, tutor.WithParamStore(getter, cfg.ParamPrefix))
	}
	g, err := tutor.NewGenerator(completer, cfg.LLMModel, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create generator: %w", err)
	}
	return g, nil
}

// NewLogger returns the JSON slog logger used by every entry point.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
