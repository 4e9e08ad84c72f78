package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/olga/go-assistant/internal/config"
	"github.com/danielpatrickdp/olga/go-assistant/internal/contacts"
	"github.com/danielpatrickdp/olga/go-assistant/internal/enrich"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
	"github.com/danielpatrickdp/olga/go-assistant/internal/imagegen"
	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/logging"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
	"github.com/danielpatrickdp/olga/go-assistant/internal/websearch"
)

// #region app

// app holds the process-wide collaborators every session shares.
type app struct {
	loader *config.Loader
	log    zerolog.Logger
	store  *state.Store
	images *imagegen.Pollinations
	deps   session.Deps
	opts   session.Options

	closers []io.Closer
}

// newApp loads configuration and wires the whole pipeline.
func newApp(path string) (*app, error) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	loader, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	cfg := loader.Config()

	log, logCloser, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		Console: cfg.Logging.Console,
		App:     "olga",
	})
	if err != nil {
		return nil, err
	}
	a := &app{loader: loader, log: log, closers: []io.Closer{logCloser}}

	if cfg.Storage.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := state.NewStore(cfg.Storage.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	if err := a.wire(cfg); err != nil {
		a.Close()
		return nil, err
	}

	loader.Watch(func(*config.Config) {
		a.log.Info().Str("path", loader.Path()).Msg("config reloaded")
	}, func(err error) {
		a.log.Warn().Err(err).Msg("config reload ignored")
	})
	return a, nil
}

func (a *app) wire(cfg *config.Config) error {
	mem, err := a.memory(cfg)
	if err != nil {
		return err
	}
	dir, err := contacts.NewStore(a.store.DB())
	if err != nil {
		return err
	}
	attempts, err := orchestrator.NewAttemptMemory(a.store.DB())
	if err != nil {
		return err
	}

	fcfg := fetch.DefaultConfig()
	fcfg.RatePerSecond = cfg.Enrichers.RatePerSecond
	if cfg.Enrichers.QuoteTTL > 0 {
		fcfg.CacheTTL = cfg.Enrichers.QuoteTTL
	}
	fetcher := fetch.New(fcfg, nil)
	search := websearch.New(websearch.Config{
		BaseURL:    cfg.Search.BaseURL,
		APIKey:     cfg.Search.APIKey,
		GL:         cfg.Search.GL,
		HL:         cfg.Search.HL,
		MaxResults: cfg.Search.MaxResults,
	}, fetcher)
	a.images = imagegen.New(cfg.Endpoints.ImageGen, fetcher, logging.Component(a.log, "imagegen"))

	catalogue := enrich.NewCatalogue(enrich.Deps{
		Fetcher:        fetcher,
		Search:         search,
		Endpoints:      cfg.Endpoints,
		Contacts:       dir,
		Memory:         mem,
		MemoryLimit:    cfg.Memory.Limit,
		TrafficTimeout: cfg.Enrichers.TrafficTimeout,
	})
	runner := enrich.NewRunner(catalogue, enrich.RunnerConfig{
		Timeout:  cfg.Enrichers.Timeout,
		Disabled: func(name string) bool { return a.loader.Config().Enrichers.IsDisabled(name) },
	}, logging.Component(a.log, "enrich"))

	templates, err := persona.LoadTemplates()
	if err != nil {
		return err
	}
	providers := llm.NewRegistry(
		llm.NewBearerProvider(cfg.Providers.Bearer.BaseURL, cfg.Providers.Bearer.APIKey, nil),
		llm.NewURLKeyProvider(cfg.Providers.URLKey.BaseURL, cfg.Providers.URLKey.APIKey, nil),
	)
	executor := orchestrator.NewExecutor(providers, orchestrator.ExecutorConfig{
		MinKeyLength:   cfg.Chat.MinKeyLength,
		AttemptTimeout: cfg.Chat.Timeout,
	}, attempts, logging.Component(a.log, "cascade"))

	a.deps = session.Deps{
		Store:      a.store,
		Classifier: orchestrator.NewKeywordClassifier(catalogue.Triggers()...),
		Enrichers:  runner,
		Templates:  templates,
		Assembler:  persona.NewAssembler(templates, cfg.Chat.HistoryWindow),
		Executor:   executor,
		Tiers:      func() config.TiersConfig { return a.loader.Config().Tiers },
		Memory:     mem,
		Images:     a.images,
		Log:        logging.Component(a.log, "session"),
	}
	a.opts = session.OptionsFromConfig(cfg)
	return nil
}

// memory picks the long-term memory backend.
func (a *app) memory(cfg *config.Config) (memory.Store, error) {
	switch cfg.Memory.Backend {
	case "redis":
		rs, err := memory.NewRedisStore(memory.RedisConfig{
			Addr:   cfg.Memory.RedisAddr,
			Stream: cfg.Memory.RedisStream,
		})
		if err != nil {
			return nil, fmt.Errorf("memory backend: %w", err)
		}
		a.closers = append(a.closers, rs)
		return rs, nil
	default:
		ss, err := memory.NewSQLiteStore(a.store.DB())
		if err != nil {
			return nil, fmt.Errorf("memory backend: %w", err)
		}
		return ss, nil
	}
}

// newSession opens a session bound to sink.
func (a *app) newSession(ctx context.Context, sink session.Sink) (*session.Session, error) {
	return session.New(ctx, a.deps, a.opts, sink)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.images != nil {
		a.images.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
}

// #endregion app
