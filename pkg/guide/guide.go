// Package guide assembles the planner, synthesizer and runner into a ready
// pipeline from configuration.
package guide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mariozechner/guiding-agent/pkg/agent"
	"github.com/mariozechner/guiding-agent/pkg/config"
	"github.com/mariozechner/guiding-agent/pkg/models"
	"github.com/mariozechner/guiding-agent/pkg/models/gemini"
	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/sandbox"
	"github.com/mariozechner/guiding-agent/pkg/sandbox/docker"
	"github.com/mariozechner/guiding-agent/pkg/sandbox/process"
	"github.com/mariozechner/guiding-agent/pkg/search"
	"github.com/mariozechner/guiding-agent/pkg/search/duckduckgo"
	"github.com/mariozechner/guiding-agent/pkg/stages"
	"github.com/mariozechner/guiding-agent/pkg/store"
	"github.com/mariozechner/guiding-agent/pkg/store/jsonl"
	"github.com/mariozechner/guiding-agent/pkg/store/sqlite"
	"github.com/mariozechner/guiding-agent/pkg/tools"
)

// Option overrides a collaborator that would otherwise be built from config.
type Option func(*options)

type options struct {
	provider  models.ModelProvider
	searcher  search.Searcher
	executor  sandbox.Executor
	observers []pipeline.Observer
}

// WithProvider uses p instead of a Gemini client. GEMINI_API_KEY is then not required.
func WithProvider(p models.ModelProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithSearcher replaces the DuckDuckGo client used by the planner's web_search tool.
func WithSearcher(s search.Searcher) Option {
	return func(o *options) { o.searcher = s }
}

// WithExecutor replaces the configured sandbox backend. The caller keeps ownership.
func WithExecutor(e sandbox.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithObserver adds a run observer, for example a UI progress feed.
func WithObserver(obs pipeline.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// Guide owns a pipeline and everything it was built from.
type Guide struct {
	Pipeline *pipeline.Pipeline
	// Journal is nil unless JOURNAL_DIR is set.
	Journal store.Manager

	closers []func() error
}

// New builds the planner → synthesizer → runner pipeline described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Guide, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		if !errors.Is(err, config.ErrMissingAPIKey) || o.provider == nil {
			return nil, err
		}
	}

	g := &Guide{}
	ok := false
	defer func() {
		if !ok {
			g.Close()
		}
	}()

	provider := o.provider
	if provider == nil {
		gm, err := gemini.New(ctx, cfg.Model.APIKey)
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, func() error { gm.Close(); return nil })
		provider = gm
	}

	searcher := o.searcher
	if searcher == nil {
		searcher = duckduckgo.New(duckduckgo.Config{
			Endpoint:   cfg.Search.Endpoint,
			MaxResults: cfg.Search.MaxResults,
			Timeout:    cfg.Search.Timeout,
			Logger:     logger,
		})
	}

	executor := o.executor
	if executor == nil {
		ex, closeFn, err := NewExecutor(cfg.Sandbox, logger)
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, closeFn)
		executor = ex
	}

	planner := agent.New(provider, agent.Config{
		Name:         "planner",
		Model:        cfg.Model.PlannerModel,
		Instructions: stages.PlannerInstructions,
		Tools:        tools.NewRegistry(tools.NewWebSearchTool(searcher)),
		MaxTurns:     cfg.Model.MaxTurns,
		Logger:       logger,
	})
	synthesizer := agent.New(provider, agent.Config{
		Name:         "synthesizer",
		Model:        cfg.Model.SynthesizerModel,
		Instructions: stages.SynthesizerInstructions(cfg.Browser.CDPEndpoint),
		MaxTurns:     cfg.Model.MaxTurns,
		Logger:       logger,
	})

	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Journal.Dir != "" {
		m, closeFn, err := NewJournal(cfg.Journal)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			g.closers = append(g.closers, closeFn)
		}
		g.Journal = m
		pipeOpts = append(pipeOpts, pipeline.WithObserver(store.NewRecorder(m, logger)))
		logger.Info("Run journal enabled", "dir", cfg.Journal.Dir, "backend", cfg.Journal.Backend)
	}
	for _, obs := range o.observers {
		pipeOpts = append(pipeOpts, pipeline.WithObserver(obs))
	}

	p, err := pipeline.New([]pipeline.Stage{
		stages.NewPlanner(planner, logger),
		stages.NewSynthesizer(synthesizer, logger),
		stages.NewRunner(executor, logger),
	}, pipeOpts...)
	if err != nil {
		return nil, err
	}
	g.Pipeline = p
	ok = true
	return g, nil
}

// Run executes one task. See pipeline.Pipeline.Run.
func (g *Guide) Run(ctx context.Context, task string) (*pipeline.Outcome, error) {
	return g.Pipeline.Run(ctx, task)
}

// Close releases the sandbox directory and model client.
func (g *Guide) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		errs = append(errs, g.closers[i]())
	}
	g.closers = nil
	return errors.Join(errs...)
}

// NewJournal opens the run journal in cfg.Dir. The returned close func may be nil.
func NewJournal(cfg config.JournalConfig) (store.Manager, func() error, error) {
	switch cfg.Backend {
	case config.JournalJSONL, "":
		m, err := jsonl.NewManager(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	case config.JournalSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		m, err := sqlite.New(filepath.Join(cfg.Dir, "journal.db"))
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
	}
}

// NewExecutor builds the sandbox backend named by cfg.Backend.
func NewExecutor(cfg config.SandboxConfig, logger *slog.Logger) (sandbox.Executor, func() error, error) {
	switch cfg.Backend {
	case config.BackendProcess, "":
		sb, err := process.New(process.Config{
			Interpreter: cfg.Interpreter,
			TempDir:     cfg.TempDir,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using process sandbox", "interpreter", cfg.Interpreter, "dir", sb.Dir())
		return sb, sb.Close, nil
	case config.BackendDocker:
		sb, err := docker.New(docker.Config{
			Image:       cfg.DockerImage,
			NetworkMode: cfg.DockerNetwork,
			TempDir:     cfg.TempDir,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using docker sandbox", "image", cfg.DockerImage, "dir", sb.Dir())
		return sb, sb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}
