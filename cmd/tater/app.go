package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/TaterTotterson/Tater/internal/backfill"
	"github.com/TaterTotterson/Tater/internal/composer"
	"github.com/TaterTotterson/Tater/internal/config"
	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/feeds"
	"github.com/TaterTotterson/Tater/internal/llm"
	"github.com/TaterTotterson/Tater/internal/memory"
	"github.com/TaterTotterson/Tater/internal/notify"
	"github.com/TaterTotterson/Tater/internal/orchestrator"
	"github.com/TaterTotterson/Tater/internal/plugins"
	"github.com/TaterTotterson/Tater/internal/retrieval"
	"github.com/TaterTotterson/Tater/internal/settings"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
	"github.com/TaterTotterson/Tater/internal/webtext"
)

// logLevel is shared by every process entry point so config reloads can
// change verbosity without rebuilding the handler.
var logLevel = new(slog.LevelVar)

func setupLogging(level string) {
	logLevel.Set(parseLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app is the assembled assistant: storage, model, memory, tools, feeds and
// the orchestrator tying them together.
type app struct {
	cfg        config.Config
	store      *storage.Store
	engine     engine.Engine
	settings   *settings.Manager
	memory     *memory.Manager
	tools      *toolreg.Registry
	fanout     *notify.Fanout
	scheduler  *feeds.Scheduler
	backfill   *backfill.Worker
	orch       *orchestrator.Engine
	sinkClient *http.Client
}

func newApp(cfg config.Config) (*app, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Model.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIKey:     cfg.OpenAI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting model backend: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Model.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	mem, err := memory.New(store, embedder, vectors, memory.Options{
		RecentTurns:        cfg.Memory.RecentTurns,
		RecallTopK:         cfg.Memory.RecallTopK,
		EmbeddingRetention: cfg.Memory.EmbeddingRetention,
		MaxStoredTurns:     cfg.Memory.MaxStoredTurns,
		MaxContextChars:    cfg.Memory.MaxContextChars,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	sinkClient := &http.Client{Timeout: cfg.Notify.Timeout}
	routes, err := notify.Build(cfg.Notify, sinkClient)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configuring notifiers: %w", err)
	}
	fanout := notify.NewFanout(routes, cfg.Notify.Timeout)

	model := llm.New(eng, cfg.Model.ChatModel, cfg.Orchestrator.ModelTimeout)
	pages := webtext.NewFetcher(cfg.Feeds.FetchTimeout)
	scheduler := feeds.NewScheduler(
		store,
		feeds.NewHTTPFetcher(cfg.Feeds.FetchTimeout),
		feeds.NewSummarizer(model, pages),
		fanout,
		feeds.OptionsFromConfig(cfg.Feeds),
	)

	settingsMgr := settings.NewManager(store)
	reg := toolreg.New()
	if err := plugins.Register(reg, plugins.Deps{
		Feeds:  scheduler,
		Memory: mem,
		Model:  model,
		Pages:  pages,
	}); err != nil {
		store.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	orch := orchestrator.New(model, reg, mem, settingsMgr, composer.New(0), orchestrator.Config{
		MaxIterations: cfg.Orchestrator.MaxIterations,
		ToolTimeout:   cfg.Orchestrator.ToolTimeout,
	})

	return &app{
		cfg:        cfg,
		store:      store,
		engine:     eng,
		settings:   settingsMgr,
		memory:     mem,
		tools:      reg,
		fanout:     fanout,
		scheduler:  scheduler,
		backfill:   backfill.NewWorker(store, mem, 5*time.Second),
		orch:       orch,
		sinkClient: sinkClient,
	}, nil
}

// reload applies the parts of a changed config file that can change while
// running: log level, notifier routing and feed scheduling. Model, storage
// and port changes need a restart.
func (a *app) reload(cfg config.Config) {
	logLevel.Set(parseLevel(cfg.Log.Level))

	routes, err := notify.Build(cfg.Notify, a.sinkClient)
	if err != nil {
		slog.Error("config reload: keeping previous notifiers", "error", err)
	} else {
		a.fanout.SetRoutes(routes, cfg.Notify.Timeout)
	}
	a.scheduler.Configure(feeds.OptionsFromConfig(cfg.Feeds))

	if cfg.Model != a.cfg.Model || cfg.Server.Port != a.cfg.Server.Port || cfg.Storage.DataDir != a.cfg.Storage.DataDir {
		slog.Warn("config reload: model, server and storage changes take effect after restart")
	}
	slog.Info("config reloaded", "sinks", len(cfg.Notify.Sinks))
}

func (a *app) ensureModels(ctx context.Context) error {
	return engine.EnsureReady(ctx, a.engine, a.cfg.Model.ChatModel, a.cfg.Model.EmbedModel, os.Stderr)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
