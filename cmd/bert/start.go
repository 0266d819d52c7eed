package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/bert/internal/api"
	"github.com/mattjoyce/bert/internal/config"
	"github.com/mattjoyce/bert/internal/events"
	"github.com/mattjoyce/bert/internal/host"
	"github.com/mattjoyce/bert/internal/journal"
	"github.com/mattjoyce/bert/internal/loader"
	"github.com/mattjoyce/bert/internal/lock"
	"github.com/mattjoyce/bert/internal/log"
	"github.com/mattjoyce/bert/internal/logbuf"
	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/registry"
	"github.com/mattjoyce/bert/internal/tui"
	"github.com/mattjoyce/bert/internal/watch"
	"github.com/mattjoyce/bert/modules/base"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runHost(ctx, cfg)
}

// runHost runs the host until ctx is cancelled, the log view is closed or a
// component fails. Every component goroutine has returned before teardown.
func runHost(ctx context.Context, cfg *config.Config) int {
	// The log view owns the terminal, so logs go to memory while it runs.
	var (
		logs *logbuf.Buffer
		out  io.Writer = os.Stdout
	)
	if cfg.TUI.Enabled {
		logs = logbuf.New(0)
		out = logs
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat, out)
	logger := log.WithComponent("main")
	logger.Info("bert starting", "version", version, "config", cfg.Path, "backend", cfg.Loader.Backend)

	pidLock, err := lock.Acquire(cfg.State.Dir)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "state_dir", cfg.State.Dir, "error", err)
		fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()

	hub := events.NewHub(256)
	opts := []registry.Option{
		registry.WithLogger(log.WithComponent("registry")),
		registry.WithObserver(hub.Observer()),
	}

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
			return 1
		}
		defer func() { _ = jrnl.Close() }()
		opts = append(opts, registry.WithObserver(jrnl.Observer(log.WithComponent("journal"))))
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	ld := newModuleLoader(cfg, log.WithComponent("loader"))
	logger.Info("module loader ready", "backend", cfg.Loader.Backend, "entry_point", ld.Symbol())
	h := host.New(registry.New(ld, opts...))
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("module teardown reported errors", "error", err)
		}
	}()

	if err := populate(h, cfg); err != nil {
		logger.Error("failed to register modules", "error", err)
		fmt.Fprintf(os.Stderr, "Failed to register modules: %v\n", err)
		return 1
	}
	for _, info := range h.Snapshot() {
		log.WithModule(info.Name).Info(fmt.Sprintf("Loaded module '%s' with commands: %v", info.Name, info.CommandNames()))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Watch.Enabled {
		w, err := watch.New(h, watch.WithDebounce(cfg.Watch.Debounce), watch.WithLogger(log.WithComponent("watch")))
		if err != nil {
			logger.Error("failed to create artifact watcher", "error", err)
			return 1
		}
		if err := w.Start(gctx); err != nil {
			logger.Error("failed to start artifact watcher", "error", err)
			return 1
		}
		defer w.Stop()
		logger.Info("artifact watcher enabled", "debounce", cfg.Watch.Debounce, "dirs", w.Dirs())
	}

	if cfg.API.Enabled {
		var j api.EventJournal
		if jrnl != nil {
			j = jrnl
		}
		apiServer := api.New(api.Config{Listen: cfg.API.Listen, Tokens: cfg.API.Tokens}, h, j, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.TUI.Enabled {
		g.Go(func() error {
			// Closing the log view stops the host.
			defer cancel()
			return tui.Run(gctx, tui.New(cfg.Service.Name, logs, h, cfg.TUI.Tick))
		})
	} else {
		logger.Info("bert running (press Ctrl+C to stop)")
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}
	cancel()

	code := 0
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		code = 1
	}

	logger.Info("bert stopped")
	return code
}

// loadConfig loads path, or the discovered config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
		path = discovered
	}
	return config.Load(path)
}

func newModuleLoader(cfg *config.Config, logger *slog.Logger) *loader.Loader {
	opts := []loader.Option{
		loader.WithStagingDir(cfg.Loader.StagingDir),
		loader.WithLogger(logger),
	}
	if cfg.Loader.Backend == config.BackendGoPlugin {
		return loader.NewGoPlugin(opts...)
	}
	return loader.NewCABI(opts...)
}

func builtinCatalog() module.Catalog {
	c := module.Catalog{}
	base.Register(c)
	return c
}

// populate registers the configured builtins, then loads the configured
// artifacts in order.
func populate(h *host.Host, cfg *config.Config) error {
	mods, unknown := builtinCatalog().Build(cfg.Modules.Builtin)
	if len(unknown) > 0 {
		return fmt.Errorf("unknown builtin modules: %s", strings.Join(unknown, ", "))
	}
	for _, m := range mods {
		h.Insert(m)
	}
	for _, path := range cfg.Modules.Paths {
		if _, err := h.Load(path); err != nil {
			return fmt.Errorf("load module %s: %w", path, err)
		}
	}
	return nil
}
