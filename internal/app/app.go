// Package app wires the voxedit subsystems into a running server.
//
// The App struct owns the full lifecycle: New loads definitions and builds
// the document, interpreter and dictation session, Run serves HTTP and
// drives the session until its context ends, and Shutdown releases what New
// acquired.
//
// For testing, inject definitions and metrics via functional options
// (WithDefinitions, WithMetrics). When an option is not provided, New
// builds real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxedit/internal/config"
	"github.com/MrWong99/voxedit/internal/dictation"
	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/health"
	"github.com/MrWong99/voxedit/internal/observe"
	"github.com/MrWong99/voxedit/internal/speech"
	"github.com/MrWong99/voxedit/internal/workspace"
)

const (
	shutdownTimeout = 10 * time.Second
	reloadTimeout   = 5 * time.Second

	defaultWindowID = 1
)

// App owns all subsystem lifetimes.
type App struct {
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Contexts fixed for the app's lifetime.
	rootContext string
	docContext  string

	mu      sync.Mutex
	cfg     *config.Config
	defs    *config.Definitions
	watcher *config.Watcher

	doc     *document.Document
	ws      *workspace.Memory
	interp  *speech.Interpreter
	session *dictation.Session

	defsReady health.Flag
	loopReady health.Flag
	handler   http.Handler

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDefinitions uses d instead of loading definitions from the config.
// The definitions watcher is not started.
func WithDefinitions(d *config.Definitions) Option {
	return func(a *App) { a.defs = d }
}

// WithMetrics injects a metrics sink instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel hands the app the level of the process logger so that config
// changes can adjust it.
func WithLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. All initialisation happens synchronously;
// nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:         cfg,
		rootContext: cfg.Interpreter.RootContext,
		docContext:  cfg.Editor.DefaultContext,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	// ── 1. Definitions ───────────────────────────────────────────────────
	if err := a.initDefinitions(); err != nil {
		return nil, fmt.Errorf("app: init definitions: %w", err)
	}
	a.defsReady.Ready()

	// ── 2. Document + workspace ──────────────────────────────────────────
	doc, err := document.New(a.defs.Language, cfg.Editor.InitialText,
		document.WithRootContext(cfg.Editor.DefaultContext),
		document.WithMargin(cfg.Editor.Margin),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init document: %w", err)
	}
	a.doc = doc
	a.ws = workspace.NewMemory(doc)
	// One window over the whole document, labelled from 1, so spoken line
	// numbers resolve without a window adapter.
	a.ws.SetWindow(workspace.Viewport{WindowID: defaultWindowID, FirstLabel: 1, Document: doc})

	// ── 3. Interpreter + dictation session ───────────────────────────────
	a.interp, err = speech.New(
		speech.Env{Documents: a.ws, Windows: a.ws, Clipboard: a.ws, Metrics: a.metrics},
		a.defs.Language, a.defs.Grammar,
		speech.WithRootContext(cfg.Interpreter.RootContext),
		speech.WithRevisionMargin(cfg.Interpreter.RevisionMargin),
		speech.WithNearMissThreshold(cfg.Interpreter.NearMissThreshold),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init interpreter: %w", err)
	}
	a.session = dictation.New(a.interp, a.ws, dictation.WithMetrics(a.metrics))

	// ── 4. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()

	// ── 5. Definitions watcher ───────────────────────────────────────────
	a.startWatcher(ctx)

	slog.Info("app initialised",
		"definitions", a.defs.Source,
		"root_context", cfg.Interpreter.RootContext,
		"document_context", cfg.Editor.DefaultContext,
		"revision_margin", cfg.Interpreter.RevisionMargin,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDefinitions() error {
	if a.defs == nil {
		d, err := a.cfg.LoadDefinitions()
		if err != nil {
			return err
		}
		a.defs = d
	}
	return a.defs.Require(a.rootContext, a.docContext)
}

// startWatcher polls the definitions file when one is configured. A failed
// start is logged; the loaded definitions stay in use.
func (a *App) startWatcher(ctx context.Context) {
	cfg, defs := a.config(), a.Definitions()
	path, interval := cfg.Definitions.Path, cfg.Definitions.ReloadInterval
	if path == "" || interval <= 0 || defs.Source != path {
		return
	}
	w, err := config.NewWatcher(path, func(_, new *config.Definitions) {
		a.reloadDefinitions(context.WithoutCancel(ctx), new)
	}, config.WithInterval(interval))
	if err != nil {
		slog.Warn("definitions watcher not started", "path", path, "err", err)
		return
	}
	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()
	slog.Info("watching definitions", "path", path, "interval", interval)
}

func (a *App) stopWatcher() {
	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// reloadDefinitions swaps d into the running session. Definitions that
// lack a configured context are rejected and the current ones kept.
func (a *App) reloadDefinitions(ctx context.Context, d *config.Definitions) {
	if err := d.Require(a.rootContext, a.docContext); err != nil {
		slog.Error("definitions reload rejected", "source", d.Source, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()
	if err := a.session.Reload(ctx, d.Language, d.Grammar); err != nil {
		slog.Error("definitions reload failed", "source", d.Source, "err", err)
		a.defsReady.Fail(err)
		return
	}
	a.mu.Lock()
	a.defs = d
	a.mu.Unlock()
	a.defsReady.Ready()
	slog.Info("definitions reloaded", "source", d.Source)
}

// Definitions returns the definitions currently in use.
func (a *App) Definitions() *config.Definitions {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.defs
}

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Handler returns the app's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Session returns the dictation session.
func (a *App) Session() *dictation.Session { return a.session }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve drives the dictation session and serves HTTP on ln until ctx is
// cancelled or either fails. A cancelled ctx is not an error.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	tlsCfg := a.config().Server.TLS
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		go func() {
			select {
			case <-a.session.Running():
				a.loopReady.Ready()
			case <-gctx.Done():
			}
		}()
		err := a.session.Run(gctx)
		a.loopReady.Fail(dictation.ErrClosed)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = srv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// ─── Config changes ──────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between the running
// config and cfg. The returned diff reports RestartRequired for changes
// that only take effect on the next start.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) (config.ConfigDiff, error) {
	d := config.Diff(a.config(), cfg)
	var errs []error

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
	}
	if d.RevisionMarginChanged {
		errs = append(errs, a.session.SetRevisionMargin(ctx, d.NewRevisionMargin))
	}
	if d.MarginChanged {
		errs = append(errs, a.session.SetMargin(ctx, d.NewMargin))
	}
	if d.DefinitionsChanged {
		defs, err := cfg.LoadDefinitions()
		if err != nil {
			errs = append(errs, err)
		} else {
			a.stopWatcher()
			a.reloadDefinitions(ctx, defs)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return d, fmt.Errorf("app: apply config: %w", err)
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	if d.DefinitionsChanged {
		a.startWatcher(ctx)
	}
	if d.RestartRequired {
		slog.Warn("config changes require a restart to take effect")
	}
	return d, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the definitions watcher. Call it after Run returned. It
// returns ctx.Err() if the watcher does not stop before ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			a.stopWatcher()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("shutdown complete")
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded")
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}

// ─── Routes ──────────────────────────────────────────────────────────────────

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcripts", a.handleTranscript)
	mux.HandleFunc("POST /v1/undo", a.handleUndo)
	mux.HandleFunc("GET /v1/document", a.handleDocument)
	mux.HandleFunc("GET /v1/stream", a.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(
		a.defsReady.Checker("definitions"),
		a.loopReady.Checker("dictation"),
	).Register(mux)

	return observe.Middleware(a.metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux)
}
