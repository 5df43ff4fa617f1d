package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/common"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/jenkins"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/auth"
	"github.com/ternarybob/jcx/internal/services/breaker"
	"github.com/ternarybob/jcx/internal/services/decrypt"
	"github.com/ternarybob/jcx/internal/services/performance"
	"github.com/ternarybob/jcx/internal/storage/badger"
)

// App holds all application components and dependencies. It owns the
// process-scoped session registry and benchmark history.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage      *badger.Manager
	Consoles     interfaces.ConsoleFactory
	Sessions     *auth.Manager
	Breakers     *breaker.Registry
	Monitor      *performance.Monitor
	Orchestrator *decrypt.Orchestrator
}

// Option adjusts how the App is built
type Option func(*options)

type options struct {
	httpClient *http.Client
	prompter   auth.Prompter
}

// WithHTTPClient sets the HTTP client used for Jenkins and OAuth2 requests
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithPrompter sets the interactive prompter; nil disables prompting
func WithPrompter(prompter auth.Prompter) Option {
	return func(o *options) {
		o.prompter = prompter
	}
}

// New builds the application from configuration
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	o := &options{
		httpClient: &http.Client{Timeout: jenkins.DefaultTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.initServices(ctx, o)

	logger.Debug().
		Int("servers", len(cfg.Servers)).
		Int("benchmark_samples", len(app.Monitor.Samples())).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the sealed session store and benchmark history
func (a *App) initStorage() error {
	storage, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger, &a.Config.Security)
	if err != nil {
		return err
	}
	a.Storage = storage

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the services in dependency order
func (a *App) initServices(ctx context.Context, o *options) {
	a.Consoles = jenkins.NewConsoleFactory(o.httpClient, a.Logger)

	static := auth.NewStaticCookieSource(o.prompter)
	browser := auth.NewBrowserCookieSource(0, a.Logger)

	managerOpts := []auth.ManagerOption{
		auth.WithProvider(auth.NewTokenProvider(a.Consoles, o.prompter, a.Logger)),
		auth.WithProvider(auth.NewOAuth2Provider(o.httpClient, o.prompter, a.Logger)),
		auth.WithProvider(auth.NewCookieProvider(a.Consoles, static, browser, a.Logger)),
	}
	if a.Config.Security.PersistSession {
		managerOpts = append(managerOpts, auth.WithStore(a.Storage.SecretStore()))
	}
	a.Sessions = auth.NewManager(a.Logger, managerOpts...)

	a.Breakers = breaker.NewRegistry(a.Logger)

	a.Monitor = performance.NewMonitor(a.Logger, performance.WithStorage(a.Storage.BenchmarkStorage()))
	if err := a.Monitor.Load(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load benchmark history")
	}

	a.Orchestrator = decrypt.NewOrchestrator(a.Sessions, a.Consoles, a.Breakers, a.Logger, decrypt.WithMonitor(a.Monitor))
}

// Profile resolves the server profile for a name or, when url is set, an unconfigured server
func (a *App) Profile(name, url string, method models.AuthMethod) (models.ServerProfile, error) {
	if url != "" {
		return a.Config.ProfileForURL(url, method)
	}
	return a.Config.Profile(name)
}

// DecryptOptions builds run options from configuration and CLI overrides
func (a *App) DecryptOptions(strategy string, forceSequential bool) (decrypt.Options, error) {
	if strategy == "" {
		strategy = a.Config.Decrypt.Strategy
	}

	opts := decrypt.Options{
		ForceSequential: forceSequential,
		Adaptive:        a.Config.Decrypt.Adaptive,
	}
	if strategy != "" && strategy != "auto" {
		name := models.StrategyName(strategy)
		if !name.Valid() {
			return decrypt.Options{}, fmt.Errorf("unknown strategy %q", strategy)
		}
		opts.Strategy = name
	}
	return opts, nil
}

// Health probes the server's script console access and returns its version
func (a *App) Health(ctx context.Context, profile models.ServerProfile) (*models.ServerInfo, error) {
	session, err := a.Sessions.Acquire(ctx, profile)
	if err != nil {
		return nil, err
	}

	console := a.Consoles(profile)
	info, err := console.ServerInfo(ctx, session)
	if err != nil {
		return nil, err
	}

	// A trivial script proves the account may use the script console
	out, err := console.RunScript(ctx, session, jenkins.SingleScript(""))
	if err != nil {
		return info, fmt.Errorf("script console unavailable: %w", err)
	}
	if entry := jenkins.ParseOutput(out, 1)[0]; entry.Err != nil && entry.Err.Kind == models.KindBatchParse {
		return info, fmt.Errorf("script console returned unexpected output: %w", entry.Err)
	}
	return info, nil
}

// Close releases resources
func (a *App) Close() error {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}
	return nil
}
