// Package cli wires the configuration into a running controller for the jobctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/jobctl/internal/config"
	"github.com/aretw0/jobctl/internal/logging"
	httpadapter "github.com/aretw0/jobctl/pkg/adapters/http"
	mcpadapter "github.com/aretw0/jobctl/pkg/adapters/mcp"
	"github.com/aretw0/jobctl/pkg/adapters/memory"
	"github.com/aretw0/jobctl/pkg/adapters/redis"
	"github.com/aretw0/jobctl/pkg/adapters/sim"
	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/observability"
	"github.com/aretw0/jobctl/pkg/ports"
	"github.com/aretw0/jobctl/pkg/registry"
)

// ErrPromptNeedsTerminal is returned when the prompt decision mode is configured
// for a command that has no operator terminal.
var ErrPromptNeedsTerminal = errors.New("decision mode prompt needs an interactive terminal")

// Options tune Build for the calling command.
type Options struct {
	// Interactive enables the operator prompt on Stdin/Stdout.
	Interactive bool
	Stdin       io.Reader
	Stdout      io.Writer
	// Logger replaces the logger derived from the configuration.
	Logger *slog.Logger
}

// App holds a controller and the collaborators built around it.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Controller *controller.Controller
	Processors map[domain.ProcessorKind]*sim.Processor
	Store      ports.RunStore
	Streams    *httpadapter.StreamManager
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry
	// Mailbox is set in mailbox decision mode.
	Mailbox *decision.Mailbox
	// Prompt is set when Options.Interactive was given.
	Prompt *decision.Prompt

	closers []func() error
}

// Build creates the processors, decision source, run store, lock and observability
// hooks described by cfg and a controller using them.
func Build(cfg *config.Config, opts Options) (*App, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewWithWriter(os.Stderr, cfg.Level(), cfg.LogFormat == "json")
	}

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Processors: make(map[domain.ProcessorKind]*sim.Processor),
		Streams:    httpadapter.NewStreamManager(logger),
		Registry:   prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector())
	app.Metrics = observability.NewMetrics(app.Registry)

	reg := registry.NewRegistry()
	for i, pc := range cfg.Processors {
		kind, err := domain.ParseProcessorKind(pc.Kind)
		if err != nil {
			return nil, fmt.Errorf("processors[%d]: %w", i, err)
		}
		simOpts, err := pc.SimOptions()
		if err != nil {
			return nil, fmt.Errorf("processors[%d]: %w", i, err)
		}
		p := sim.New(kind, simOpts, sim.WithLogger(logger))
		reg.Register(kind, p)
		app.Processors[kind] = p
	}

	if opts.Interactive {
		app.Prompt = decision.NewPrompt(opts.Stdin, opts.Stdout)
	}
	source, err := app.decisionSource()
	if err != nil {
		return nil, err
	}

	var locker ports.DistributedLocker
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.closers = append(app.closers, client.Close)
		app.Store = redis.NewFromClient(client, redis.WithPrefix(cfg.Redis.Prefix), redis.WithTTL(cfg.Redis.RunTTL))
		locker = redis.NewLocker(client, "jobctl:")
		logger.Info("Using redis run store", "addr", cfg.Redis.Addr)
	} else {
		app.Store = memory.NewStore()
		locker = memory.NewLocker()
	}

	workflow, err := domain.ParseWorkflow(cfg.Workflow)
	if err != nil {
		return nil, err
	}

	ctrl, err := controller.New(reg, cfg.NewJob(),
		controller.WithLogger(logger),
		controller.WithMachineID(cfg.MachineID),
		controller.WithWorkflow(workflow),
		controller.WithDecisionSource(source),
		controller.WithStatusSink(app.Streams),
		controller.WithRunStore(app.Store),
		controller.WithLocker(locker, cfg.Redis.LockTTL, cfg.Redis.LockTimeout),
		controller.WithLifecycleHooks(app.Metrics.Hooks()),
		controller.WithLifecycleHooks(observability.LogHooks(logger)),
	)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	app.Controller = ctrl
	return app, nil
}

func (a *App) decisionSource() (ports.DecisionSource, error) {
	d := a.Config.Decision
	switch d.Mode {
	case config.DecisionPolicy:
		return decision.Policy{MaxRetries: d.MaxRetries}, nil
	case config.DecisionPrompt:
		if a.Prompt == nil {
			return nil, ErrPromptNeedsTerminal
		}
		return a.Prompt, nil
	case config.DecisionMailbox:
		var opts []decision.MailboxOption
		if d.Timeout > 0 {
			opts = append(opts, decision.WithTimeout(d.Timeout, domain.DecisionPause))
		}
		a.Mailbox = decision.NewMailbox(opts...)
		return a.Mailbox, nil
	default:
		return decision.Static(domain.DecisionPause), nil
	}
}

// HTTPServer builds the HTTP control surface for the controller.
func (a *App) HTTPServer() *httpadapter.Server {
	opts := []httpadapter.Option{
		httpadapter.WithStreams(a.Streams),
		httpadapter.WithRunStore(a.Store),
		httpadapter.WithMetrics(a.MetricsHandler()),
		httpadapter.WithLogger(a.Logger),
	}
	if a.Mailbox != nil {
		opts = append(opts, httpadapter.WithMailbox(a.Mailbox))
	}
	return httpadapter.NewServer(a.Controller, opts...)
}

// MCPServer builds the MCP server for the controller.
func (a *App) MCPServer() *mcpadapter.Server {
	opts := []mcpadapter.Option{mcpadapter.WithLogger(a.Logger)}
	if a.Mailbox != nil {
		opts = append(opts, mcpadapter.WithMailbox(a.Mailbox))
	}
	return mcpadapter.NewServer(a.Controller, opts...)
}

// MetricsHandler serves the application registry in the Prometheus text format.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// Close aborts any active run and releases the store connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Controller != nil {
		errs = append(errs, a.Controller.Close(ctx))
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
