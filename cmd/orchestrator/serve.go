package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	aktelemetry "github.com/vinayprograms/agentkit/telemetry"

	"github.com/vinayprograms/orchestrator/internal/config"
	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/events"
	"github.com/vinayprograms/orchestrator/internal/invoke"
	"github.com/vinayprograms/orchestrator/internal/logging"
	"github.com/vinayprograms/orchestrator/internal/registry"
	"github.com/vinayprograms/orchestrator/internal/server"
	"github.com/vinayprograms/orchestrator/internal/telemetry"
	"github.com/vinayprograms/orchestrator/internal/workflow"
)

// Run starts the server and blocks until SIGINT or SIGTERM.
func (c *ServeCmd) Run() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := newRuntime(cfg, newLogger(cfg))
	defer rt.close()
	if err := rt.setup(ctx); err != nil {
		return err
	}

	ln, err := server.Listen(cfg.Server.Addr, cfg.Server.MaxConnections)
	if err != nil {
		return err
	}
	return rt.server.Serve(ctx, ln, cfg.ShutdownTimeout())
}

// loadConfig reads the config file, then environment, then flags.
func (c *ServeCmd) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.ParseLevel(cfg.Log.Level))
	return l
}

// runtime holds the wired server components.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger

	registry  *registry.Registry
	invoker   *invoke.Client
	publisher events.Publisher
	telem     aktelemetry.Exporter
	engine    *workflow.Engine
	server    *server.Server

	// Cleanup
	closers []func()
}

func newRuntime(cfg *config.Config, logger *logging.Logger) *runtime {
	return &runtime{cfg: cfg, logger: logger}
}

// setup initializes all runtime components. Agent registration failure is
// fatal.
func (rt *runtime) setup(ctx context.Context) error {
	if err := rt.setupTelemetry(ctx); err != nil {
		return err
	}
	if err := rt.setupRegistry(ctx); err != nil {
		return err
	}
	if err := rt.setupEvents(); err != nil {
		return err
	}
	if err := rt.createEngine(); err != nil {
		return err
	}
	rt.createServer()
	return nil
}

func (rt *runtime) setupTelemetry(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, rt.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			rt.logger.Warn("telemetry_shutdown_failed", map[string]interface{}{"error": err.Error()})
		}
	})

	tcfg := rt.cfg.Telemetry
	if protocol := strings.ToLower(tcfg.Protocol); tcfg.Enabled && protocol != "" && protocol != "noop" {
		rt.telem, err = aktelemetry.NewExporter(protocol, tcfg.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = aktelemetry.NewNoopExporter()
	}
	rt.closers = append(rt.closers, func() { rt.telem.Close() })
	return nil
}

func (rt *runtime) setupRegistry(ctx context.Context) error {
	delay, err := rt.cfg.RetryDelay()
	if err != nil {
		return err
	}
	rt.registry = registry.New(
		registry.WithRetry(rt.cfg.Registration.MaxAttempts, delay),
		registry.WithDiscoveryTimeout(rt.cfg.DiscoveryTimeout()),
		registry.WithLogger(rt.logger.WithComponent("registry")),
	)

	agents := rt.cfg.Agents
	return rt.registry.RegisterAll(ctx, map[string]string{
		agents.Question.Name: agents.Question.URL,
		agents.Answer.Name:   agents.Answer.URL,
		agents.Judge.Name:    agents.Judge.URL,
	})
}

func (rt *runtime) setupEvents() error {
	if rt.cfg.Events.NATSURL == "" {
		rt.publisher = events.Nop{}
		return nil
	}
	pub, err := events.Connect(rt.cfg.Events.NATSURL, rt.cfg.Events.Subject)
	if err != nil {
		return err
	}
	rt.publisher = pub
	rt.closers = append(rt.closers, func() { pub.Close() })
	rt.logger.Info("events_enabled", map[string]interface{}{
		"url":     rt.cfg.Events.NATSURL,
		"subject": rt.cfg.Events.Subject,
	})
	return nil
}

func (rt *runtime) createEngine() error {
	rt.invoker = invoke.New(
		invoke.WithTimeout(rt.cfg.InvokeTimeout()),
		invoke.WithLogger(rt.logger.WithComponent("invoke")),
	)

	agents := rt.cfg.Agents
	set, err := rt.registry.Bind(registry.Binding{
		QuestionAgent: agents.Question.Name,
		AnswerAgent:   agents.Answer.Name,
		JudgeAgent:    agents.Judge.Name,
	}, rt.invoker)
	if err != nil {
		return fmt.Errorf("bind capabilities: %w", err)
	}

	rt.engine = workflow.New(set,
		workflow.WithLogger(rt.logger.WithComponent("workflow")),
		workflow.WithObserver(events.NewNotifier(rt.publisher, rt.logger.WithComponent("events"))),
		workflow.WithObserver(events.NewRecorder(rt.telem)),
	)
	return nil
}

func (rt *runtime) createServer() {
	w := rt.cfg.Workflow
	rt.server = server.New(rt.engine, rt.registry,
		server.WithLogger(rt.logger.WithComponent("server")),
		server.WithLimits(course.Limits{
			DefaultQuestions: w.DefaultQuestions,
			DefaultAttempts:  w.DefaultAttempts,
			MaxQuestions:     w.MaxQuestionsLimit,
			MaxAttempts:      w.MaxAttemptsLimit,
		}),
		server.WithRateLimit(rt.cfg.Server.RateLimit, rt.cfg.Server.RateBurst),
	)
}

// close runs cleanup in reverse order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
