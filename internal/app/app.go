package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/harun/memeagent/internal/config"
	"github.com/harun/memeagent/internal/logger"
	"github.com/harun/memeagent/internal/observability"
	"github.com/harun/memeagent/internal/tracing"
	"github.com/harun/memeagent/pkg/agent"
	"github.com/harun/memeagent/pkg/arcade"
	"github.com/harun/memeagent/pkg/chat"
	"github.com/harun/memeagent/pkg/interrupt"
	"github.com/harun/memeagent/pkg/session"
	"github.com/harun/memeagent/pkg/toolexecutor"
	"github.com/harun/memeagent/pkg/turn"
)

const serviceName = "memeagent"

// newProvider builds the model client. Tests swap it for a scripted provider.
var newProvider = func(cfg agent.ProviderConfig) (agent.LLMProvider, error) {
	return (&agent.ProviderFactory{}).NewProvider(cfg)
}

// Options carries the process-level pieces the app does not own.
type Options struct {
	Stdin   io.Reader
	Stdout  io.Writer
	Version string

	// HTTPClient overrides the broker HTTP client.
	HTTPClient *http.Client
}

// App wires the chat client together: tool catalog, agent runtime,
// suspension resolver, turn runner and terminal loop.
type App struct {
	config *config.Config
	logger *logger.Logger

	arcadeClient *arcade.Client
	toolExecutor *toolexecutor.ToolExecutor
	mcpCatalog   *toolexecutor.MCPCatalog
	sessions     *session.Store
	runtime      *agent.Runner
	turns        *turn.Runner
	loop         *chat.Loop

	metricsServer  *http.Server
	tracingEnabled bool
}

// New creates the app and loads the tool catalog.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	a := &App{
		config: cfg,
		logger: log,
	}

	if err := tracing.InitOpenTelemetry(serviceName, opts.Version); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry")
	} else {
		a.tracingEnabled = true
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
		}
	}

	if err := a.initializeTools(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initializeRuntime(opts); err != nil {
		a.Close()
		return nil, err
	}

	a.initializeMetrics()

	return a, nil
}

func (a *App) initializeTools(ctx context.Context, opts Options) error {
	log := a.logger.Component("app")

	a.arcadeClient = arcade.NewClient(arcade.Config{
		APIKey:     a.config.Arcade.APIKey,
		BaseURL:    a.config.Arcade.BaseURL,
		HTTPClient: opts.HTTPClient,
		Logger:     a.logger.Component("arcade"),
	})
	a.toolExecutor = toolexecutor.New()

	if len(a.config.Arcade.Toolkits) > 0 || len(a.config.Arcade.Tools) > 0 {
		names, err := a.toolExecutor.RegisterCatalog(ctx, toolexecutor.NewArcadeCatalog(a.arcadeClient, a.logger.Component("catalog")), toolexecutor.CatalogRequest{
			Toolkits: a.config.Arcade.Toolkits,
			Tools:    a.config.Arcade.Tools,
			UserID:   a.config.Arcade.UserID,
			Limit:    a.config.Arcade.Limit,
		})
		if err != nil {
			return fmt.Errorf("failed to load arcade tools: %w", err)
		}
		log.Info().Int("count", len(names)).Msg("Arcade tools registered")
	}

	if a.config.MCP.URL != "" {
		catalog, err := toolexecutor.NewStreamableHTTPCatalog(a.config.MCP.URL, a.config.MCP.Headers, opts.Version, a.logger.Component("mcp"))
		if err != nil {
			return fmt.Errorf("failed to create MCP client: %w", err)
		}
		a.mcpCatalog = catalog

		names, err := a.toolExecutor.RegisterCatalog(ctx, catalog, toolexecutor.CatalogRequest{
			UserID: a.config.Arcade.UserID,
			Limit:  a.config.Arcade.Limit,
		})
		if err != nil {
			return fmt.Errorf("failed to load MCP tools: %w", err)
		}
		log.Info().Int("count", len(names)).Str("url", a.config.MCP.URL).Msg("MCP tools registered")
	}

	if a.toolExecutor.GetToolCount() == 0 {
		log.Warn().Msg("No tools registered; the agent can only chat")
	}
	return nil
}

func (a *App) initializeRuntime(opts Options) error {
	providerName, model := a.config.ProviderAndModel()
	apiKey := a.config.Models.OpenAIAPIKey
	if providerName == "anthropic" {
		apiKey = a.config.Models.AnthropicAPIKey
	}

	provider, err := newProvider(agent.ProviderConfig{Provider: providerName, APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", providerName, err)
	}

	a.sessions = session.NewStore()
	a.runtime, err = agent.NewRunner(agent.Config{
		Provider:      provider,
		Tools:         a.toolExecutor,
		Sessions:      a.sessions,
		Authorizer:    a.arcadeClient,
		Logger:        a.logger.Component("agent"),
		Model:         model,
		Temperature:   a.config.Models.Temperature,
		MaxTokens:     a.config.Models.MaxTokens,
		SystemPrompt:  a.config.Agent.SystemPrompt,
		UserID:        a.config.Arcade.UserID,
		ConfirmTools:  a.config.Agent.ConfirmTools,
		MaxToolRounds: a.config.Agent.MaxToolRounds,
		ToolTimeout:   time.Duration(a.config.Agent.ToolTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runtime: %w", err)
	}

	// The loop and the approval prompt read from the same buffer.
	reader := bufio.NewReader(opts.Stdin)
	printer := chat.NewPrinter(opts.Stdout, chat.DefaultStyles())

	resolver, err := interrupt.NewResolver(interrupt.Config{
		Waiter:   a.arcadeClient,
		Approver: interrupt.NewCLIApprover(reader, opts.Stdout, a.logger.Component("approval")),
		Writer:   opts.Stdout,
		Logger:   a.logger.Component("interrupt"),
	})
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	a.turns, err = turn.New(turn.Config{
		Executor: a.runtime,
		Resolver: resolver,
		Sink:     printer,
		Session:  turn.SessionConfig{Key: a.config.Agent.SessionKey},
		Logger:   a.logger.Component("turn"),
	})
	if err != nil {
		return fmt.Errorf("failed to create turn runner: %w", err)
	}

	a.loop, err = chat.New(chat.Config{
		Turns:   a.turns,
		Reader:  reader,
		Printer: printer,
		Logger:  a.logger.Component("chat"),
	})
	if err != nil {
		return fmt.Errorf("failed to create chat loop: %w", err)
	}
	return nil
}

func (a *App) initializeMetrics() {
	if a.config.Metrics.Addr == "" {
		return
	}
	observability.EnsureRegistered()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metricsServer = &http.Server{
		Addr:              a.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log := a.logger.Component("metrics")
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", a.config.Metrics.Addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", a.config.Metrics.Addr).Msg("Metrics server started")
}

// Run serves the chat until exit, end of input or cancellation of ctx.
func (a *App) Run(ctx context.Context) error {
	log := a.logger.Component("app")
	log.Info().
		Str("agent", a.config.Agent.Name).
		Str("session", a.turns.SessionKey()).
		Int("tools", a.toolExecutor.GetToolCount()).
		Msg("Chat started")

	err := a.loop.Run(ctx)

	if pending := a.sessions.PendingCount(); pending > 0 {
		log.Warn().Int("pending", pending).Msg("Chat finished with an unresolved tool call")
	}
	log.Info().Msg("Chat finished")
	return err
}

// Tools returns the registered tool definitions sorted by name.
func (a *App) Tools() []toolexecutor.ToolDefinition {
	return a.toolExecutor.Definitions()
}

// Close releases the MCP session, metrics listener and tracer provider.
func (a *App) Close() error {
	log := a.logger.Component("app")
	var errs []error

	if a.mcpCatalog != nil {
		if err := a.mcpCatalog.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close MCP client")
			errs = append(errs, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server")
			errs = append(errs, err)
		}
	}

	if a.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shutdown OpenTelemetry")
		}
	}

	if audit := observability.GetAuditLogger(); audit != nil {
		if err := audit.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close audit log")
		}
	}

	return errors.Join(errs...)
}
