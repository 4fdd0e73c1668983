package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/memeagent/internal/app"
	"github.com/harun/memeagent/internal/config"
	"github.com/harun/memeagent/internal/logger"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat (default)",
	Long: `Start an interactive chat with the meme agent.
Type 'exit' to quit.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	warnConfig(log, cfg)

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{
		Stdin:   cmd.InOrStdin(),
		Stdout:  cmd.OutOrStdout(),
		Version: version,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// loadConfig reads the config and applies the flags the user set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile, envFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if sessionKey != "" {
		cfg.Agent.SessionKey = sessionKey
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// warnConfig logs format findings that do not stop the agent from starting.
func warnConfig(log *logger.Logger, cfg *config.Config) {
	for _, err := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(err).Msg("Configuration warning")
	}
}

// contextOrBackground guards commands executed without a context in tests.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
