package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/memeagent/pkg/agent"
	"github.com/harun/memeagent/pkg/turn"
	"github.com/rs/zerolog"
)

// TurnRunner runs one user turn to completion.
type TurnRunner interface {
	Run(ctx context.Context, input agent.Input) (*turn.Result, error)
}

// Config holds loop configuration
type Config struct {
	Turns   TurnRunner
	Reader  *bufio.Reader
	Printer *Printer
	Logger  zerolog.Logger
}

// Loop is the read-run-print cycle of the chat client.
type Loop struct {
	turns   TurnRunner
	reader  *bufio.Reader
	printer *Printer
	logger  zerolog.Logger
}

// New creates a chat loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Turns == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if cfg.Printer == nil {
		return nil, fmt.Errorf("printer is required")
	}

	return &Loop{
		turns:   cfg.Turns,
		reader:  cfg.Reader,
		printer: cfg.Printer,
		logger:  cfg.Logger.With().Str("component", "chat").Logger(),
	}, nil
}

// IsExit reports whether a line asks to leave the chat.
func IsExit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), "exit")
}

// Run prints the welcome banner and serves lines until exit, end of input
// or cancellation of ctx. Turn failures are reported and the loop goes on.
func (l *Loop) Run(ctx context.Context) error {
	l.printer.println(l.printer.styles.Welcome.Render, welcomeText)
	defer l.printer.println(l.printer.styles.Farewell.Render, farewellText)

	for {
		if ctx.Err() != nil {
			l.printer.print("\n")
			return nil
		}

		l.printer.print(prompt)
		line, eof, err := l.readLine(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				l.printer.print("\n")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if eof && line == "" {
			l.printer.print("\n")
			return nil
		}

		text := strings.TrimRight(line, "\r\n")
		switch {
		case IsExit(text):
			return nil
		case strings.TrimSpace(text) == "":
		default:
			l.runTurn(ctx, text)
		}

		if eof {
			return nil
		}
	}
}

func (l *Loop) runTurn(ctx context.Context, text string) {
	result, err := l.turns.Run(ctx, agent.UserInput(text))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error().Err(err).Msg("Turn failed")
		l.printer.println(l.printer.styles.Error.Render, "Error: "+err.Error())
		return
	}
	l.logger.Debug().
		Int("rounds", result.Rounds).
		Int("suspensions", result.Suspensions()).
		Msg("Turn finished")
}

type readResult struct {
	line string
	err  error
}

// readLine reads one line without holding the loop hostage to a blocked
// terminal once ctx is cancelled. eof is true when input ended.
func (l *Loop) readLine(ctx context.Context) (string, bool, error) {
	done := make(chan readResult, 1)
	go func() {
		line, err := l.reader.ReadString('\n')
		done <- readResult{line: line, err: err}
	}()

	select {
	case res := <-done:
		if errors.Is(res.err, io.EOF) {
			return res.line, true, nil
		}
		return res.line, false, res.err
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}
