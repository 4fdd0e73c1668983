package interrupt

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// CLIApprover asks for approval on the terminal. It reads from the same
// buffered reader as the chat loop, synchronously, so no input is lost
// between the prompt and the next chat line.
type CLIApprover struct {
	reader *bufio.Reader
	writer io.Writer
	logger zerolog.Logger
}

// NewCLIApprover creates a terminal approver.
func NewCLIApprover(reader *bufio.Reader, writer io.Writer, logger zerolog.Logger) *CLIApprover {
	return &CLIApprover{
		reader: reader,
		writer: writer,
		logger: logger,
	}
}

// Approve shows the proposed call and reads a yes/no answer.
// Only "y" and "yes" approve; an empty answer or end of input denies.
func (c *CLIApprover) Approve(ctx context.Context, s Suspension) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.displayApprovalRequest(s)

	line, err := c.reader.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read input: %w", err)
		}
		if line == "" {
			fmt.Fprintln(c.writer)
			c.displayDenied(s.ToolName)
			c.logger.Info().Str("tool", s.ToolName).Msg("No approval input, denying")
			return false, nil
		}
	}

	input := strings.TrimSpace(strings.ToLower(line))
	switch input {
	case "y", "yes":
		c.displayApproved(s.ToolName)
		c.logger.Info().Str("tool", s.ToolName).Msg("Tool call approved via CLI")
		return true, nil
	case "n", "no", "":
		c.displayDenied(s.ToolName)
		c.logger.Info().Str("tool", s.ToolName).Msg("Tool call denied via CLI")
		return false, nil
	default:
		c.displayInvalidInput(input)
		c.logger.Warn().Str("tool", s.ToolName).Str("input", input).Msg("Invalid input for approval")
		return false, nil
	}
}

func (c *CLIApprover) displayApprovalRequest(s Suspension) {
	fmt.Fprintf(c.writer, "⚙️: Tool call %s requires approval\n", s.ToolName)
	if len(s.Input) > 0 {
		data, err := json.MarshalIndent(s.Input, "   ", "  ")
		if err != nil {
			fmt.Fprintf(c.writer, "   Input: %v\n", s.Input)
		} else {
			fmt.Fprintf(c.writer, "   Input: %s\n", data)
		}
	}
	fmt.Fprint(c.writer, "Do you approve this tool call? [y/N]: ")
}

func (c *CLIApprover) displayApproved(tool string) {
	fmt.Fprintf(c.writer, "⚙️: %s approved\n", tool)
}

func (c *CLIApprover) displayDenied(tool string) {
	fmt.Fprintf(c.writer, "⚙️: %s denied\n", tool)
}

func (c *CLIApprover) displayInvalidInput(input string) {
	fmt.Fprintf(c.writer, "⚙️: Invalid input %q, defaulting to deny\n", input)
}
