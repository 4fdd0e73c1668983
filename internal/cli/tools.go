package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/harun/memeagent/internal/app"
	"github.com/harun/memeagent/pkg/arcade"
	"github.com/harun/memeagent/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the agent can call",
	Long: `Load the configured toolkits and tools and print them, marking the
ones that need an account connection or your approval.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
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

	a, err := app.New(contextOrBackground(cmd), cfg, log, app.Options{
		Stdin:   cmd.InOrStdin(),
		Stdout:  cmd.OutOrStdout(),
		Version: version,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	return printTools(cmd.OutOrStdout(), a.Tools(), cfg.Agent.ConfirmTools)
}

func printTools(w io.Writer, defs []toolexecutor.ToolDefinition, confirm []string) error {
	if len(defs) == 0 {
		_, err := fmt.Fprintln(w, "No tools registered.")
		return err
	}

	needsApproval := make(map[string]bool, len(confirm))
	for _, name := range confirm {
		needsApproval[arcade.FunctionName(name)] = true
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TOOL", "SOURCE", "GATES", "DESCRIPTION")
	for _, def := range defs {
		var gates []string
		if def.RequiresAuth {
			gates = append(gates, "auth")
		}
		if needsApproval[def.Name] {
			gates = append(gates, "approval")
		}
		t.Row(def.Name, def.Source, strings.Join(gates, ","), firstLine(def.Description))
	}

	_, err := fmt.Fprintln(w, t.String())
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
