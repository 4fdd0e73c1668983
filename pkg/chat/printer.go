package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harun/memeagent/pkg/agent"
	"github.com/harun/memeagent/pkg/session"
)

// Printer writes streamed agent content to the terminal.
type Printer struct {
	mu     sync.Mutex
	writer io.Writer
	styles Styles
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer, styles Styles) *Printer {
	return &Printer{writer: w, styles: styles}
}

// HandleContent prints one content event as "🤖: <text>" lines.
func (p *Printer) HandleContent(ev agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Role {
	case session.RoleTool:
		header := p.styles.Tool.Render(fmt.Sprintf("Tool result (%s):", ev.ToolName))
		fmt.Fprintf(p.writer, "%s%s\n%s\n", agentPrefix, header, ev.Text)
	default:
		if strings.TrimSpace(ev.Text) != "" {
			fmt.Fprintf(p.writer, "%s%s\n", agentPrefix, ev.Text)
		}
		for _, tc := range ev.ToolCalls {
			line := fmt.Sprintf("Tool call %s %s", tc.Name, formatParams(tc.Parameters))
			fmt.Fprintf(p.writer, "%s%s\n", agentPrefix, p.styles.Tool.Render(line))
		}
	}
}

func (p *Printer) println(style func(...string) string, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, style(text))
}

func (p *Printer) print(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.writer, text)
}

func formatParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}
