package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapscript/internal/cli/output"
	"github.com/leapstack-labs/leapscript/internal/script"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load all scripts and show their status",
		Long: `Load every script in the scripts directory once and show its state,
generation, bound references and last error.

Output adapts to environment:
  - Terminal: Styled, colored output
  - Piped/Scripted: Markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json, yaml`,
		Example: `  # List scripts (auto-detect output format)
  leapscript list

  # List scripts as JSON
  leapscript list --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}

	return cmd
}

func runList(cmd *cobra.Command) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	m, err := cc.NewManager()
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	m.Flush()
	return renderStatuses(cc.Renderer, m.Scripts())
}

func renderStatuses(r *output.Renderer, statuses []script.Status) error {
	if wrote, err := r.Structured(statuses); wrote {
		return err
	}

	r.Header(1, fmt.Sprintf("Scripts (%d total)", len(statuses)))

	styles := r.Styles()
	text := r.EffectiveMode() == output.ModeText
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := st.State.String()
		if text {
			state = styles.State(st.State)
		}
		rows = append(rows, []string{
			st.Name,
			state,
			strconv.FormatUint(st.Generation, 10),
			strings.Join(st.Bound, ", "),
			firstLine(st.Error),
		})
	}
	r.Table([]string{"NAME", "STATE", "GEN", "REFERENCES", "ERROR"}, rows)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
