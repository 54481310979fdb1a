package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapscript/internal/state"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var (
		scriptName string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the lifecycle journal",
		Long: `Show recorded load, unload and failure events, newest first.

Events are recorded by 'run' and 'serve' when the journal is enabled
(the default; disable with --journal off).`,
		Example: `  # Last 100 events
  leapscript history

  # Last 10 events for one script
  leapscript history --script counter --limit 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, state.Filter{Script: scriptName, Limit: limit})
		},
	}

	cmd.Flags().StringVar(&scriptName, "script", "", "Only show events for this script")
	cmd.Flags().IntVar(&limit, "limit", state.DefaultLimit, "Maximum number of events")

	return cmd
}

func runHistory(cmd *cobra.Command, filter state.Filter) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if filter.Limit < 0 {
		return fmt.Errorf("--limit must be non-negative, got %d", filter.Limit)
	}

	journal, err := cc.OpenJournal()
	if err != nil {
		return err
	}
	if journal == nil {
		return errors.New("journal is disabled")
	}
	defer func() { _ = journal.Close() }()

	entries, err := journal.Entries(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []state.Entry{}
	}

	r := cc.Renderer
	if wrote, err := r.Structured(entries); wrote {
		return err
	}

	r.Header(1, fmt.Sprintf("History (%d events)", len(entries)))
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := e.Error
		if detail == "" && len(e.Bound) > 0 {
			detail = fmt.Sprintf("references: %v", e.Bound)
		}
		rows = append(rows, []string{
			e.At.Local().Format(time.DateTime),
			e.Script,
			e.Kind,
			shortID(e.LoadID),
			firstLine(detail),
		})
	}
	r.Table([]string{"AT", "SCRIPT", "EVENT", "LOAD", "DETAIL"}, rows)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
