package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapscript/internal/server"
	"github.com/spf13/cobra"
)

// NewBroadcastCommand creates the broadcast command.
func NewBroadcastCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast <op> [args...]",
		Short: "Load all scripts and invoke an operation on each",
		Long: `Load every script, then invoke <op> on each script that defines it.

Each argument is parsed as JSON when it is valid JSON, and passed as a
string otherwise. Scripts that fail are reported; the others still run.`,
		Example: `  # Call reset() on every script
  leapscript broadcast reset

  # Call sync("users", 10, True)
  leapscript broadcast sync users 10 true`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(cmd, args[0], parseArgs(args[1:]))
		},
	}

	return cmd
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, a := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(a)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			out = append(out, a)
			continue
		}
		out = append(out, server.NormalizeNumbers(v))
	}
	return out
}

func runBroadcast(cmd *cobra.Command, op string, args []any) error {
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
	res := m.Broadcast(op, args...)

	resp := server.BroadcastResponse{Op: op, Invoked: res.Invoked}
	if len(res.Failed) > 0 {
		resp.Failed = make(map[string]string, len(res.Failed))
		for name, ferr := range res.Failed {
			resp.Failed[name] = ferr.Error()
		}
	}

	r := cc.Renderer
	if wrote, err := r.Structured(resp); wrote {
		if err != nil {
			return err
		}
	} else {
		r.Success(fmt.Sprintf("%s: invoked %d script(s)", op, res.Invoked))
		names := make([]string, 0, len(resp.Failed))
		for name := range resp.Failed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r.Error(fmt.Sprintf("%s: %s", name, resp.Failed[name]))
		}
	}

	if n := len(res.Failed); n > 0 {
		return fmt.Errorf("%s failed in %d script(s)", op, n)
	}
	return nil
}
