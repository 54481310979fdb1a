package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapscript/internal/manager"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load scripts and reload them as they change",
		Long: `Load every script in the scripts directory, then watch it and reload
scripts as they are created, edited or removed.

Changes are applied after a quiet period (--cooldown) so a burst of saves
causes a single reload. Stop with Ctrl-C; every script is unloaded on exit.`,
		Example: `  # Watch ./scripts
  leapscript run

  # Watch another directory with a longer quiet period
  leapscript run --scripts-dir ./units --cooldown 2s

  # Load everything once and exit
  leapscript run --once`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Load all scripts once and exit")

	return cmd
}

func runRun(cmd *cobra.Command, once bool) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	// Opened before the manager so shutdown unloads are journaled too.
	journal, err := cc.OpenJournal()
	if err != nil {
		return err
	}
	if journal != nil {
		defer func() { _ = journal.Close() }()
	}

	m, err := cc.NewManager()
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if journal != nil {
		m.Subscribe(journal.Listener())
	}

	if once {
		res := m.Flush()
		return reportTick(cc, res)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cc.Logger.Info("stopped")
	return nil
}

func reportTick(cc *CommandContext, res manager.TickResult) error {
	if wrote, err := cc.Renderer.Structured(res); wrote {
		return err
	}
	cc.Renderer.Success(fmt.Sprintf("%d created, %d updated, %d removed", res.Created, res.Updated, res.Removed))
	if res.Failed > 0 {
		cc.Renderer.Warning(fmt.Sprintf("%d script(s) failed to load", res.Failed))
	}
	return nil
}
