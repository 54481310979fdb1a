// Package commands implements the leapscript subcommands.
package commands

import (
	"errors"
	"log/slog"

	"github.com/leapstack-labs/leapscript/internal/cli/config"
	"github.com/leapstack-labs/leapscript/internal/cli/output"
	"github.com/leapstack-labs/leapscript/internal/manager"
	"github.com/leapstack-labs/leapscript/internal/starlark"
	"github.com/leapstack-labs/leapscript/internal/state"
	"github.com/spf13/cobra"
)

// errNoConfig is returned when a command runs without the root pre-run.
var errNoConfig = errors.New("configuration not loaded")

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext collects the config, logger and renderer stored on the
// command context by the root command.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.GetConfig(cmd.Context())
	if cfg == nil {
		return nil, errNoConfig
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}, nil
}

// NewManager creates a manager over the configured scripts directory with the
// Starlark compiler.
func (c *CommandContext) NewManager() (*manager.Manager, error) {
	if err := c.Cfg.ValidateDirectories(); err != nil {
		return nil, err
	}
	opts := c.Cfg.ManagerOptions()
	opts.Logger = c.Logger
	compiler := starlark.NewCompiler(starlark.Options{
		Logger:   c.Logger,
		MaxSteps: c.Cfg.Starlark.MaxSteps,
	})
	return manager.New(opts, compiler)
}

// OpenJournal opens the configured journal. It returns nil, nil when the
// journal is disabled.
func (c *CommandContext) OpenJournal() (*state.Journal, error) {
	if !c.Cfg.JournalEnabled() {
		return nil, nil
	}
	return state.Open(c.Cfg.JournalPath, c.Logger)
}
