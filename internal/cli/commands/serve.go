package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapscript/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hot-reload loop behind an HTTP API",
		Long: `Watch and reload scripts like 'run', and expose the runtime over HTTP:

  GET  /healthz          liveness and script count
  GET  /scripts          status of every script
  GET  /scripts/{name}   status of one script
  POST /broadcast/{op}   invoke op on every script (body: JSON array of args)
  GET  /history          lifecycle journal (?script=&limit=)
  GET  /events           lifecycle events as server-sent events`,
		Example: `  # Serve on the default port
  leapscript serve

  # Serve on another port
  leapscript serve --port 9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	return cmd
}

func runServe(cmd *cobra.Command) error {
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

	srv := server.New(server.Config{
		Runtime: m,
		Journal: journal,
		Port:    cc.Cfg.Server.Port,
		Logger:  cc.Logger,
	})
	m.Subscribe(srv.Notifier().Listener())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc.Renderer.Success(fmt.Sprintf("serving %s on http://localhost:%d", cc.Cfg.ScriptsDir, cc.Cfg.Server.Port))

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return m.Run(egctx)
	})
	eg.Go(func() error {
		return srv.Serve(egctx)
	})
	return eg.Wait()
}
