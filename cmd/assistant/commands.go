package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/assistant-queue/internal/migrate"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// buildServeCmd runs everything in one process.
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue engine and the cron jobs",
		Long: `Run the HTTP intake, the queue engine and the maintenance jobs in a single
process. SIGINT or SIGTERM stops intake first and lets in-flight requests
finish.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, "serve", true)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.close()) }()

			engine := a.engine()
			srv, err := a.server(engine)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.serveHTTP(gctx, srv) })
			g.Go(func() error { return engine.Run(gctx) })
			g.Go(func() error { return a.scheduler().Run(gctx) })
			return g.Wait()
		},
	}
}

func buildAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run only the HTTP intake",
		Long: `Run the HTTP intake. Requests are persisted and answered from Redis; a
separate "worker" process must be running to execute them.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, "api", true)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.close()) }()

			srv, err := a.server(a.intakeQueue())
			if err != nil {
				return err
			}
			return a.serveHTTP(ctx, srv)
		},
	}
}

func buildWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue engine and the cron jobs",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, "worker", true)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.close()) }()

			engine := a.engine()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return engine.Run(gctx) })
			g.Go(func() error { return a.scheduler().Run(gctx) })
			return g.Wait()
		},
	}
}

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		buildMigrateStepCmd("up", "Apply all pending migrations", (*migrate.Migrator).Up),
		buildMigrateStepCmd("down", "Roll back the latest migration", (*migrate.Migrator).Down),
		buildMigrateStepCmd("status", "Show applied and pending migrations", (*migrate.Migrator).Status),
	)
	return cmd
}

func buildMigrateStepCmd(use, short string, step func(*migrate.Migrator, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, "migrate", false)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.close()) }()

			m, err := migrate.New(a.pool, a.logger)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, m.Close()) }()

			return step(m, ctx)
		},
	}
}
